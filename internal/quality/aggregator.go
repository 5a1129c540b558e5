// Package quality folds periodic media statistics into a stable snapshot of
// the call's connection details.
package quality

import (
	"github.com/sebas/softline/internal/callevents"
)

// Details is an immutable snapshot of the connection statistics.
type Details struct {
	Quality callevents.NetworkQuality
	Codec   string
	// IceState is the engine's ICE negotiation state.
	IceState string
	// UploadBandwidth and DownloadBandwidth are in kbit/s, -1 until measured.
	UploadBandwidth    float64
	DownloadBandwidth  float64
	Jitter             int // milliseconds
	PacketLossPerMille int
	LatePackets        int64
	RoundTripDelay     int // milliseconds
	EndedCall          bool
}

// Sample is one statistics report from the engine.
type Sample struct {
	Quality            callevents.NetworkQuality
	Codec              string
	IceState           string
	UploadBandwidth    float64
	DownloadBandwidth  float64
	Jitter             int
	PacketLossPerMille int
	LatePackets        int64
	RoundTripDelay     int
}

// HasConnectionInfo reports whether enough is known to show the details.
func (d Details) HasConnectionInfo() bool {
	return d.Quality.IsKnown() &&
		d.UploadBandwidth >= 0 &&
		d.DownloadBandwidth >= 0 &&
		d.Codec != "" &&
		d.IceState != ""
}

// Aggregator owns the connection details of the current call.
// It is not safe for concurrent use.
type Aggregator struct {
	d Details
}

// NewAggregator returns an aggregator with nothing measured.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	a.Reset()
	return a
}

// Details returns the current snapshot.
func (a *Aggregator) Details() Details {
	return a.d
}

// HasConnectionInfo reports whether the current snapshot is complete.
func (a *Aggregator) HasConnectionInfo() bool {
	return a.d.HasConnectionInfo()
}

// Update merges a sample. It returns false if nothing changed or the call
// has already been marked ended.
func (a *Aggregator) Update(s Sample) bool {
	if a.d.EndedCall {
		return false
	}
	next := Details{
		Quality:            s.Quality,
		Codec:              s.Codec,
		IceState:           s.IceState,
		UploadBandwidth:    s.UploadBandwidth,
		DownloadBandwidth:  s.DownloadBandwidth,
		Jitter:             s.Jitter,
		PacketLossPerMille: s.PacketLossPerMille,
		LatePackets:        s.LatePackets,
		RoundTripDelay:     s.RoundTripDelay,
	}
	if next == a.d {
		return false
	}
	a.d = next
	return true
}

// MarkEnded freezes the snapshot. Only the first call reports a change.
func (a *Aggregator) MarkEnded() bool {
	if a.d.EndedCall {
		return false
	}
	a.d.EndedCall = true
	return true
}

// Reset clears the snapshot for a new call.
func (a *Aggregator) Reset() {
	a.d = Details{
		UploadBandwidth:   -1,
		DownloadBandwidth: -1,
	}
}
