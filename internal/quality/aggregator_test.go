package quality

import (
	"testing"

	"github.com/sebas/softline/internal/callevents"
)

func fullSample() Sample {
	return Sample{
		Quality:            callevents.QualityGood,
		Codec:              "PCMU",
		IceState:           "not activated",
		UploadBandwidth:    64,
		DownloadBandwidth:  64,
		Jitter:             3,
		PacketLossPerMille: 0,
		RoundTripDelay:     40,
	}
}

func TestUpdateIsEqualityGated(t *testing.T) {
	a := NewAggregator()

	if !a.Update(fullSample()) {
		t.Fatal("first Update() = false, want true")
	}
	if a.Update(fullSample()) {
		t.Error("identical Update() = true, want false")
	}

	s := fullSample()
	s.Jitter = 9
	if !a.Update(s) {
		t.Error("Update() with new jitter = false, want true")
	}
	if got := a.Details().Jitter; got != 9 {
		t.Errorf("Jitter = %d, want 9", got)
	}
}

func TestHasConnectionInfo(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Sample)
		want   bool
	}{
		{"complete", func(*Sample) {}, true},
		{"unknown quality", func(s *Sample) { s.Quality = callevents.QualityUnknown }, false},
		{"unmeasured upload", func(s *Sample) { s.UploadBandwidth = -1 }, false},
		{"unmeasured download", func(s *Sample) { s.DownloadBandwidth = -1 }, false},
		{"no codec", func(s *Sample) { s.Codec = "" }, false},
		{"no ice state", func(s *Sample) { s.IceState = "" }, false},
		{"zero bandwidth", func(s *Sample) { s.UploadBandwidth, s.DownloadBandwidth = 0, 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator()
			s := fullSample()
			tt.mutate(&s)
			a.Update(s)
			if got := a.HasConnectionInfo(); got != tt.want {
				t.Errorf("HasConnectionInfo() = %v, want %v", got, tt.want)
			}
		})
	}

	if NewAggregator().HasConnectionInfo() {
		t.Error("fresh aggregator has connection info")
	}
}

func TestMarkEndedFreezes(t *testing.T) {
	a := NewAggregator()
	a.Update(fullSample())

	if !a.MarkEnded() {
		t.Fatal("MarkEnded() = false, want true")
	}
	if a.MarkEnded() {
		t.Error("second MarkEnded() = true, want false")
	}

	s := fullSample()
	s.Jitter = 100
	if a.Update(s) {
		t.Error("Update() after MarkEnded() = true, want false")
	}
	if !a.Details().EndedCall {
		t.Error("EndedCall = false, want true")
	}

	a.Reset()
	if a.Details().EndedCall {
		t.Error("EndedCall after Reset() = true, want false")
	}
	if got := a.Details().UploadBandwidth; got != -1 {
		t.Errorf("UploadBandwidth after Reset() = %v, want -1", got)
	}
}
