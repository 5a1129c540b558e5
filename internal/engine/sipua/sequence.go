package sipua

import "time"

// receiveTracker follows the inbound RTP stream of a call: sequence gaps,
// late packets and the interarrival jitter estimate of RFC 3550 6.4.1.
type receiveTracker struct {
	initialized bool
	lastSeq     uint16
	cycles      uint32
	lost        uint64
	late        uint64
	received    uint64

	clockRate   uint32
	haveTransit bool
	lastTransit int64
	jitter      float64 // timestamp units
}

func newReceiveTracker(clockRate uint32) *receiveTracker {
	return &receiveTracker{clockRate: clockRate}
}

// update records one packet. arrival is the local receive time.
func (s *receiveTracker) update(seq uint16, rtpTimestamp uint32, arrival time.Time) (extended uint32, lost int) {
	s.received++
	s.updateJitter(rtpTimestamp, arrival)

	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		return uint32(seq), 0
	}

	diff := int16(seq - s.lastSeq)
	switch {
	case diff > 1:
		lost = int(diff) - 1
		s.lost += uint64(lost)
	case diff <= 0:
		// Reordered or duplicated: it was counted as lost when the gap opened.
		s.late++
		if s.lost > 0 {
			s.lost--
		}
		return (s.cycles << 16) | uint32(seq), 0
	}

	if s.lastSeq > 0xF000 && seq < 0x1000 {
		s.cycles++
	}
	s.lastSeq = seq
	return (s.cycles << 16) | uint32(seq), lost
}

func (s *receiveTracker) updateJitter(rtpTimestamp uint32, arrival time.Time) {
	if s.clockRate == 0 {
		return
	}
	arrivalUnits := arrival.UnixNano() * int64(s.clockRate) / int64(time.Second)
	transit := arrivalUnits - int64(rtpTimestamp)
	if !s.haveTransit {
		s.haveTransit = true
		s.lastTransit = transit
		return
	}
	d := transit - s.lastTransit
	s.lastTransit = transit
	if d < 0 {
		d = -d
	}
	s.jitter += (float64(d) - s.jitter) / 16
}

// stats returns cumulative counters.
func (s *receiveTracker) stats() (received, lost, late uint64) {
	return s.received, s.lost, s.late
}

// lossRate returns the loss as a fraction of expected packets.
func (s *receiveTracker) lossRate() float64 {
	total := s.received + s.lost
	if total == 0 {
		return 0
	}
	return float64(s.lost) / float64(total)
}

// jitterDuration converts the estimate to wall time.
func (s *receiveTracker) jitterDuration() time.Duration {
	if s.clockRate == 0 {
		return 0
	}
	return time.Duration(s.jitter * float64(time.Second) / float64(s.clockRate))
}
