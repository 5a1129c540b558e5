package sipua

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/zaf/g711"
)

const (
	codecName     = "PCMU"
	clockRate     = 8000
	frameDuration = 20 * time.Millisecond
	frameSamples  = clockRate * int(frameDuration) / int(time.Second)
)

// mediaStats is a snapshot of one call's RTP streams.
type mediaStats struct {
	Received   uint64
	Lost       uint64
	Late       uint64
	LossRate   float64
	Jitter     time.Duration
	BytesSent  uint64
	BytesRecvd uint64
}

// mediaSession sends a paced PCMU stream and measures the inbound one.
type mediaSession struct {
	conn *net.UDPConn
	log  *slog.Logger

	mu       sync.Mutex
	remote   *net.UDPAddr
	tracker  *receiveTracker
	paused   bool
	muted    bool
	sent     uint64
	recvd    uint64
	started  bool
	closed   bool
	ssrc     uint32
	seq      uint16
	ts       uint32
	stop     chan struct{}
	finished sync.WaitGroup
}

// listenMedia binds the local RTP socket on ip with an ephemeral port.
func listenMedia(ip string, log *slog.Logger) (*mediaSession, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(ip)})
	if err != nil {
		return nil, err
	}
	return &mediaSession{
		conn:    conn,
		log:     log,
		tracker: newReceiveTracker(clockRate),
		ssrc:    randomUint32(),
		seq:     uint16(randomUint32()),
		ts:      randomUint32(),
		stop:    make(chan struct{}),
	}, nil
}

// LocalPort is the bound RTP port.
func (m *mediaSession) LocalPort() int {
	return m.conn.LocalAddr().(*net.UDPAddr).Port
}

// Start begins streaming to remote. Calling it again only moves the target.
func (m *mediaSession) Start(remote *net.UDPAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote = remote
	if m.started || m.closed {
		return
	}
	m.started = true
	m.finished.Add(2)
	go m.readLoop()
	go m.writeLoop()
}

func (m *mediaSession) SetPaused(paused bool) {
	m.mu.Lock()
	m.paused = paused
	m.mu.Unlock()
}

// SetMuted stops sending the local stream. Sequence numbers and timestamps
// keep advancing so the peer sees a gap, not a reset.
func (m *mediaSession) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
}

func (m *mediaSession) Stats() mediaStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	received, lost, late := m.tracker.stats()
	return mediaStats{
		Received:   received,
		Lost:       lost,
		Late:       late,
		LossRate:   m.tracker.lossRate(),
		Jitter:     m.tracker.jitterDuration(),
		BytesSent:  m.sent,
		BytesRecvd: m.recvd,
	}
}

// Close stops both loops and releases the socket.
func (m *mediaSession) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	err := m.conn.Close()
	m.finished.Wait()
	return err
}

func (m *mediaSession) readLoop() {
	defer m.finished.Done()
	buf := make([]byte, 1500)
	for {
		n, _, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				m.log.Debug("[Media] Read failed", "error", err)
			}
			return
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		m.mu.Lock()
		m.tracker.update(pkt.SequenceNumber, pkt.Timestamp, time.Now())
		m.recvd += uint64(n)
		m.mu.Unlock()
	}
}

func (m *mediaSession) writeLoop() {
	defer m.finished.Done()
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		remote, silent := m.remote, m.paused || m.muted
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    0,
				SequenceNumber: m.seq,
				Timestamp:      m.ts,
				SSRC:           m.ssrc,
			},
			Payload: silenceFrame,
		}
		m.seq++
		m.ts += uint32(frameSamples)
		m.mu.Unlock()

		if silent || remote == nil {
			continue
		}
		data, err := pkt.Marshal()
		if err != nil {
			continue
		}
		n, err := m.conn.WriteToUDP(data, remote)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.log.Debug("[Media] Write failed", "error", err)
			continue
		}
		m.mu.Lock()
		m.sent += uint64(n)
		m.mu.Unlock()
	}
}

// silenceFrame is one encoded frame of silence. There is no capture device;
// the local source is always silent.
var silenceFrame = g711.EncodeUlaw(make([]byte, frameSamples*2))

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x12345678
	}
	return binary.BigEndian.Uint32(b[:])
}

// qualityScore rates the inbound stream from 0 (unusable) to 5. It returns
// -1 until packets have been seen.
func qualityScore(s mediaStats) float64 {
	if s.Received == 0 {
		return -1
	}
	score := 4.5
	score -= s.LossRate * 100 * 0.25
	score -= float64(s.Jitter/time.Millisecond) / 40
	switch {
	case score < 0:
		return 0
	case score > 5:
		return 5
	}
	return score
}
