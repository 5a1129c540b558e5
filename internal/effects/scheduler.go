package effects

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/softline/internal/clock"
	"github.com/sebas/softline/internal/metrics"
)

// Player plays one effect clip.
type Player interface {
	// Prepare buffers the clip so a later Play starts without delay.
	Prepare() error
	// Play starts the clip from the beginning. done is called once when the
	// clip finishes or playback fails, never before Play returns.
	Play(done func(error)) error
	// Stop halts playback. The player may be played again.
	Stop()
	Close() error
}

// PlayerFactory creates a player for an effect kind.
type PlayerFactory interface {
	NewPlayer(kind Kind) (Player, error)
}

type handle struct {
	kind        Kind
	player      Player
	requestedAt time.Time
	startedAt   time.Time
	prepared    bool
	playing     bool
	replay      clock.Timer
}

// Scheduler keeps at most one live player per effect kind. All methods are
// safe for concurrent use; player completions arrive on foreign goroutines.
type Scheduler struct {
	mu      sync.Mutex
	factory PlayerFactory
	clock   clock.Clock
	logger  *slog.Logger
	handles map[Kind]*handle
}

// NewScheduler creates a scheduler that draws players from factory.
func NewScheduler(factory PlayerFactory, c clock.Clock, logger *slog.Logger) *Scheduler {
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		factory: factory,
		clock:   c,
		logger:  logger,
		handles: make(map[Kind]*handle),
	}
}

// Start plays kind, replaying it until stopped. Starting a kind that is
// already playing does nothing; starting a prepared kind plays it.
func (s *Scheduler) Start(kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[kind]; ok {
		if h.prepared && !h.playing {
			s.playLocked(h)
		}
		return
	}

	h := s.newHandleLocked(kind)
	if h == nil {
		return
	}
	s.playLocked(h)
}

// Prepare buffers kind without playing it.
func (s *Scheduler) Prepare(kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handles[kind]; ok {
		return
	}
	h := s.newHandleLocked(kind)
	if h == nil {
		return
	}
	if err := h.player.Prepare(); err != nil {
		s.discardLocked(h, err)
		return
	}
	h.prepared = true
	s.logger.Debug("[Effects] Prepared", "kind", kind.String())
}

// StartPrepared plays a prepared kind. Without a prepared handle it behaves
// like Start.
func (s *Scheduler) StartPrepared(kind Kind) {
	s.Start(kind)
}

// Stop halts kind and releases its player. Stopping an idle kind is a no-op.
func (s *Scheduler) Stop(kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(kind)
}

// StopAll stops every kind.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range Kinds {
		s.stopLocked(kind)
	}
}

// IsPlaying reports whether kind is currently playing.
func (s *Scheduler) IsPlaying(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[kind]
	return ok && h.playing
}

// Active reports whether kind has a live handle, playing or prepared.
func (s *Scheduler) Active(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[kind]
	return ok
}

func (s *Scheduler) newHandleLocked(kind Kind) *handle {
	player, err := s.factory.NewPlayer(kind)
	if err != nil {
		s.logger.Error("[Effects] Failed to create player", "kind", kind.String(), "error", err)
		metrics.RecordEffectError(kind.String())
		return nil
	}
	h := &handle{
		kind:        kind,
		player:      player,
		requestedAt: s.clock.Now(),
	}
	s.handles[kind] = h
	return h
}

func (s *Scheduler) playLocked(h *handle) {
	h.startedAt = s.clock.Now()
	h.playing = true
	if err := h.player.Play(func(err error) { s.onDone(h, err) }); err != nil {
		s.discardLocked(h, err)
		return
	}
	metrics.RecordEffectStart(h.kind.String())
	s.logger.Debug("[Effects] Playing", "kind", h.kind.String())
}

// onDone replays a finished clip, padded to the minimum play time.
func (s *Scheduler) onDone(h *handle, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handles[h.kind] != h || !h.playing {
		return
	}
	if err != nil {
		s.discardLocked(h, err)
		return
	}

	delay := h.startedAt.Add(MinPlayTime).Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	h.replay = s.clock.AfterFunc(delay, func() { s.replay(h) })
}

func (s *Scheduler) replay(h *handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handles[h.kind] != h {
		return
	}
	h.replay = nil
	s.playLocked(h)
}

func (s *Scheduler) stopLocked(kind Kind) {
	h, ok := s.handles[kind]
	if !ok {
		return
	}
	delete(s.handles, kind)
	if h.replay != nil {
		h.replay.Stop()
	}
	h.player.Stop()
	if err := h.player.Close(); err != nil {
		s.logger.Warn("[Effects] Failed to close player", "kind", kind.String(), "error", err)
	}

	s.logger.Debug("[Effects] Stopped",
		"kind", kind.String(),
		"played", h.playing,
		"elapsed", s.clock.Now().Sub(h.requestedAt).String(),
	)
}

// discardLocked drops a failed handle without touching other kinds.
func (s *Scheduler) discardLocked(h *handle, err error) {
	s.logger.Error("[Effects] Player failed", "kind", h.kind.String(), "error", err)
	metrics.RecordEffectError(h.kind.String())
	if s.handles[h.kind] == h {
		delete(s.handles, h.kind)
	}
	if h.replay != nil {
		h.replay.Stop()
	}
	h.player.Stop()
	_ = h.player.Close()
}
