package effects

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/sebas/softline/internal/clock"
)

// DevicePlayers plays clips on the default audio output through miniaudio.
type DevicePlayers struct {
	audioContext *malgo.AllocatedContext
	clips        map[Kind]Clip
}

// NewDevicePlayers initializes the audio backend and loads a clip for every
// kind from soundsDir.
func NewDevicePlayers(soundsDir string, logger *slog.Logger) (*DevicePlayers, error) {
	if logger == nil {
		logger = slog.Default()
	}

	clips := make(map[Kind]Clip, len(Kinds))
	for _, kind := range Kinds {
		clip, err := LoadClip(soundsDir, kind)
		if err != nil {
			return nil, fmt.Errorf("load %s clip: %w", kind, err)
		}
		clips[kind] = clip
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("[Effects] miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	return &DevicePlayers{audioContext: audioCtx, clips: clips}, nil
}

// NewPlayer implements PlayerFactory.
func (d *DevicePlayers) NewPlayer(kind Kind) (Player, error) {
	clip, ok := d.clips[kind]
	if !ok {
		return nil, fmt.Errorf("no clip for %s", kind)
	}
	return &devicePlayer{audioContext: d.audioContext, clip: clip}, nil
}

// Close releases the audio backend.
func (d *DevicePlayers) Close() error {
	err := d.audioContext.Uninit()
	d.audioContext.Free()
	return err
}

type devicePlayer struct {
	audioContext *malgo.AllocatedContext

	mu       sync.Mutex
	clip     Clip
	device   *malgo.Device
	pos      int
	done     func(error)
	finished bool
}

func (p *devicePlayer) Prepare() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initLocked()
}

func (p *devicePlayer) initLocked() error {
	if p.device != nil {
		return nil
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = ClipSampleRate
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(p.audioContext.Context, cfg, malgo.DeviceCallbacks{
		Data: p.fill,
	})
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	p.device = device
	return nil
}

func (p *devicePlayer) Play(done func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.initLocked(); err != nil {
		return err
	}
	p.pos = 0
	p.finished = false
	p.done = done
	if p.device.IsStarted() {
		return nil
	}
	if err := p.device.Start(); err != nil {
		return fmt.Errorf("start playback device: %w", err)
	}
	return nil
}

// fill runs on the audio thread.
func (p *devicePlayer) fill(out, _ []byte, _ uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := copy(out, p.clip.PCM[min(p.pos, len(p.clip.PCM)):])
	p.pos += n
	clear(out[n:])

	if p.pos >= len(p.clip.PCM) && !p.finished {
		p.finished = true
		// the device cannot be stopped from its own callback
		if done := p.done; done != nil {
			go done(nil)
		}
	}
}

func (p *devicePlayer) Stop() {
	p.mu.Lock()
	device := p.device
	p.done = nil
	p.mu.Unlock()

	if device != nil && device.IsStarted() {
		_ = device.Stop()
	}
}

func (p *devicePlayer) Close() error {
	p.mu.Lock()
	device := p.device
	p.device = nil
	p.mu.Unlock()

	if device == nil {
		return nil
	}
	device.Uninit()
	return nil
}

var _ PlayerFactory = (*DevicePlayers)(nil)

// SilentPlayers stands in for DevicePlayers on hosts without an audio
// device. Its players finish when the clip would have finished.
type SilentPlayers struct {
	clock clock.Clock
	clips map[Kind]Clip
}

// NewSilentPlayers uses the built-in clip lengths.
func NewSilentPlayers(c clock.Clock) *SilentPlayers {
	clips := make(map[Kind]Clip, len(Kinds))
	for _, kind := range Kinds {
		clips[kind] = SynthesizeClip(kind)
	}
	return &SilentPlayers{clock: c, clips: clips}
}

// NewPlayer implements PlayerFactory.
func (s *SilentPlayers) NewPlayer(kind Kind) (Player, error) {
	clip, ok := s.clips[kind]
	if !ok {
		return nil, fmt.Errorf("no clip for %s", kind)
	}
	return &silentPlayer{clock: s.clock, length: time.Duration(clip.Duration() * float64(time.Second))}, nil
}

type silentPlayer struct {
	clock  clock.Clock
	length time.Duration

	mu    sync.Mutex
	timer clock.Timer
}

func (p *silentPlayer) Prepare() error { return nil }

func (p *silentPlayer) Play(done func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = p.clock.AfterFunc(p.length, func() { done(nil) })
	return nil
}

func (p *silentPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *silentPlayer) Close() error {
	p.Stop()
	return nil
}

var _ PlayerFactory = (*SilentPlayers)(nil)
