package effects

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/zaf/g711"
)

// ClipSampleRate is the rate of every loaded clip.
const ClipSampleRate = 8000

// Clip is mono 16-bit little-endian PCM at ClipSampleRate.
type Clip struct {
	PCM []byte
}

// Duration returns the playing time of the clip.
func (c Clip) Duration() float64 {
	return float64(len(c.PCM)/2) / ClipSampleRate
}

// wavFile is the parsed content of a PCM WAV file.
type wavFile struct {
	sampleRate    uint32
	channels      uint16
	bitsPerSample uint16
	data          []byte
}

// LoadClip loads the clip for kind from dir, trying <kind>.wav then
// <kind>.ulaw. Without a file the built-in tone is used.
func LoadClip(dir string, kind Kind) (Clip, error) {
	if dir == "" {
		return SynthesizeClip(kind), nil
	}

	wavPath := filepath.Join(dir, kind.String()+".wav")
	if data, err := os.ReadFile(wavPath); err == nil {
		w, err := parseWAV(data)
		if err != nil {
			return Clip{}, fmt.Errorf("%s: %w", wavPath, err)
		}
		pcm, err := toMono8k(w)
		if err != nil {
			return Clip{}, fmt.Errorf("%s: %w", wavPath, err)
		}
		slog.Debug("[Effects] Loaded WAV clip", "kind", kind.String(), "file", wavPath, "bytes", len(pcm))
		return Clip{PCM: pcm}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Clip{}, fmt.Errorf("read %s: %w", wavPath, err)
	}

	ulawPath := filepath.Join(dir, kind.String()+".ulaw")
	if data, err := os.ReadFile(ulawPath); err == nil {
		slog.Debug("[Effects] Loaded u-law clip", "kind", kind.String(), "file", ulawPath, "bytes", len(data))
		return Clip{PCM: g711.DecodeUlaw(data)}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Clip{}, fmt.Errorf("read %s: %w", ulawPath, err)
	}

	return SynthesizeClip(kind), nil
}

// parseWAV walks the RIFF chunks of a PCM WAV file.
func parseWAV(data []byte) (*wavFile, error) {
	r := bytes.NewReader(data)

	var riff struct {
		ID   [4]byte
		Size uint32
		Wave [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return nil, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff.ID[:]) != "RIFF" || string(riff.Wave[:]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}

	w := &wavFile{}
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("data chunk not found")
			}
			return nil, fmt.Errorf("read chunk header: %w", err)
		}

		switch string(chunk.ID[:]) {
		case "fmt ":
			var format struct {
				AudioFormat   uint16
				Channels      uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if err := binary.Read(r, binary.LittleEndian, &format); err != nil {
				return nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			if format.AudioFormat != 1 {
				return nil, fmt.Errorf("only PCM audio format (1) is supported, got %d", format.AudioFormat)
			}
			w.channels = format.Channels
			w.sampleRate = format.SampleRate
			w.bitsPerSample = format.BitsPerSample
			if extra := int64(chunk.Size) - 16; extra > 0 {
				if _, err := r.Seek(extra, io.SeekCurrent); err != nil {
					return nil, fmt.Errorf("skip fmt extension: %w", err)
				}
			}

		case "data":
			if w.sampleRate == 0 {
				return nil, errors.New("data chunk before fmt chunk")
			}
			w.data = make([]byte, chunk.Size)
			if _, err := io.ReadFull(r, w.data); err != nil {
				return nil, fmt.Errorf("read data chunk: %w", err)
			}
			return w, nil

		default:
			if _, err := r.Seek(int64(chunk.Size), io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("skip chunk %q: %w", chunk.ID[:], err)
			}
		}
	}
}

// toMono8k downmixes and resamples 16-bit PCM to mono ClipSampleRate.
func toMono8k(w *wavFile) ([]byte, error) {
	if w.bitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bits per sample: %d", w.bitsPerSample)
	}

	var mono []int16
	switch w.channels {
	case 1:
		mono = make([]int16, len(w.data)/2)
		for i := range mono {
			mono[i] = int16(binary.LittleEndian.Uint16(w.data[i*2:]))
		}
	case 2:
		mono = make([]int16, len(w.data)/4)
		for i := range mono {
			left := int16(binary.LittleEndian.Uint16(w.data[i*4:]))
			right := int16(binary.LittleEndian.Uint16(w.data[i*4+2:]))
			mono[i] = int16((int32(left) + int32(right)) / 2)
		}
	default:
		return nil, fmt.Errorf("unsupported number of channels: %d", w.channels)
	}

	if w.sampleRate != ClipSampleRate {
		mono = resample(mono, float64(w.sampleRate)/ClipSampleRate)
	}

	out := make([]byte, len(mono)*2)
	for i, s := range mono {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out, nil
}

// resample converts by linear interpolation; ratio is input rate / output rate.
func resample(in []int16, ratio float64) []int16 {
	n := int(float64(len(in)) / ratio)
	out := make([]int16, 0, n)
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx+1 >= len(in) {
			break
		}
		frac := pos - float64(idx)
		out = append(out, int16(float64(in[idx])*(1-frac)+float64(in[idx+1])*frac))
	}
	return out
}

// toneSegment is frequency in Hz for a duration in milliseconds; 0 Hz is silence.
type toneSegment struct {
	freq float64
	ms   int
}

var builtinTones = map[Kind][]toneSegment{
	Ringtone:               {{425, 1000}},
	WaitingForContact:      {{425, 400}},
	EncryptionHandshake:    {{660, 120}, {0, 60}, {880, 120}},
	UnencryptedCall:        {{880, 200}, {0, 200}, {880, 200}, {0, 200}, {880, 200}},
	NativeCallInterruption: {{1400, 100}},
}

// SynthesizeClip renders the built-in tone for kind.
func SynthesizeClip(kind Kind) Clip {
	var samples []int16
	for _, seg := range builtinTones[kind] {
		n := ClipSampleRate * seg.ms / 1000
		for i := 0; i < n; i++ {
			var v float64
			if seg.freq > 0 {
				v = 0.3 * math.Sin(2*math.Pi*seg.freq*float64(i)/ClipSampleRate)
			}
			samples = append(samples, int16(v*math.MaxInt16))
		}
	}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return Clip{PCM: pcm}
}
