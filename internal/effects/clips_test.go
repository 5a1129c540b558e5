package effects

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/zaf/g711"
)

func writeWAV(t *testing.T, path string, rate uint32, channels uint16, samples []int16) {
	t.Helper()

	var data bytes.Buffer
	for _, s := range samples {
		_ = binary.Write(&data, binary.LittleEndian, s)
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+data.Len()))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, channels)
	_ = binary.Write(&buf, binary.LittleEndian, rate)
	_ = binary.Write(&buf, binary.LittleEndian, rate*uint32(channels)*2)
	_ = binary.Write(&buf, binary.LittleEndian, channels*2)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("LIST")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(4))
	buf.WriteString("INFO")
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(data.Len()))
	buf.Write(data.Bytes())

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

func TestLoadClipWAVResamplesToMono8k(t *testing.T) {
	dir := t.TempDir()
	// 16 kHz stereo, 1600 frames = 100ms
	samples := make([]int16, 1600*2)
	for i := range samples {
		samples[i] = 1000
	}
	writeWAV(t, filepath.Join(dir, "ringtone.wav"), 16000, 2, samples)

	clip, err := LoadClip(dir, Ringtone)
	if err != nil {
		t.Fatalf("LoadClip() error = %v", err)
	}
	frames := len(clip.PCM) / 2
	if frames < 790 || frames > 800 {
		t.Errorf("frames = %d, want about 800", frames)
	}
	if got := int16(binary.LittleEndian.Uint16(clip.PCM)); got != 1000 {
		t.Errorf("first sample = %d, want 1000", got)
	}
}

func TestLoadClipUlaw(t *testing.T) {
	dir := t.TempDir()
	pcm := make([]byte, 320)
	ulaw := g711.EncodeUlaw(pcm)
	if err := os.WriteFile(filepath.Join(dir, "unencrypted_call.ulaw"), ulaw, 0o644); err != nil {
		t.Fatal(err)
	}

	clip, err := LoadClip(dir, UnencryptedCall)
	if err != nil {
		t.Fatalf("LoadClip() error = %v", err)
	}
	if len(clip.PCM) != 320 {
		t.Errorf("len(PCM) = %d, want 320", len(clip.PCM))
	}
}

func TestLoadClipFallsBackToTone(t *testing.T) {
	clip, err := LoadClip(t.TempDir(), EncryptionHandshake)
	if err != nil {
		t.Fatalf("LoadClip() error = %v", err)
	}
	want := SynthesizeClip(EncryptionHandshake)
	if !bytes.Equal(clip.PCM, want.PCM) {
		t.Error("fallback clip differs from built-in tone")
	}
}

func TestLoadClipRejectsBadWAV(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ringtone.wav"), []byte("not a wav"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClip(dir, Ringtone); err == nil {
		t.Error("LoadClip() error = nil, want error")
	}
}

func TestSynthesizedClipsAreShorterThanMinPlayTime(t *testing.T) {
	for _, kind := range Kinds {
		d := SynthesizeClip(kind).Duration()
		if d <= 0 {
			t.Errorf("%v: duration = %v, want > 0", kind, d)
		}
		if d >= MinPlayTime.Seconds() {
			t.Errorf("%v: duration = %v, want < %v", kind, d, MinPlayTime.Seconds())
		}
	}
}
