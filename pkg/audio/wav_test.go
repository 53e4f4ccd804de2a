package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/talkinghead/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestEncodeWAV_RoundTripHeader(t *testing.T) {
	// One second of silence at 16 kHz.
	pcm := samplesToBytes(make([]int16, 16000))

	wav, err := audio.EncodeWAV(pcm, audio.PCM16Mono(16000))
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", wav[:12])
	}
	if len(wav) != 44+len(pcm) {
		t.Errorf("len(wav) = %d, want %d", len(wav), 44+len(pcm))
	}

	info, err := audio.InspectWAV(wav)
	if err != nil {
		t.Fatalf("InspectWAV: %v", err)
	}
	if info.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Channels = %d, want 1", info.Channels)
	}
	if info.BitDepth != 16 {
		t.Errorf("BitDepth = %d, want 16", info.BitDepth)
	}
	if info.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", info.Duration)
	}
}

func TestEncodeWAV_PreservesSamples(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 1000, -1000, 32767, -32768})
	wav, err := audio.EncodeWAV(pcm, audio.PCM16Mono(8000))
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	data := wav[44:]
	if string(data) != string(pcm) {
		t.Errorf("sample data changed by encoding")
	}
}

func TestEncodeWAV_InvalidRate(t *testing.T) {
	if _, err := audio.EncodeWAV([]byte{0, 0}, audio.Format{}); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestInspectWAV_NotWAV(t *testing.T) {
	_, err := audio.InspectWAV([]byte("definitely not a wav file"))
	if !errors.Is(err, audio.ErrInvalidWAV) {
		t.Fatalf("err = %v, want ErrInvalidWAV", err)
	}
}

func TestSniff(t *testing.T) {
	wav, err := audio.EncodeWAV(samplesToBytes([]int16{1, 2}), audio.PCM16Mono(16000))
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want audio.Container
	}{
		{"wav", wav, audio.ContainerWAV},
		{"ogg", []byte("OggS\x00\x02rest"), audio.ContainerOGG},
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, audio.ContainerWebM},
		{"flac", []byte("fLaC\x00"), audio.ContainerFLAC},
		{"mp3 id3", []byte("ID3\x04\x00"), audio.ContainerMP3},
		{"mp3 frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, audio.ContainerMP3},
		{"mp4", []byte("\x00\x00\x00\x20ftypM4A "), audio.ContainerMP4},
		{"unknown", []byte("hello"), audio.ContainerWAV},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := audio.Sniff(tt.data); got != tt.want {
				t.Errorf("Sniff = %+v, want %+v", got, tt.want)
			}
		})
	}
}
