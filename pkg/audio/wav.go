// Package audio provides the small set of audio helpers the pipeline needs:
// framing raw PCM into WAV files, reading WAV headers, and sniffing the
// container format of uploaded clips.
//
// All functions operate on complete in-memory buffers; nothing here streams.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavPCMFormat is the WAVE format tag for uncompressed integer PCM.
const wavPCMFormat = 1

// ErrInvalidWAV is returned when a buffer does not contain a RIFF/WAVE file.
var ErrInvalidWAV = errors.New("audio: not a valid WAV file")

// Format describes the sample layout of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// PCM16Mono returns the 16-bit mono format at the given sample rate.
func PCM16Mono(sampleRate int) Format {
	return Format{SampleRate: sampleRate, Channels: 1, BitDepth: 16}
}

// EncodeWAV wraps 16-bit little-endian PCM in a WAV container. A trailing odd
// byte is ignored.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if f.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: encode wav: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	if f.BitDepth == 0 {
		f.BitDepth = 16
	}
	if f.BitDepth != 16 {
		return nil, fmt.Errorf("audio: encode wav: unsupported bit depth %d", f.BitDepth)
	}

	n := len(pcm) / 2
	samples := make([]int, n)
	for i := range n {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
	}

	ws := &seekBuffer{}
	enc := wav.NewEncoder(ws, f.SampleRate, f.BitDepth, f.Channels, wavPCMFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           samples,
		SourceBitDepth: f.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finalise wav: %w", err)
	}
	return ws.Bytes(), nil
}

// WAVInfo summarises a WAV header.
type WAVInfo struct {
	Format
	Duration time.Duration
}

// InspectWAV reads the header of a WAV buffer and reports its format and
// playback duration.
func InspectWAV(data []byte) (WAVInfo, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return WAVInfo{}, ErrInvalidWAV
	}
	d, err := dec.Duration()
	if err != nil {
		return WAVInfo{}, fmt.Errorf("audio: wav duration: %w", err)
	}
	return WAVInfo{
		Format: Format{
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
			BitDepth:   int(dec.BitDepth),
		},
		Duration: d,
	}, nil
}

// seekBuffer is an in-memory io.WriteSeeker. The WAV encoder seeks back to
// patch chunk sizes once all samples are written.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		if end > cap(s.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, s.buf)
			s.buf = grown
		} else {
			s.buf = s.buf[:end]
		}
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("audio: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("audio: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}

func (s *seekBuffer) Bytes() []byte { return s.buf }
