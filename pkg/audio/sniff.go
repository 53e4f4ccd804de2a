package audio

import "bytes"

// Container identifies an audio container by its magic bytes.
type Container struct {
	// Ext is the conventional file extension including the dot.
	Ext string
	// MIMEType is the content type transcription services expect.
	MIMEType string
}

var (
	ContainerWAV  = Container{Ext: ".wav", MIMEType: "audio/wav"}
	ContainerMP3  = Container{Ext: ".mp3", MIMEType: "audio/mpeg"}
	ContainerOGG  = Container{Ext: ".ogg", MIMEType: "audio/ogg"}
	ContainerWebM = Container{Ext: ".webm", MIMEType: "audio/webm"}
	ContainerFLAC = Container{Ext: ".flac", MIMEType: "audio/flac"}
	ContainerMP4  = Container{Ext: ".m4a", MIMEType: "audio/mp4"}
)

// Sniff guesses the container of data from its leading bytes. Browsers record
// WebM/Opus by default, Safari records MP4; unknown input is reported as WAV
// so that servers which only accept WAV get a chance to reject it themselves.
func Sniff(data []byte) Container {
	switch {
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return ContainerWAV
	case bytes.HasPrefix(data, []byte("OggS")):
		return ContainerOGG
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return ContainerWebM
	case bytes.HasPrefix(data, []byte("fLaC")):
		return ContainerFLAC
	case bytes.HasPrefix(data, []byte("ID3")),
		len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return ContainerMP3
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return ContainerMP4
	}
	return ContainerWAV
}
