package media

import "bytes"

// Kind classifies a payload by its byte signature, independent of the
// declared filename or content type.
type Kind string

const (
	KindImage   Kind = "image"
	KindAudio   Kind = "audio"
	KindVideo   Kind = "video"
	KindUnknown Kind = "unknown"
)

var (
	sigEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	sigPNG  = []byte{0x89, 'P', 'N', 'G'}
)

// DetectKind inspects up to the first 12 bytes of data and returns the media
// kind. First matching rule wins; inputs shorter than a rule's window never
// match it. Unrecognized data yields KindUnknown.
func DetectKind(data []byte) Kind {
	switch {
	// MP4 family: "ftyp" box at offset 4.
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return KindVideo
	// WebM/MKV: EBML header.
	case len(data) >= 4 && bytes.Equal(data[:4], sigEBML):
		return KindVideo
	case len(data) >= 11 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:11], []byte("AVI")):
		return KindVideo
	// MPEG audio frame sync.
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return KindAudio
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")):
		return KindAudio
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("OggS")):
		return KindAudio
	// JPEG SOI marker.
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return KindImage
	case len(data) >= 4 && bytes.Equal(data[:4], sigPNG):
		return KindImage
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("GIF")):
		return KindImage
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return KindImage
	default:
		return KindUnknown
	}
}
