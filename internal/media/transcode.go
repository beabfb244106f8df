package media

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	// Registers the WebP decoder so imaging.Decode accepts webp payloads.
	_ "golang.org/x/image/webp"
)

const (
	// transcodeQuality is the first-pass lossy quality.
	transcodeQuality = 70
	// transcodeQualityAggressive is used when the first pass saves too little.
	transcodeQualityAggressive = 50
	// minReduction is the size-reduction target; below it the transcoder
	// makes exactly one more pass at the aggressive quality.
	minReduction = 0.30
)

// Transcoder re-encodes image payloads to reduce their size before upload.
// It never fails the caller: any decode or encode error falls back to the
// original bytes.
type Transcoder struct {
	logger *slog.Logger
}

func NewTranscoder(log *slog.Logger) *Transcoder {
	if log == nil {
		log = slog.Default()
	}
	return &Transcoder{logger: log.With(slog.String("service", "transcoder"))}
}

// Transcode re-encodes data according to the declared file extension.
// GIFs pass through untouched; a single-frame re-encode would destroy
// animation. The returned slice is the original data whenever the payload
// cannot be processed.
func (t *Transcoder) Transcode(data []byte, fileName string) []byte {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if ext == "gif" {
		return data
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.logger.Warn("decode failed, keeping original",
			slog.String("file", fileName),
			slog.Any("error", err),
		)
		return data
	}

	encoded, err := encodeImage(img, ext, transcodeQuality)
	if err != nil {
		t.logger.Warn("encode failed, keeping original",
			slog.String("file", fileName),
			slog.Any("error", err),
		)
		return data
	}

	reduction := sizeReduction(len(data), len(encoded))
	t.logger.Info("transcoded",
		slog.String("file", fileName),
		slog.Int("original_bytes", len(data)),
		slog.Int("encoded_bytes", len(encoded)),
		slog.Float64("reduction", reduction),
	)

	if reduction < minReduction {
		if ext == "png" {
			// PNG has no quality knob; the first pass is already at the
			// maximum compression level, so a second pass cannot shrink it.
			t.logger.Info("png already at best compression, keeping first pass",
				slog.String("file", fileName),
			)
			return encoded
		}
		// One aggressive pass only; its result is final either way.
		aggressive, err := encodeImage(img, "jpeg", transcodeQualityAggressive)
		if err != nil {
			t.logger.Warn("aggressive encode failed, keeping first pass",
				slog.String("file", fileName),
				slog.Any("error", err),
			)
			return encoded
		}
		t.logger.Info("aggressive pass",
			slog.String("file", fileName),
			slog.Int("encoded_bytes", len(aggressive)),
			slog.Float64("reduction", sizeReduction(len(data), len(aggressive))),
		)
		return aggressive
	}

	return encoded
}

// encodeImage selects the output codec from the declared extension: png and
// webp keep their format, everything else becomes JPEG. The quality argument
// applies to the lossy codecs only; PNG always uses best compression.
func encodeImage(img image.Image, ext string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch ext {
	case "png":
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case "webp":
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	default:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func sizeReduction(original, encoded int) float64 {
	if original <= 0 {
		return 0
	}
	return float64(original-encoded) / float64(original)
}
