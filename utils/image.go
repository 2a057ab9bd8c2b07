package utils

import (
	"bytes"
	"errors"
	"strings"

	"github.com/disintegration/imaging"
)

const MaxAttachmentSizeBytes int64 = 5 * 1024 * 1024

var ErrAttachmentTooLarge = errors.New("file size exceeds 5MB limit")

var imageFormats = map[string]imaging.Format{
	"image/jpeg": imaging.JPEG,
	"image/jpg":  imaging.JPEG,
	"image/png":  imaging.PNG,
}

func IsImageMimeType(mimeType string) bool {
	_, ok := imageFormats[strings.ToLower(strings.TrimSpace(mimeType))]
	return ok
}

// ShrinkImage fits JPEG/PNG data inside maxPx x maxPx. Other content types and
// images already small enough are returned unchanged.
func ShrinkImage(data []byte, mimeType string, maxPx int) ([]byte, error) {
	if int64(len(data)) > MaxAttachmentSizeBytes {
		return nil, ErrAttachmentTooLarge
	}
	format, ok := imageFormats[strings.ToLower(strings.TrimSpace(mimeType))]
	if !ok || maxPx <= 0 {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxPx && bounds.Dy() <= maxPx {
		return data, nil
	}

	resized := imaging.Fit(img, maxPx, maxPx, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(85)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
