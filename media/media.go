// Package media holds file-type tables and image preprocessing shared by the
// capability adapters and skills.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	_ "image/png" // register PNG decoder

	"github.com/nfnt/resize"

	"github.com/aschepis/bpmai/blob"
)

// DefaultJPEGQuality is used by FitImage when no quality is given.
const DefaultJPEGQuality = 85

var imageExtensions = map[string]bool{
	"bmp": true, "gif": true, "icns": true, "ico": true, "jfif": true, "jpe": true,
	"jpeg": true, "jpg": true, "png": true, "pbm": true, "pgm": true, "pnm": true,
	"ppm": true, "tif": true, "tiff": true, "webp": true,
}

var audioExtensions = map[string]bool{
	"flac": true, "mp3": true, "mp4": true, "mpeg": true, "mpga": true, "m4a": true,
	"ogg": true, "wav": true, "webm": true,
}

// IsSupportedImage reports whether the location has an image extension we accept.
func IsSupportedImage(location string) bool {
	return imageExtensions[blob.Extension(location)]
}

// IsSupportedImageOrPDF additionally accepts PDF documents, as OCR providers do.
func IsSupportedImageOrPDF(location string) bool {
	return IsSupportedImage(location) || blob.Extension(location) == "pdf"
}

// IsSupportedAudio reports whether the location has an audio extension we accept.
func IsSupportedAudio(location string) bool {
	return audioExtensions[blob.Extension(location)]
}

// FitImage decodes an image and, when it is wider or taller than maxSide, scales it
// down keeping the aspect ratio. The result is always JPEG.
func FitImage(data []byte, maxSide int, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide > 0 && (w > maxSide || h > maxSide) {
		var nw, nh uint
		if w >= h {
			nw = uint(maxSide)
		} else {
			nh = uint(maxSide)
		}
		// a zero dimension keeps the aspect ratio
		img = resize.Resize(nw, nh, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// FitBlob applies FitImage to an in-memory image blob. Other blobs are returned as is.
func FitBlob(b *blob.Blob, maxSide int) (*blob.Blob, error) {
	if !b.IsImage() || b.Data() == nil {
		return b, nil
	}
	data, err := FitImage(b.Data(), maxSide, DefaultJPEGQuality)
	if err != nil {
		return nil, err
	}
	meta := b.Metadata()
	if _, ok := meta["source"]; !ok && b.Source() != "" {
		meta["source"] = b.Source()
	}
	return blob.FromData(data, "image/jpeg", blob.WithMetadata(meta))
}
