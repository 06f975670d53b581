// Package media inspects raw image bytes.
package media

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

// Info describes an image payload.
type Info struct {
	MimeType string
	Width    int
	Height   int
	Size     int
}

// Inspect returns the MIME type and pixel dimensions of data. declared is the
// content type reported by the source; it wins unless it is empty or generic.
// Dimensions are zero when the format cannot be decoded.
func Inspect(data []byte, declared string) Info {
	info := Info{
		MimeType: ContentType(data, declared),
		Size:     len(data),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		info.Width = cfg.Width
		info.Height = cfg.Height
	}
	return info
}

// ContentType normalizes declared, falling back to sniffing data when the
// declared type is missing or not an image type.
func ContentType(data []byte, declared string) string {
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil && strings.HasPrefix(mediaType, "image/") {
			return mediaType
		}
	}
	return mimetype.Detect(data).String()
}

// Extension returns the file extension used for displayed quote images:
// png for PNG, jpg for everything else.
func Extension(mimeType string) string {
	if mimeType == "image/png" {
		return "png"
	}
	return "jpg"
}
