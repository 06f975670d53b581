package media

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestInspect_PNG(t *testing.T) {
	data := testPNG(t, 12, 7)
	info := Inspect(data, "")
	if info.MimeType != "image/png" {
		t.Errorf("expected image/png, got %q", info.MimeType)
	}
	if info.Width != 12 || info.Height != 7 {
		t.Errorf("expected 12x7, got %dx%d", info.Width, info.Height)
	}
	if info.Size != len(data) {
		t.Errorf("expected size %d, got %d", len(data), info.Size)
	}
}

func TestInspect_WebP(t *testing.T) {
	// 1x1 lossless webp
	data, err := base64.StdEncoding.DecodeString("UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA==")
	if err != nil {
		t.Fatal(err)
	}
	info := Inspect(data, "image/webp")
	if info.MimeType != "image/webp" || info.Width != 1 || info.Height != 1 {
		t.Fatalf("info = %+v", info)
	}
}

func TestInspect_DeclaredTypeWins(t *testing.T) {
	data := testPNG(t, 1, 1)
	info := Inspect(data, "image/png; charset=binary")
	if info.MimeType != "image/png" {
		t.Errorf("expected parameters stripped, got %q", info.MimeType)
	}
}

func TestInspect_GenericDeclaredTypeIsSniffed(t *testing.T) {
	data := testPNG(t, 1, 1)
	info := Inspect(data, "application/octet-stream")
	if info.MimeType != "image/png" {
		t.Errorf("expected sniffed image/png, got %q", info.MimeType)
	}
}

func TestInspect_Undecodable(t *testing.T) {
	info := Inspect([]byte("not an image"), "image/jpeg")
	if info.Width != 0 || info.Height != 0 {
		t.Errorf("expected zero dimensions, got %dx%d", info.Width, info.Height)
	}
	if info.MimeType != "image/jpeg" {
		t.Errorf("expected declared type kept, got %q", info.MimeType)
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"image/png":  "png",
		"image/jpeg": "jpg",
		"image/webp": "jpg",
		"":           "jpg",
	}
	for mimeType, want := range tests {
		if got := Extension(mimeType); got != want {
			t.Errorf("Extension(%q) = %q, want %q", mimeType, got, want)
		}
	}
}
