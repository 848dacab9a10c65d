package imaging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"image/jpeg":                "image/jpeg",
		"image/jpg":                 "image/jpeg",
		"IMAGE/PNG":                 "image/png",
		" image/webp ":              "image/webp",
		"image/tiff; charset=utf-8": "image/tiff",
		"image/jpg; q=1":            "image/jpeg",
		"application/pdf":           "application/pdf",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAllowed(t *testing.T) {
	for _, ct := range []string{"image/jpeg", "image/jpg", "image/png", "image/webp", "image/bmp", "image/tiff", "IMAGE/PNG; x=y"} {
		if !Allowed(ct) {
			t.Fatalf("Allowed(%q) = false, want true", ct)
		}
	}
	for _, ct := range []string{"application/pdf", "text/plain", "image/gif", "image/svg+xml", ""} {
		if Allowed(ct) {
			t.Fatalf("Allowed(%q) = true, want false", ct)
		}
	}
}

func TestDataURL(t *testing.T) {
	got := DataURL("image/jpg", []byte("hi"))
	want := "data:image/jpeg;base64,aGk="
	if got != want {
		t.Fatalf("DataURL = %q, want %q", got, want)
	}
}

func TestProbeImageIsPNG(t *testing.T) {
	data := ProbeImage()
	if !bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatalf("probe image missing PNG signature")
	}
	if len(data) == 0 || len(data) > 256 {
		t.Fatalf("probe image has unreasonable size %d", len(data))
	}
}

func TestProbeDataURL(t *testing.T) {
	u := ProbeDataURL()
	if !strings.HasPrefix(u, "data:image/png;base64,") {
		t.Fatalf("unexpected probe data URL prefix: %q", u)
	}
}
