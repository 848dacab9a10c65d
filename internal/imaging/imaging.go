// Package imaging validates uploaded image payloads and encodes them as
// base64 data URLs for vision chat-completion requests.
package imaging

import (
	"encoding/base64"
	"strings"
)

// allowed is the set of upload content types accepted by the OCR endpoint,
// keyed by normalized media type.
var allowed = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/bmp":  {},
	"image/tiff": {},
}

// AllowedTypes returns the accepted media types in stable order, for error
// messages.
func AllowedTypes() []string {
	return []string{"image/bmp", "image/jpeg", "image/png", "image/tiff", "image/webp"}
}

// Normalize lowercases ct, strips media-type parameters (charset, boundary)
// and folds the common image/jpg alias into image/jpeg.
func Normalize(ct string) string {
	ct = strings.TrimSpace(strings.ToLower(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	return ct
}

// Allowed reports whether ct (after normalization) is an accepted upload
// content type.
func Allowed(ct string) bool {
	_, ok := allowed[Normalize(ct)]
	return ok
}

// DataURL encodes data as a base64 data URL with the normalized media type.
func DataURL(ct string, data []byte) string {
	var b strings.Builder
	payload := base64.StdEncoding.EncodeToString(data)
	b.Grow(len("data:;base64,") + len(ct) + len(payload))
	b.WriteString("data:")
	b.WriteString(Normalize(ct))
	b.WriteString(";base64,")
	b.WriteString(payload)
	return b.String()
}

// probePNGB64 is a 2x2 fully transparent RGBA PNG (68 bytes decoded), small
// enough to verify that the backend accepts vision input without spending
// meaningful tokens.
const probePNGB64 = "iVBORw0KGgoAAAANSUhEUgAAAAIAAAACCAYAAABytg0kAAAAC0lEQVR42mNgQAcAABIAAeRVjecAAAAASUVORK5CYII="

// ProbeImage returns the raw bytes of the built-in verification image.
func ProbeImage() []byte {
	data, err := base64.StdEncoding.DecodeString(probePNGB64)
	if err != nil {
		// The constant is fixed at build time; a decode failure is a bug.
		panic("imaging: corrupt built-in probe image: " + err.Error())
	}
	return data
}

// ProbeDataURL returns the verification image as a PNG data URL.
func ProbeDataURL() string {
	return "data:image/png;base64," + probePNGB64
}
