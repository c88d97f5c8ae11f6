package normalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"
)

// ImageHasher identifies image attachments. Key groups images that are the
// same picture; Pixels ranks variants so the larger one survives a merge.
// Pixels is 0 when unknown.
type ImageHasher interface {
	ImageKey(value string) (key string, pixels int)
}

// ImageHasherFunc adapts a function to ImageHasher.
type ImageHasherFunc func(value string) (string, int)

// ImageKey calls f.
func (f ImageHasherFunc) ImageKey(value string) (string, int) { return f(value) }

// Image is the default ImageHasher. Inline data: URIs are keyed by the
// SHA-256 of their decoded bytes and measured with image.DecodeConfig;
// anything else is keyed by its canonical URI. Equal keys here mean equal
// bytes, so pixel counts never differ between matches; preferring the
// larger variant only takes effect with a perceptual hasher that keys
// resized copies of a picture alike.
var Image ImageHasher = ImageHasherFunc(imageKey)

func imageKey(value string) (string, int) {
	data, ok := decodeDataURI(value)
	if !ok {
		return "uri:" + URI(value), 0
	}
	sum := sha256.Sum256(data)
	pixels := 0
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		pixels = cfg.Width * cfg.Height
	}
	return "sha256:" + hex.EncodeToString(sum[:]), pixels
}

// decodeDataURI returns the payload of a data: URI.
func decodeDataURI(value string) ([]byte, bool) {
	s := strings.TrimSpace(value)
	if len(s) < 5 || !strings.EqualFold(s[:5], "data:") {
		return nil, false
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return nil, false
	}
	meta, payload := s[5:comma], s[comma+1:]
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		payload = strings.Map(func(r rune) rune {
			if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
				return -1
			}
			return r
		}, payload)
		if data, err := base64.StdEncoding.DecodeString(payload); err == nil {
			return data, true
		}
		if data, err := base64.RawStdEncoding.DecodeString(payload); err == nil {
			return data, true
		}
		return nil, false
	}
	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, false
	}
	return []byte(data), true
}
