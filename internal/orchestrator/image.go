package orchestrator

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"net/http"
	"strings"
)

const readChunkSize = 32 << 10

var supportedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

func normalizeMimeType(declared string) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(declared))
	}
	return mt
}

// acceptsDeclaredType reports whether a client-declared type may be read at all.
// Missing and generic types are decided by sniffing the content.
func acceptsDeclaredType(declared string) bool {
	switch declared {
	case "", "application/octet-stream":
		return true
	}
	return supportedImageTypes[declared]
}

// detectImageType prefers the sniffed type and falls back to the declared one.
func detectImageType(data []byte, declared string) (string, bool) {
	if len(data) > 0 {
		if mt := http.DetectContentType(data); supportedImageTypes[mt] {
			return mt, true
		}
	}
	if supportedImageTypes[declared] && len(data) > 0 {
		return declared, true
	}
	return "", false
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// readWithProgress drains r and reports whole-percent progress against size.
// A non-positive size disables progress reports.
func readWithProgress(r io.Reader, size int64, report func(int)) ([]byte, error) {
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}

	chunk := make([]byte, readChunkSize)
	last := -1
	for {
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])

		if size > 0 && n > 0 {
			pct := int(int64(buf.Len()) * 100 / size)
			if pct > 100 {
				pct = 100
			}
			if pct != last {
				last = pct
				report(pct)
			}
		}

		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}
