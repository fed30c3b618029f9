// Package images checks local image files before they are uploaded as a
// profile picture.
package images

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MaxSize is the largest picture the backend accepts (5MB).
const MaxSize = 5 * 1024 * 1024

// typeByExt maps the accepted extensions to MIME types.
var typeByExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// DetectType returns the MIME type for a file path.
// It uses the extension map first, then falls back to reading file header bytes.
func DetectType(path string) string {
	if t, ok := typeByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}

	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	if n == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(buf[:n])
}

// Validate checks that path is a readable regular file within MaxSize and
// of an accepted image type, and returns that type.
func Validate(path string) (string, error) {
	name := filepath.Base(path)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("cannot access %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", name)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%s is empty", name)
	}
	if info.Size() > MaxSize {
		return "", fmt.Errorf("%s exceeds maximum size of 5MB", name)
	}

	t := DetectType(path)
	if !accepted(t) {
		return "", fmt.Errorf("%s is not a PNG, JPEG, GIF or WebP image (%s)", name, t)
	}
	return t, nil
}

func accepted(mime string) bool {
	for _, t := range typeByExt {
		if t == mime {
			return true
		}
	}
	return false
}
