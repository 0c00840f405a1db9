package imagefile

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

const (
	maxFileSizeMB = 10
	maxFileSize   = maxFileSizeMB * 1024 * 1024
)

// allowedExts is the fixed allow-list for user-supplied image files.
var allowedExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".gif":  true,
}

// Image is one loaded image ready for dispatch.
type Image struct {
	Path   string
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// AllowedExt reports whether the path carries an allow-listed extension.
// Extension is the only validation done at selection time; readability is
// checked when the image is actually loaded.
func AllowedExt(path string) bool {
	return allowedExts[strings.ToLower(filepath.Ext(path))]
}

// Load reads the file fully into memory and sniffs its format.
func Load(path string) (*Image, error) {
	if !AllowedExt(path) {
		return nil, fmt.Errorf("unsupported file type %q (allowed: png, jpg, jpeg, bmp, gif)", filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}

	img, err := FromBytes(data)
	if err != nil {
		return nil, err
	}
	img.Path = path
	return img, nil
}

// FromBytes wraps raw image bytes (clipboard bitmaps, screen captures).
func FromBytes(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("image is empty")
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("image exceeds maximum size of %d MB", maxFileSizeMB)
	}

	mime := SniffMIME(data)
	img := &Image{Data: data, MIME: mime}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width = cfg.Width
		img.Height = cfg.Height
	}

	return img, nil
}

// SniffMIME detects the image format from magic bytes. Unknown data falls
// back to image/jpeg, matching the data-URL the remote API documents.
func SniffMIME(data []byte) string {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}):
		return "image/png"
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return "image/gif"
	case len(data) >= 2 && data[0] == 'B' && data[1] == 'M':
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}
