package clipboard

import (
	"fmt"
	"strings"
	"sync"

	"golang.design/x/clipboard"
)

var (
	mu        sync.Mutex
	available bool
)

func Init() error {
	mu.Lock()
	defer mu.Unlock()
	if err := clipboard.Init(); err != nil {
		return err
	}
	available = true
	return nil
}

// ReadImage returns clipboard bitmap contents as PNG bytes.
func ReadImage() ([]byte, bool) {
	mu.Lock()
	defer mu.Unlock()
	if !available {
		return nil, false
	}
	data := clipboard.Read(clipboard.FmtImage)
	if len(data) == 0 {
		return nil, false
	}
	return data, true
}

// ReadText returns clipboard text with a file:// prefix stripped, so a
// copied file URL resolves to a plain path.
func ReadText() (string, bool) {
	mu.Lock()
	defer mu.Unlock()
	if !available {
		return "", false
	}
	data := clipboard.Read(clipboard.FmtText)
	if len(data) == 0 {
		return "", false
	}
	text := strings.TrimSpace(string(data))
	text = strings.TrimPrefix(text, "file://")
	return text, text != ""
}

// Write performs a mutex-guarded clipboard write to prevent corruption under
// parallel writes.
func Write(text string) error {
	mu.Lock()
	defer mu.Unlock()
	if !available {
		return fmt.Errorf("clipboard not initialized")
	}
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}
