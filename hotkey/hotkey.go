package hotkey

import (
	"log"
	"strings"

	hook "github.com/robotn/gohook"
)

// Listen registers a global hotkey combo such as "Ctrl+Alt+Q" and invokes
// callback on each press. The gohook event loop runs on its own goroutine
// until the process exits. An empty combo disables the listener.
func Listen(combo string, callback func()) {
	keys := ParseCombo(combo)
	if len(keys) == 0 {
		return
	}

	log.Printf("Hotkey: listening for %s", combo)
	hook.Register(hook.KeyDown, keys, func(e hook.Event) {
		log.Printf("Hotkey: %s pressed", combo)
		callback()
	})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Hotkey: listener panicked: %v", r)
			}
		}()
		s := hook.Start()
		<-hook.Process(s)
	}()
}

// ParseCombo converts "Ctrl+Alt+Q" into the lowercase key names gohook
// expects. Unknown parts are kept as-is so single letters and names like
// "space" pass through.
func ParseCombo(combo string) []string {
	var keys []string
	for _, part := range strings.Split(combo, "+") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		switch part {
		case "control":
			part = "ctrl"
		case "windows", "win", "super":
			part = "cmd"
		}
		keys = append(keys, part)
	}
	return keys
}
