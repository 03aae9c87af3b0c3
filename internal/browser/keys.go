// File: internal/browser/keys.go
package browser

import (
	"fmt"
	"unicode/utf8"

	"github.com/chromedp/chromedp/kb"
)

// namedKeys maps the key names the model is prompted with to the DOM
// key sequences chromedp's keyboard layer understands. Aliases cover
// the shorthand forms models tend to emit anyway.
var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Return":     kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Esc":        kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"Insert":     kb.Insert,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Up":         kb.ArrowUp,
	"Down":       kb.ArrowDown,
	"Left":       kb.ArrowLeft,
	"Right":      kb.ArrowRight,
	"Space":      " ",
	"F1":         kb.F1,
	"F2":         kb.F2,
	"F3":         kb.F3,
	"F4":         kb.F4,
	"F5":         kb.F5,
	"F6":         kb.F6,
	"F7":         kb.F7,
	"F8":         kb.F8,
	"F9":         kb.F9,
	"F10":        kb.F10,
	"F11":        kb.F11,
	"F12":        kb.F12,
}

// resolveKey translates a key name into the rune sequence to send.
// Single printable characters pass through unchanged so the model can
// press bare letters or digits.
func resolveKey(name string) (string, error) {
	if seq, ok := namedKeys[name]; ok {
		return seq, nil
	}
	if utf8.RuneCountInString(name) == 1 {
		return name, nil
	}
	return "", fmt.Errorf("unknown key %q", name)
}
