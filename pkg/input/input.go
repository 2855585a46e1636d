// Package input injects keyboard and pointer events into the desktop session.
package input

import (
	"context"
	"fmt"
	"strings"
)

// Injector sends synthetic input.
type Injector interface {
	// KeyCombo presses a combination written as "<Control><Q>" or "<Super_L>".
	KeyCombo(ctx context.Context, combo string) error
	// PressKey presses and releases a single named key, e.g. "Enter".
	PressKey(ctx context.Context, key string) error
	// TypeText types text one character at a time.
	TypeText(ctx context.Context, text string) error
	// Click clicks at screen coordinates. Button 1 is primary.
	Click(ctx context.Context, x, y, button int) error
	// Move moves the pointer.
	Move(ctx context.Context, x, y int) error
}

// Combo is a parsed key combination.
type Combo struct {
	Modifiers []string
	Key       string
}

// String renders the combo in xdotool syntax, e.g. "ctrl+alt+shift+r".
func (c Combo) String() string {
	parts := append(append([]string{}, c.Modifiers...), c.Key)
	return strings.Join(parts, "+")
}

var modifiers = map[string]string{
	"control": "ctrl",
	"ctrl":    "ctrl",
	"primary": "ctrl",
	"alt":     "alt",
	"shift":   "shift",
	"super":   "super",
	"meta":    "meta",
}

var keysyms = map[string]string{
	"esc":       "Escape",
	"escape":    "Escape",
	"enter":     "Return",
	"return":    "Return",
	"tab":       "Tab",
	"space":     "space",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"del":       "Delete",
	"home":      "Home",
	"end":       "End",
	"pageup":    "Prior",
	"pagedown":  "Next",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"super_l":   "Super_L",
	"super_r":   "Super_R",
	"menu":      "Menu",
	"print":     "Print",
}

// Keysym maps a key name to its X keysym. Single characters are lowercased so
// that "<Control><Q>" does not imply Shift; F-keys and unknown names pass
// through unchanged.
func Keysym(key string) string {
	if len(key) == 1 {
		return strings.ToLower(key)
	}
	if sym, ok := keysyms[strings.ToLower(key)]; ok {
		return sym
	}
	return key
}

// ParseCombo parses "<Control><Alt><Shift>R", "<Ctrl>q" or "Super_L".
// The last element is the key; every earlier element must be a modifier.
func ParseCombo(s string) (Combo, error) {
	var tokens []string
	rest := strings.TrimSpace(s)
	for strings.HasPrefix(rest, "<") {
		end := strings.Index(rest, ">")
		if end < 0 {
			return Combo{}, fmt.Errorf("unterminated '<' in key combo %q", s)
		}
		tokens = append(tokens, rest[1:end])
		rest = rest[end+1:]
	}
	if rest != "" {
		tokens = append(tokens, rest)
	}
	if len(tokens) == 0 {
		return Combo{}, fmt.Errorf("empty key combo %q", s)
	}

	var c Combo
	for i, tok := range tokens {
		last := i == len(tokens)-1
		if mod, ok := modifiers[strings.ToLower(tok)]; ok && !last {
			c.Modifiers = append(c.Modifiers, mod)
			continue
		}
		if !last {
			return Combo{}, fmt.Errorf("unknown modifier %q in key combo %q", tok, s)
		}
		if tok == "" {
			return Combo{}, fmt.Errorf("missing key in combo %q", s)
		}
		c.Key = Keysym(tok)
	}
	return c, nil
}
