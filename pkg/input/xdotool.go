package input

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/logger"
)

// DefaultTypingDelay is the pause between typed characters.
const DefaultTypingDelay = 200 * time.Millisecond

// XDoTool injects input through the xdotool command.
type XDoTool struct {
	// Path to the binary. Empty means "xdotool" from PATH.
	Path string
	// TypingDelay is the per-character delay for TypeText.
	TypingDelay time.Duration

	// run executes the command; replaced in tests.
	run func(ctx context.Context, name string, args ...string) error
}

// NewXDoTool creates an injector with the given typing delay (0 = default).
func NewXDoTool(typingDelay time.Duration) *XDoTool {
	if typingDelay <= 0 {
		typingDelay = DefaultTypingDelay
	}
	return &XDoTool{TypingDelay: typingDelay}
}

func (x *XDoTool) exec(ctx context.Context, args ...string) error {
	name := x.Path
	if name == "" {
		name = "xdotool"
	}
	logger.Debug("%s %s", name, strings.Join(args, " "))
	if x.run != nil {
		return x.run(ctx, name, args...)
	}
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// KeyCombo implements Injector.
func (x *XDoTool) KeyCombo(ctx context.Context, combo string) error {
	c, err := ParseCombo(combo)
	if err != nil {
		return err
	}
	return x.exec(ctx, "key", "--clearmodifiers", c.String())
}

// PressKey implements Injector.
func (x *XDoTool) PressKey(ctx context.Context, key string) error {
	return x.exec(ctx, "key", "--clearmodifiers", Keysym(key))
}

// TypeText implements Injector.
func (x *XDoTool) TypeText(ctx context.Context, text string) error {
	delay := x.TypingDelay
	if delay <= 0 {
		delay = DefaultTypingDelay
	}
	return x.exec(ctx, "type", "--delay", strconv.FormatInt(delay.Milliseconds(), 10), "--", text)
}

// Click implements Injector.
func (x *XDoTool) Click(ctx context.Context, px, py, button int) error {
	if button <= 0 {
		button = 1
	}
	return x.exec(ctx, "mousemove", "--sync", strconv.Itoa(px), strconv.Itoa(py),
		"click", strconv.Itoa(button))
}

// Move implements Injector.
func (x *XDoTool) Move(ctx context.Context, px, py int) error {
	return x.exec(ctx, "mousemove", "--sync", strconv.Itoa(px), strconv.Itoa(py))
}
