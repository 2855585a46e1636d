// Package mock provides a recording input injector for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
)

// Injector records every event as a short string such as "combo <Control><Q>",
// "key Enter", "type evince", "click 10,20,1" or "move 100,100".
type Injector struct {
	mu     sync.Mutex
	events []string

	// Err, when set, is returned by every call after recording it.
	Err error
	// OnEvent runs after an event is recorded, e.g. to make an app quit on
	// its shortcut.
	OnEvent func(event string)
}

func (m *Injector) record(format string, args ...interface{}) error {
	ev := fmt.Sprintf(format, args...)
	m.mu.Lock()
	m.events = append(m.events, ev)
	hook, err := m.OnEvent, m.Err
	m.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return err
}

// Events returns a copy of the recorded events.
func (m *Injector) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// Reset clears the recorded events.
func (m *Injector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

func (m *Injector) KeyCombo(ctx context.Context, combo string) error {
	return m.record("combo %s", combo)
}

func (m *Injector) PressKey(ctx context.Context, key string) error {
	return m.record("key %s", key)
}

func (m *Injector) TypeText(ctx context.Context, text string) error {
	return m.record("type %s", text)
}

func (m *Injector) Click(ctx context.Context, x, y, button int) error {
	return m.record("click %d,%d,%d", x, y, button)
}

func (m *Injector) Move(ctx context.Context, x, y int) error {
	return m.record("move %d,%d", x, y)
}
