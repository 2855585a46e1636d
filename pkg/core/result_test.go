package core

import "testing"

func TestCommandResult_Status(t *testing.T) {
	if got := Success("ok", nil).Status(); got != StatusPassed {
		t.Errorf("Success().Status() = %s", got)
	}
	if got := Failure(ErrTextMismatch, "").Status(); got != StatusFailed {
		t.Errorf("Failure(assertion).Status() = %s", got)
	}
	if got := Failure(ErrBusBlocked, "").Status(); got != StatusErrored {
		t.Errorf("Failure(bus).Status() = %s", got)
	}
}

func TestFailure_DefaultsMessageToError(t *testing.T) {
	r := Failure(ErrElementNotFound, "")
	if r.Message != ErrElementNotFound.Error() {
		t.Errorf("Message = %q", r.Message)
	}
}

func TestBounds(t *testing.T) {
	b := Bounds{X: 10, Y: 20, Width: 100, Height: 40}
	x, y := b.Center()
	if x != 60 || y != 40 {
		t.Errorf("Center() = (%d, %d), want (60, 40)", x, y)
	}
	if !b.Contains(10, 20) || b.Contains(110, 20) {
		t.Error("Contains() boundary check failed")
	}
	if b.IsEmpty() || !(Bounds{Width: 5}).IsEmpty() {
		t.Error("IsEmpty() mismatch")
	}
}

func TestArtifactConfig_ShouldCapture(t *testing.T) {
	cfg := DefaultArtifactConfig()
	if !cfg.ShouldCapture(StatusFailed) || !cfg.ShouldCapture(StatusErrored) {
		t.Error("default config should capture on failure")
	}
	if cfg.ShouldCapture(StatusPassed) || cfg.ShouldCapture(StatusSkipped) {
		t.Error("default config should not capture on success or skip")
	}
}
