package jsengine

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestEval(t *testing.T) {
	engine := New()

	tests := []struct {
		name     string
		script   string
		expected interface{}
	}{
		{"simple number", "1 + 2", int64(3)},
		{"string concat", "'Document' + ' ' + 'Viewer'", "Document Viewer"},
		{"boolean", "true && false", false},
		{"null coalescing", "null ?? 'default'", "default"},
		{"array length", "[3, 4].length", int64(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Eval(tt.script)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v (%T), got %v (%T)", tt.expected, tt.expected, result, result)
			}
		})
	}
}

func TestEval_SyntaxError(t *testing.T) {
	if _, err := New().Eval("1 +"); err == nil {
		t.Error("expected a syntax error")
	}
}

func TestSetVariables(t *testing.T) {
	engine := New()
	engine.SetVariables(map[string]string{"DOC": "3-page.pdf"})
	engine.SetVariable("copies", 3)

	result, err := engine.EvalString("DOC + ':' + copies")
	if err != nil {
		t.Fatal(err)
	}
	if result != "3-page.pdf:3" {
		t.Errorf("EvalString() = %q", result)
	}
}

func TestEvalString_Undefined(t *testing.T) {
	got, err := New().EvalString("undefined")
	if err != nil || got != "" {
		t.Errorf("EvalString(undefined) = %q, %v", got, err)
	}
}

func TestExpandVariables(t *testing.T) {
	engine := New()
	engine.SetVariable("pages", 4)

	tests := []struct {
		in, want string
	}{
		{"${pages}-page.pdf", "4-page.pdf"},
		{"no vars", "no vars"},
		{"${pages * 2} and ${'x'}", "8 and x"},
		{"${({a: 1}).a}", "1"},
		{"${missing}", "${missing}"},
		{"unterminated ${pages", "unterminated ${pages"},
	}
	for _, tt := range tests {
		if got := engine.ExpandVariables(tt.in); got != tt.want {
			t.Errorf("ExpandVariables(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEvalBool(t *testing.T) {
	engine := New()
	engine.SetVariable("title", "3-page.pdf")
	tests := []struct {
		script string
		want   bool
	}{
		{"title.endsWith('.pdf')", true},
		{"title === ''", false},
		{"1", true},
		{"''", false},
		{"null", false},
	}
	for _, tt := range tests {
		got, err := engine.EvalBool(context.Background(), tt.script)
		if err != nil {
			t.Fatalf("EvalBool(%q) error = %v", tt.script, err)
		}
		if got != tt.want {
			t.Errorf("EvalBool(%q) = %v, want %v", tt.script, got, tt.want)
		}
	}
}

func TestDesktopObject(t *testing.T) {
	engine := New()
	engine.SetAppName("evince")
	engine.SetCopiedText("Page 1 of 3")

	got, err := engine.EvalString("desktop.appName + '|' + desktop.copiedText")
	if err != nil {
		t.Fatal(err)
	}
	if got != "evince|Page 1 of 3" {
		t.Errorf("desktop object = %q", got)
	}
	if engine.CopiedText() != "Page 1 of 3" {
		t.Errorf("CopiedText() = %q", engine.CopiedText())
	}
}

func TestOutput(t *testing.T) {
	engine := New()
	if _, err := engine.Eval("output.file = 'pid_3_cop_1.pdf'; console.log('set', output.file)"); err != nil {
		t.Fatal(err)
	}
	out := engine.Output()
	if out["file"] != "pid_3_cop_1.pdf" {
		t.Errorf("Output() = %v", out)
	}
	out["file"] = "changed"
	if engine.Output()["file"] != "pid_3_cop_1.pdf" {
		t.Error("Output() returned a live map")
	}
}

func TestJSONHelper(t *testing.T) {
	got, err := New().EvalString(`json('{"pages": [3, 4]}').pages[1]`)
	if err != nil || got != "4" {
		t.Errorf("json() = %q, %v", got, err)
	}
}

func TestEvalContext_Interrupted(t *testing.T) {
	engine := New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := engine.EvalContext(ctx, "for (;;) {}")
	if err == nil || !strings.Contains(err.Error(), "deadline") {
		t.Fatalf("EvalContext() err = %v, want interruption", err)
	}

	// The interrupt must not leak into the next evaluation.
	if got, err := engine.EvalString("1 + 1"); err != nil || got != "2" {
		t.Errorf("EvalString() after interrupt = %q, %v", got, err)
	}
}

func TestDefineUndefinedIfMissing(t *testing.T) {
	engine := New()
	engine.DefineUndefinedIfMissing("OPTIONAL")
	got, err := engine.EvalBool(context.Background(), "typeof OPTIONAL === 'undefined'")
	if err != nil || !got {
		t.Errorf("EvalBool() = %v, %v", got, err)
	}

	engine.SetVariable("SET", "x")
	engine.DefineUndefinedIfMissing("SET")
	if v, _ := engine.EvalString("SET"); v != "x" {
		t.Errorf("SET = %q", v)
	}
}
