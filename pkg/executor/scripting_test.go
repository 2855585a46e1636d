package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/scenario"
)

func TestScriptEngine_SetVariable(t *testing.T) {
	se := NewScriptEngine()

	se.SetVariable("DOC", "3-page.pdf")
	se.SetVariables(map[string]string{"PRINTER": "Print to File", "COPIES": "2"})

	for name, want := range map[string]string{"DOC": "3-page.pdf", "PRINTER": "Print to File", "COPIES": "2"} {
		if got := se.GetVariable(name); got != want {
			t.Errorf("GetVariable(%s) = %q, want %q", name, got, want)
		}
	}
}

func TestScriptEngine_ExpandVariables(t *testing.T) {
	se := NewScriptEngine()
	se.SetVariable("DOC", "3-page.pdf")
	se.SetVariable("DOC_DIR", "/home/test/docs")
	se.SetVariable("pages", "3")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "Print", "Print"},
		{"dollar var", "open $DOC", "open 3-page.pdf"},
		{"longest name first", "$DOC_DIR/$DOC", "/home/test/docs/3-page.pdf"},
		{"word boundary", "$DOCUMENT", "$DOCUMENT"},
		{"expression", "${DOC.toUpperCase()}", "3-PAGE.PDF"},
		{"arithmetic", "page ${pages * 2}", "page 6"},
		{"broken expression kept", "${nope(}", "${nope(}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := se.ExpandVariables(tt.input); got != tt.want {
				t.Errorf("ExpandVariables(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandDollarVar(t *testing.T) {
	tests := []struct {
		text, name, value string
		want              string
	}{
		{"Hello $USER", "USER", "admin", "Hello admin"},
		{"$USER$USER", "USER", "a", "aa"},
		{"$USERNAME", "USER", "admin", "$USERNAME"},
		{"$USER_ID", "USER", "admin", "$USER_ID"},
		{"no vars", "USER", "admin", "no vars"},
	}

	for _, tt := range tests {
		if got := expandDollarVar(tt.text, tt.name, tt.value); got != tt.want {
			t.Errorf("expandDollarVar(%q, %q) = %q, want %q", tt.text, tt.name, got, tt.want)
		}
	}
}

func TestScriptEngine_EvalCondition(t *testing.T) {
	se := NewScriptEngine()
	se.SetVariable("COUNT", "3")
	ctx := context.Background()

	tests := []struct {
		script string
		want   bool
	}{
		{"true", true},
		{"false", false},
		{"COUNT == 3", true},
		{"${COUNT > 5}", false},
		{"$COUNT == '3'", true},
		{"MISSING_FLAG", false},
		{"!MISSING_FLAG", true},
		{"''", false},
	}

	for _, tt := range tests {
		got, err := se.EvalCondition(ctx, tt.script)
		if err != nil {
			t.Errorf("EvalCondition(%q) error = %v", tt.script, err)
			continue
		}
		if got != tt.want {
			t.Errorf("EvalCondition(%q) = %v, want %v", tt.script, got, tt.want)
		}
	}

	if _, err := se.EvalCondition(ctx, "this is not javascript"); err == nil {
		t.Error("EvalCondition() accepted a syntax error")
	}
}

func TestScriptEngine_DesktopObject(t *testing.T) {
	se := NewScriptEngine()
	se.SetAppName("evince")
	se.SetCopiedText("1-3")
	ctx := context.Background()

	for _, script := range []string{"desktop.appName == 'evince'", "desktop.copiedText == '1-3'"} {
		ok, err := se.EvalCondition(ctx, script)
		if err != nil || !ok {
			t.Errorf("EvalCondition(%q) = %v, %v", script, ok, err)
		}
	}
	if got := se.CopiedText(); got != "1-3" {
		t.Errorf("CopiedText() = %q", got)
	}
}

func TestScriptEngine_ResolvePath(t *testing.T) {
	se := NewScriptEngine()
	if got := se.ResolvePath("doc.pdf"); got != "doc.pdf" {
		t.Errorf("without a scenario dir, ResolvePath() = %q", got)
	}

	se.SetScenarioDir("/suite/print")
	tests := []struct{ in, want string }{
		{"", ""},
		{"doc.pdf", filepath.Join("/suite/print", "doc.pdf")},
		{"../docs", "/suite/docs"},
		{"/abs/doc.pdf", "/abs/doc.pdf"},
	}
	for _, tt := range tests {
		if got := se.ResolvePath(tt.in); got != tt.want {
			t.Errorf("ResolvePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScriptEngine_ParseInt(t *testing.T) {
	se := NewScriptEngine()
	se.SetVariable("RETRIES", "4")

	tests := []struct {
		in   string
		want int
	}{
		{"3", 3},
		{" 7 ", 7},
		{"10_000", 10000},
		{"$RETRIES", 4},
		{"${RETRIES * 2}", 8},
		{"", 1},
		{"many", 1},
	}
	for _, tt := range tests {
		if got := se.ParseInt(tt.in, 1); got != tt.want {
			t.Errorf("ParseInt(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestScriptEngine_ExecuteDefineVariables(t *testing.T) {
	se := NewScriptEngine()
	se.SetVariable("DIR", "/tmp")

	res := se.ExecuteDefineVariables(&scenario.DefineVariablesStep{
		Env: map[string]string{"OUT": "$DIR/out.pdf", "NAME": "report"},
	})
	if !res.Success {
		t.Fatalf("ExecuteDefineVariables() failed: %s", res.Message)
	}
	if got := se.GetVariable("OUT"); got != "/tmp/out.pdf" {
		t.Errorf("OUT = %q", got)
	}
	if got := se.GetVariable("NAME"); got != "report" {
		t.Errorf("NAME = %q", got)
	}
}

func TestScriptEngine_ExecuteEvalScript(t *testing.T) {
	se := NewScriptEngine()
	ctx := context.Background()

	res := se.ExecuteEvalScript(ctx, &scenario.EvalScriptStep{Script: "${output.copies = 1 + 1}"})
	if !res.Success {
		t.Fatalf("ExecuteEvalScript() failed: %s", res.Message)
	}
	if got := se.GetVariable("copies"); got != "2" {
		t.Errorf("copies = %q, want output synced to variables", got)
	}

	res = se.ExecuteEvalScript(ctx, &scenario.EvalScriptStep{Script: "throw new Error('boom')"})
	if res.Success {
		t.Error("ExecuteEvalScript() passed on a thrown error")
	}
}

func TestScriptEngine_ExecuteAssertTrue(t *testing.T) {
	se := NewScriptEngine()
	ctx := context.Background()

	if res := se.ExecuteAssertTrue(ctx, &scenario.AssertTrueStep{Script: "1 < 2"}); !res.Success {
		t.Errorf("assertTrue 1 < 2 failed: %s", res.Message)
	}

	res := se.ExecuteAssertTrue(ctx, &scenario.AssertTrueStep{Script: "1 > 2"})
	if res.Success {
		t.Fatal("assertTrue 1 > 2 passed")
	}
	if !errors.Is(res.Error, core.ErrConditionNotMet) {
		t.Errorf("error = %v, want ErrConditionNotMet", res.Error)
	}
	if res.Status() != core.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status())
	}
}

func TestScriptEngine_ExpandStep(t *testing.T) {
	se := NewScriptEngine()
	se.SetVariable("BUTTON", "Print")
	se.SetVariable("DIALOG", "Print")
	se.SetVariable("KEYS", "<Control><P>")
	se.SetScenarioDir("/suite")

	click := &scenario.ClickStep{Selector: scenario.Selector{
		Name: "$BUTTON",
		In:   &scenario.Selector{Role: "dialog", Name: "$DIALOG"},
	}}
	se.ExpandStep(click)
	if click.Selector.Name != "Print" || click.Selector.In.Name != "Print" {
		t.Errorf("click selector = %+v / %+v", click.Selector, *click.Selector.In)
	}

	press := &scenario.PressStep{Keys: "$KEYS"}
	se.ExpandStep(press)
	if press.Keys != "<Control><P>" {
		t.Errorf("press keys = %q", press.Keys)
	}

	equals := "${BUTTON.length}"
	text := &scenario.AssertTextStep{Element: scenario.Selector{Name: "Pages"}, Equals: &equals}
	se.ExpandStep(text)
	if *text.Equals != "5" {
		t.Errorf("assertText equals = %q", *text.Equals)
	}
	if equals != "${BUTTON.length}" {
		t.Error("ExpandStep modified the caller's string")
	}

	shot := &scenario.TakeScreenshotStep{Path: "shots/$BUTTON.jpg"}
	se.ExpandStep(shot)
	if want := filepath.Join("/suite", "shots/Print.jpg"); shot.Path != want {
		t.Errorf("screenshot path = %q, want %q", shot.Path, want)
	}

	wait := &scenario.WaitUntilStep{NotVisible: &scenario.Selector{Name: "$DIALOG"}}
	se.ExpandStep(wait)
	if wait.NotVisible.Name != "Print" {
		t.Errorf("waitUntil selector = %q", wait.NotVisible.Name)
	}
}
