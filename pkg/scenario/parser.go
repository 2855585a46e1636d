package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/desktop-runner/pkg/logger"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single YAML scenario file.
func ParseFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided scenario file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses scenario YAML: either a steps list, or a config document
// followed by "---" and a steps list.
func Parse(data []byte, sourcePath string) (*Scenario, error) {
	parts := splitYAMLDocuments(string(data))

	sc := &Scenario{
		SourcePath: sourcePath,
	}

	switch len(parts) {
	case 0:
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    1,
			Message: "empty scenario file",
		}
	case 1:
		if err := parseSteps(parts[0], sc); err != nil {
			return nil, err
		}
	case 2:
		if err := parseConfig(parts[0], sc); err != nil {
			return nil, err
		}
		if err := parseSteps(parts[1], sc); err != nil {
			return nil, err
		}
	default:
		return nil, &ParseError{
			Path:    sourcePath,
			Message: fmt.Sprintf("expected at most 2 YAML documents, got %d", len(parts)),
		}
	}

	return sc, nil
}

// splitYAMLDocuments splits on top-level "---" lines, leaving separators
// inside block scalars alone.
func splitYAMLDocuments(content string) []string {
	var parts []string
	var current strings.Builder
	inMultiline := false
	multilineIndent := 0

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inMultiline {
			if strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, ">") ||
				strings.HasSuffix(trimmed, "|-") || strings.HasSuffix(trimmed, ">-") {
				inMultiline = true
				if i+1 < len(lines) {
					next := lines[i+1]
					multilineIndent = len(next) - len(strings.TrimLeft(next, " \t"))
				}
			}
		} else {
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			if trimmed != "" && indent < multilineIndent {
				inMultiline = false
			}
		}

		if !inMultiline && strings.TrimRight(line, " \t\r") == "---" {
			if strings.TrimSpace(current.String()) != "" {
				parts = append(parts, current.String())
			}
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}

	if strings.TrimSpace(current.String()) != "" {
		parts = append(parts, current.String())
	}
	return parts
}

func parseConfig(content string, sc *Scenario) error {
	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return &ParseError{
			Path:    sc.SourcePath,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}
	if config.TimeLimit < 0 {
		return &ParseError{
			Path:    sc.SourcePath,
			Message: fmt.Sprintf("invalid config: negative timeLimit %d", config.TimeLimit),
		}
	}

	// Lifecycle hooks hold steps, which need the step decoder.
	var rawConfig struct {
		OnStart    []yaml.Node `yaml:"onStart"`
		OnComplete []yaml.Node `yaml:"onComplete"`
	}
	if err := yaml.Unmarshal([]byte(content), &rawConfig); err != nil {
		return &ParseError{
			Path:    sc.SourcePath,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}

	var err error
	if config.OnStart, err = parseStepNodes(rawConfig.OnStart, sc.SourcePath); err != nil {
		return err
	}
	if config.OnComplete, err = parseStepNodes(rawConfig.OnComplete, sc.SourcePath); err != nil {
		return err
	}

	sc.Config = config
	return nil
}

func parseSteps(content string, sc *Scenario) error {
	var rawSteps []yaml.Node
	if err := yaml.Unmarshal([]byte(content), &rawSteps); err != nil {
		return &ParseError{
			Path:    sc.SourcePath,
			Message: fmt.Sprintf("invalid steps: %v", err),
		}
	}

	steps, err := parseStepNodes(rawSteps, sc.SourcePath)
	if err != nil {
		return err
	}
	sc.Steps = steps
	return nil
}

func parseStepNodes(nodes []yaml.Node, sourcePath string) ([]Step, error) {
	var steps []Step
	for i := range nodes {
		step, err := parseStep(&nodes[i], sourcePath)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseStep(node *yaml.Node, sourcePath string) (Step, error) {
	// Handle scalar nodes like "- killApp" (no colon, no params)
	if node.Kind == yaml.ScalarNode {
		stepType := node.Value
		if !isStepType(stepType) {
			return nil, &ParseError{
				Path:    sourcePath,
				Line:    node.Line,
				Message: fmt.Sprintf("unknown step type: %s", stepType),
			}
		}
		emptyNode := &yaml.Node{Kind: yaml.MappingNode}
		return decodeStep(StepType(stepType), emptyNode, sourcePath)
	}

	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: "step must be a mapping or step name",
		}
	}

	stepType, valueNode := extractStepType(node)
	if stepType == "" || valueNode == nil {
		key := ""
		if len(node.Content) > 0 {
			key = node.Content[0].Value
		}
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: fmt.Sprintf("unknown step type: %s", key),
		}
	}

	return decodeStep(StepType(stepType), valueNode, sourcePath)
}

func extractStepType(node *yaml.Node) (string, *yaml.Node) {
	for i := 0; i < len(node.Content)-1; i += 2 {
		key := node.Content[i].Value
		if isStepType(key) {
			return key, node.Content[i+1]
		}
	}
	return "", nil
}

func isStepType(key string) bool {
	switch StepType(key) {
	case StepStartApp, StepEnsureRunning, StepCloseApp, StepKillApp, StepAssertRunning,
		StepAssertNotRunning, StepWaitForWindow, StepPress, StepPressKey, StepTypeText,
		StepClick, StepAssertVisible, StepAssertNotVisible, StepAssertText,
		StepAssertWindowTitle, StepSetText, StepSetChecked, StepSelectTab, StepDoAction,
		StepWaitUntil, StepSleep, StepDefineVariables, StepEvalScript, StepAssertTrue,
		StepRetry, StepTakeScreenshot, StepPrintCombinations:
		return true
	}
	return false
}

// decodeInto decodes a mapping into s, or hands a scalar to onScalar.
func decodeInto(valueNode *yaml.Node, sourcePath string, s interface{}, onScalar func(string) error) error {
	if valueNode.Kind == yaml.ScalarNode && onScalar != nil {
		if err := onScalar(valueNode.Value); err != nil {
			return wrapParseError(sourcePath, valueNode.Line, err)
		}
		return nil
	}
	if err := valueNode.Decode(s); err != nil {
		return wrapParseError(sourcePath, valueNode.Line, err)
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

//nolint:gocyclo
func decodeStep(stepType StepType, valueNode *yaml.Node, sourcePath string) (Step, error) {
	var (
		step Step
		err  error
	)
	switch stepType {
	case StepStartApp:
		var s StartAppStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Via))
		if err == nil {
			err = checkVia(sourcePath, valueNode.Line, s.Via, ViaCommand, ViaMenu)
		}
		s.StepType, step = stepType, &s

	case StepEnsureRunning:
		var s EnsureRunningStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Via))
		if err == nil {
			err = checkVia(sourcePath, valueNode.Line, s.Via, ViaCommand, ViaMenu)
		}
		s.StepType, step = stepType, &s

	case StepCloseApp:
		var s CloseAppStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Via))
		if err == nil {
			err = checkVia(sourcePath, valueNode.Line, s.Via, CloseViaShortcut, CloseViaKill)
		}
		s.StepType, step = stepType, &s

	case StepKillApp:
		var s KillAppStep
		err = decodeInto(valueNode, sourcePath, &s, ignoreScalar)
		s.StepType, step = stepType, &s

	case StepAssertRunning:
		var s AssertRunningStep
		err = decodeInto(valueNode, sourcePath, &s, ignoreScalar)
		s.StepType, step = stepType, &s

	case StepAssertNotRunning:
		var s AssertNotRunningStep
		err = decodeInto(valueNode, sourcePath, &s, ignoreScalar)
		s.StepType, step = stepType, &s

	case StepWaitForWindow:
		var s WaitForWindowStep
		err = decodeInto(valueNode, sourcePath, &s, ignoreScalar)
		s.StepType, step = stepType, &s

	case StepPress:
		var s PressStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Keys))
		if err == nil && s.Keys == "" {
			err = missingField(sourcePath, valueNode.Line, stepType, "keys")
		}
		s.StepType, step = stepType, &s

	case StepPressKey:
		var s PressKeyStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Key))
		if err == nil && s.Key == "" {
			err = missingField(sourcePath, valueNode.Line, stepType, "key")
		}
		s.StepType, step = stepType, &s

	case StepTypeText:
		var s TypeTextStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Text))
		s.StepType, step = stepType, &s

	case StepClick:
		var s ClickStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Selector.Name))
		if err == nil && !s.IsPoint() && s.Selector.IsEmpty() {
			err = missingField(sourcePath, valueNode.Line, stepType, "selector or x/y")
		}
		s.StepType, step = stepType, &s

	case StepAssertVisible:
		var s AssertVisibleStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Selector.Name))
		if err == nil && s.Selector.IsEmpty() {
			err = missingField(sourcePath, valueNode.Line, stepType, "selector")
		}
		s.StepType, step = stepType, &s

	case StepAssertNotVisible:
		var s AssertNotVisibleStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Selector.Name))
		if err == nil && s.Selector.IsEmpty() {
			err = missingField(sourcePath, valueNode.Line, stepType, "selector")
		}
		s.StepType, step = stepType, &s

	case StepAssertText:
		var s AssertTextStep
		err = decodeInto(valueNode, sourcePath, &s, nil)
		if err == nil && s.Element.IsEmpty() {
			err = missingField(sourcePath, valueNode.Line, stepType, "element")
		}
		if err == nil && s.Equals == nil && s.Contains == "" {
			err = missingField(sourcePath, valueNode.Line, stepType, "equals or contains")
		}
		s.StepType, step = stepType, &s

	case StepAssertWindowTitle:
		var s AssertWindowTitleStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Title))
		s.StepType, step = stepType, &s

	case StepSetText:
		var s SetTextStep
		err = decodeInto(valueNode, sourcePath, &s, nil)
		if err == nil && s.Element.IsEmpty() {
			err = missingField(sourcePath, valueNode.Line, stepType, "element")
		}
		s.StepType, step = stepType, &s

	case StepSetChecked:
		var s SetCheckedStep
		err = decodeInto(valueNode, sourcePath, &s, nil)
		if err == nil && s.Element.IsEmpty() {
			err = missingField(sourcePath, valueNode.Line, stepType, "element")
		}
		s.StepType, step = stepType, &s

	case StepSelectTab:
		var s SelectTabStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Selector.Name))
		if err == nil && s.Selector.IsEmpty() {
			err = missingField(sourcePath, valueNode.Line, stepType, "selector")
		}
		s.StepType, step = stepType, &s

	case StepDoAction:
		var s DoActionStep
		err = decodeInto(valueNode, sourcePath, &s, nil)
		if err == nil && (s.Element.IsEmpty() || s.Action == "") {
			err = missingField(sourcePath, valueNode.Line, stepType, "element and action")
		}
		s.StepType, step = stepType, &s

	case StepWaitUntil:
		var s WaitUntilStep
		err = decodeInto(valueNode, sourcePath, &s, nil)
		if err == nil && (s.Visible == nil) == (s.NotVisible == nil) {
			err = &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "waitUntil needs exactly one of visible or notVisible"}
		}
		s.StepType, step = stepType, &s

	case StepSleep:
		var s SleepStep
		err = decodeInto(valueNode, sourcePath, &s, func(string) error {
			return valueNode.Decode(&s.Ms)
		})
		s.StepType, step = stepType, &s

	case StepDefineVariables:
		s := DefineVariablesStep{Env: make(map[string]string)}
		if valueNode.Kind == yaml.MappingNode {
			for i := 0; i < len(valueNode.Content)-1; i += 2 {
				s.Env[valueNode.Content[i].Value] = valueNode.Content[i+1].Value
			}
		}
		s.StepType, step = stepType, &s

	case StepEvalScript:
		var s EvalScriptStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Script))
		s.StepType, step = stepType, &s

	case StepAssertTrue:
		var s AssertTrueStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Script))
		s.StepType, step = stepType, &s

	case StepTakeScreenshot:
		var s TakeScreenshotStep
		err = decodeInto(valueNode, sourcePath, &s, setString(&s.Path))
		s.StepType, step = stepType, &s

	case StepRetry:
		return parseRetryStep(valueNode, sourcePath)

	case StepPrintCombinations:
		var s PrintCombinationsStep
		err = decodeInto(valueNode, sourcePath, &s, ignoreScalar)
		if err == nil {
			if verr := s.Matrix.WithDefaults().Validate(); verr != nil {
				err = wrapParseError(sourcePath, valueNode.Line, verr)
			}
		}
		s.StepType, step = stepType, &s

	default:
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    valueNode.Line,
			Message: fmt.Sprintf("unknown step type: %s", stepType),
		}
	}

	if err != nil {
		return nil, err
	}
	return step, nil
}

func ignoreScalar(string) error { return nil }

func checkVia(path string, line int, via string, allowed ...string) error {
	if via == "" {
		return nil
	}
	for _, a := range allowed {
		if via == a {
			return nil
		}
	}
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: fmt.Sprintf("invalid via %q, expected one of %s", via, strings.Join(allowed, ", ")),
	}
}

func missingField(path string, line int, stepType StepType, field string) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: fmt.Sprintf("%s: missing %s", stepType, field),
	}
}

// parseRetryStep handles retry with nested commands.
func parseRetryStep(valueNode *yaml.Node, sourcePath string) (Step, error) {
	var raw struct {
		MaxRetries string      `yaml:"maxRetries"` // String for variable support
		Commands   []yaml.Node `yaml:"commands"`
		Optional   bool        `yaml:"optional"`
		Label      string      `yaml:"label"`
		TimeoutMs  int         `yaml:"timeout"`
	}

	if err := valueNode.Decode(&raw); err != nil {
		return nil, wrapParseError(sourcePath, valueNode.Line, err)
	}

	s := &RetryStep{
		BaseStep: BaseStep{
			StepType:  StepRetry,
			Optional:  raw.Optional,
			StepLabel: raw.Label,
			TimeoutMs: raw.TimeoutMs,
		},
		MaxRetries: raw.MaxRetries,
	}

	steps, err := parseStepNodes(raw.Commands, sourcePath)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, missingField(sourcePath, valueNode.Line, StepRetry, "commands")
	}
	s.Steps = steps
	return s, nil
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: err.Error(),
	}
}

// ParseDirectory parses all YAML files under dir, skipping config.yaml and
// files that fail to parse, and returns the scenarios matching the tag
// filters in path order.
func ParseDirectory(dir string, includeTags, excludeTags []string) ([]*Scenario, error) {
	var scenarios []*Scenario

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !IsScenarioFile(path) {
			return nil
		}

		sc, parseErr := ParseFile(path)
		if parseErr != nil {
			logger.Warn("skipping %s: %v", path, parseErr)
			fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", path, parseErr)
			return nil
		}

		if ShouldInclude(sc, includeTags, excludeTags) {
			scenarios = append(scenarios, sc)
		}
		return nil
	})

	sort.SliceStable(scenarios, func(i, j int) bool {
		return scenarios[i].SourcePath < scenarios[j].SourcePath
	})
	return scenarios, err
}

// IsScenarioFile reports whether path names a YAML file other than the
// runner's own config file.
func IsScenarioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return false
	}
	base := strings.ToLower(filepath.Base(path))
	return base != "config.yaml" && base != "config.yml"
}

// ShouldInclude checks if a scenario matches tag filters.
func ShouldInclude(sc *Scenario, includeTags, excludeTags []string) bool {
	if len(includeTags) > 0 {
		hasTag := false
		for _, tag := range sc.Config.Tags {
			for _, include := range includeTags {
				if tag == include {
					hasTag = true
					break
				}
			}
		}
		if !hasTag {
			return false
		}
	}

	for _, tag := range sc.Config.Tags {
		for _, exclude := range excludeTags {
			if tag == exclude {
				return false
			}
		}
	}

	return true
}
