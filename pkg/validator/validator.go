// Package validator checks scenario files before execution. It parses every
// file upfront, applies tag filters and reports all problems at once instead
// of failing on the first scenario that reaches a bad step.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/input"
	"github.com/devicelab-dev/desktop-runner/pkg/scenario"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Scenarios are the parsed scenarios that passed the tag filters, in
	// path order.
	Scenarios []*scenario.Scenario
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator validates scenario files.
type Validator struct {
	includeTags []string
	excludeTags []string
	seen        map[string]bool
}

// New creates a new Validator.
func New(includeTags, excludeTags []string) *Validator {
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
		seen:        make(map[string]bool),
	}
}

// Validate validates a file or directory and adds what it finds to result.
// A file reached twice, directly or through a directory, is only added once.
func (v *Validator) Validate(path string, result *Result) {
	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    path,
			Message: fmt.Sprintf("cannot access: %v", err),
		})
		return
	}

	var files []string
	if info.IsDir() {
		files, err = collectScenarioFiles(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("failed to scan directory: %v", err),
			})
			return
		}
	} else {
		files = []string{path}
	}

	for _, file := range files {
		v.validateFile(file, result)
	}
}

// collectScenarioFiles finds all scenario files in a directory. filepath.Walk
// visits them in lexical order.
func collectScenarioFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && scenario.IsScenarioFile(path) {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

func (v *Validator) validateFile(filePath string, result *Result) {
	key := filepath.Clean(filePath)
	if v.seen[key] {
		return
	}
	v.seen[key] = true

	sc, err := scenario.ParseFile(filePath)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    filePath,
			Message: fmt.Sprintf("parse error: %v", err),
		})
		return
	}

	if !scenario.ShouldInclude(sc, v.includeTags, v.excludeTags) {
		return
	}

	before := len(result.Errors)
	v.validateSteps(sc.Config.OnStart, filePath, result)
	v.validateSteps(sc.Steps, filePath, result)
	v.validateSteps(sc.Config.OnComplete, filePath, result)
	if len(result.Errors) == before {
		result.Scenarios = append(result.Scenarios, sc)
	}
}

// validateSteps checks the arguments that can be judged without a desktop.
// Values containing variables are left to run time.
func (v *Validator) validateSteps(steps []scenario.Step, file string, result *Result) {
	fail := func(step scenario.Step, format string, args ...interface{}) {
		result.Errors = append(result.Errors, &ValidationError{
			File:    file,
			Message: fmt.Sprintf("%s: %s", step.Describe(), fmt.Sprintf(format, args...)),
		})
	}

	for _, step := range steps {
		switch s := step.(type) {
		case *scenario.PressStep:
			if hasVariable(s.Keys) {
				continue
			}
			if _, err := input.ParseCombo(s.Keys); err != nil {
				fail(step, "%v", err)
			}

		case *scenario.PrintCombinationsStep:
			if s.DocumentDir != "" && !hasVariable(s.DocumentDir) {
				dir := resolveFilePath(filepath.Dir(file), s.DocumentDir)
				if info, err := os.Stat(dir); err != nil || !info.IsDir() {
					fail(step, "document directory %s not found", dir)
				}
			}

		case *scenario.RetryStep:
			v.validateSteps(s.Steps, file, result)
		}
	}
}

func hasVariable(s string) bool {
	return strings.Contains(s, "$")
}

// resolveFilePath resolves a file path relative to a base directory.
func resolveFilePath(baseDir, filePath string) string {
	if filepath.IsAbs(filePath) {
		return filePath
	}
	return filepath.Join(baseDir, filePath)
}
