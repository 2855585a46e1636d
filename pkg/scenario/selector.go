package scenario

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/desktop-runner/pkg/a11y"
)

// Selector picks an accessible node by role and name. A scalar in YAML is
// shorthand for the name.
type Selector struct {
	Role     string    `yaml:"role"`
	Name     string    `yaml:"name"`
	Contains string    `yaml:"contains"` // Substring of the name
	In       *Selector `yaml:"in"`       // Search under the first match of this selector
	Index    int       `yaml:"index"`    // n-th match in depth-first order
	Showing  bool      `yaml:"showing"`  // Only nodes currently on screen
}

// selectorRaw avoids recursing into UnmarshalYAML.
type selectorRaw Selector

// UnmarshalYAML allows Selector to be unmarshaled from string or struct.
func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = Selector{Name: node.Value}
		return nil
	}
	var raw selectorRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*s = Selector(raw)
	return nil
}

// IsEmpty returns true if the selector matches on nothing.
func (s *Selector) IsEmpty() bool {
	return s.Role == "" && s.Name == "" && s.Contains == ""
}

// Matcher converts the selector's own criteria into an a11y.Matcher.
func (s *Selector) Matcher() a11y.Matcher {
	return a11y.Matcher{
		Role:         a11y.Role(s.Role),
		Name:         s.Name,
		NameContains: s.Contains,
		ShowingOnly:  s.Showing,
	}
}

// Chain returns the selectors from outermost scope to s itself.
func (s *Selector) Chain() []*Selector {
	var chain []*Selector
	for cur := s; cur != nil; cur = cur.In {
		chain = append([]*Selector{cur}, chain...)
	}
	return chain
}

// Describe returns a human-readable description like
// push button "Print" in dialog "Print".
func (s *Selector) Describe() string {
	var b strings.Builder
	if s.Role != "" {
		b.WriteString(s.Role)
	}
	switch {
	case s.Name != "":
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%q", s.Name)
	case s.Contains != "":
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "~%q", s.Contains)
	}
	if s.Index > 0 {
		fmt.Fprintf(&b, "[%d]", s.Index)
	}
	if s.In != nil {
		b.WriteString(" in " + s.In.Describe())
	}
	return b.String()
}
