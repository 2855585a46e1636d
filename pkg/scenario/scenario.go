// Package scenario handles parsing and representation of desktop-runner YAML
// scenario files.
package scenario

// Scenario represents a parsed scenario file.
type Scenario struct {
	SourcePath string // Path to the source file
	Config     Config // Scenario configuration (name, tags, app overrides)
	Steps      []Step // Steps to execute
}

// Name returns the configured name, falling back to the source path.
func (s *Scenario) Name() string {
	if s.Config.Name != "" {
		return s.Config.Name
	}
	return s.SourcePath
}

// Config represents scenario-level configuration.
type Config struct {
	Name       string            `yaml:"name"`
	Tags       []string          `yaml:"tags"`
	Env        map[string]string `yaml:"env"`
	TimeLimit  int               `yaml:"timeLimit"` // Whole-scenario limit in ms
	App        AppOverride       `yaml:"app"`
	OnStart    []Step            `yaml:"-"` // Runs before the steps; failure fails the scenario
	OnComplete []Step            `yaml:"-"` // Always runs after the steps
}

// AppOverride replaces parts of the run's application configuration for one
// scenario.
type AppOverride struct {
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args"`
	A11yName string   `yaml:"a11yName"`
}

// IsZero reports whether nothing is overridden.
func (o AppOverride) IsZero() bool {
	return o.Command == "" && len(o.Args) == 0 && o.A11yName == ""
}
