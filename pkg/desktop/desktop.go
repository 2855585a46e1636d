// Package desktop resolves an application's .desktop entry, which carries the
// display name shown in the shell's search and application grid.
package desktop

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/logger"
)

const entrySection = "Desktop Entry"

// Querier lists the files owned by the package that installed a binary.
type Querier interface {
	OwnedFiles(ctx context.Context, binaryPath string) ([]string, error)
}

// RPM queries the rpm database.
type RPM struct{}

// OwnedFiles implements Querier with `rpm -qlf`.
func (RPM) OwnedFiles(ctx context.Context, binaryPath string) ([]string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "rpm", "-qlf", binaryPath)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, core.ErrResourceNotFound.
			WithMessagef("no package owns %s: %s", binaryPath, strings.TrimSpace(stderr.String())).
			WithCause(err)
	}
	return strings.Split(strings.TrimSpace(string(out)), "\n"), nil
}

// Entry is a parsed .desktop file.
type Entry struct {
	Path string
	file *ini.File
}

// Parse parses .desktop file contents.
func Parse(data []byte) (*Entry, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		AllowNonUniqueSections:  false,
		SkipUnrecognizableLines: true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("parse desktop entry: %w", err)
	}
	if _, err := f.GetSection(entrySection); err != nil {
		return nil, core.ErrInvalidConfig.WithMessage("missing [Desktop Entry] section")
	}
	return &Entry{file: f}, nil
}

// Load reads and parses the .desktop file at path.
func Load(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.ErrResourceNotFound.WithMessagef("read %s", path).WithCause(err)
	}
	e, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	e.Path = path
	return e, nil
}

func (e *Entry) key(name string) string {
	return e.file.Section(entrySection).Key(name).String()
}

// Name is the untranslated display name.
func (e *Entry) Name() string { return e.key("Name") }

// Exec is the launch command line.
func (e *Entry) Exec() string { return e.key("Exec") }

// Categories returns the semicolon-separated Categories list.
func (e *Entry) Categories() []string {
	var out []string
	for _, c := range strings.Split(e.key("Categories"), ";") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Categories that every entry carries alongside a more specific one.
var genericCategories = map[string]bool{
	"GNOME": true, "GTK": true, "Qt": true, "KDE": true,
}

// MenuGroup is the application grid folder the entry is listed under: its
// first non-toolkit category, or "" when it has none.
func (e *Entry) MenuGroup() string {
	for _, c := range e.Categories() {
		if !genericCategories[c] {
			return c
		}
	}
	return ""
}

// Lookup resolves command on PATH, asks q which files its package owns, and
// loads the first one under /usr/share/applications named <name>.desktop.
func Lookup(ctx context.Context, q Querier, command, name string) (*Entry, error) {
	bin := command
	if fields := strings.Fields(command); len(fields) > 0 {
		bin = fields[0]
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, core.ErrResourceNotFound.WithMessagef("%s not found on PATH", bin).WithCause(err)
	}

	files, err := q.OwnedFiles(ctx, path)
	if err != nil {
		return nil, err
	}
	file, ok := Match(files, name)
	if !ok {
		return nil, core.ErrResourceNotFound.WithMessagef("no %s.desktop owned by the package of %s", name, path)
	}
	logger.Debug("desktop entry for %s: %s", command, file)
	return Load(file)
}

// Match returns the first path of the form /usr/share/applications/...<name>.desktop.
func Match(files []string, name string) (string, bool) {
	re := regexp.MustCompile("^/usr/share/applications/.*" + regexp.QuoteMeta(name) + `\.desktop$`)
	for _, f := range files {
		if re.MatchString(strings.TrimSpace(f)) {
			return strings.TrimSpace(f), true
		}
	}
	return "", false
}

// Resolver finds the desktop entry for a command.
type Resolver interface {
	Lookup(ctx context.Context, command, name string) (*Entry, error)
}

// PackageResolver resolves entries through the package database.
type PackageResolver struct {
	Querier Querier
}

// Lookup implements Resolver.
func (r PackageResolver) Lookup(ctx context.Context, command, name string) (*Entry, error) {
	q := r.Querier
	if q == nil {
		q = RPM{}
	}
	return Lookup(ctx, q, command, name)
}
