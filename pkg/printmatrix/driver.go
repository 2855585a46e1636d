package printmatrix

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/devicelab-dev/desktop-runner/pkg/a11y"
	"github.com/devicelab-dev/desktop-runner/pkg/logger"
)

// Widget names in the print dialog.
const (
	menuFile        = "File"
	menuItemPrint   = "Print..."
	menuItemClose   = "Close"
	dialogPrint     = "Print"
	tabGeneral      = "General"
	tabPageSetup    = "Page Setup"
	radioPDF        = "PDF"
	radioPostscript = "Postscript"
	radioAllPages   = "All Pages"
	radioPages      = "Pages:"
	textPages       = "Pages"
	checkReverse    = "Reverse"
	checkCollate    = "Collate"
	buttonPrint     = "Print"
)

// Combo boxes carry their current value as name, so they are found by trying
// every value they can hold.
var (
	pagesPerSheetValues = []string{"1", "2", "4", "6", "9", "16"}
	onlyPrintValues     = []string{AllSheets, EvenSheets, OddSheets}
)

// Launcher opens a document in the application under test and returns the
// application node.
type Launcher interface {
	StartWithArgs(ctx context.Context, args ...string) (a11y.Node, error)
}

// Driver prints every combination of a matrix through the application's
// print dialog. The printer must be set to "Print to File" beforehand.
type Driver struct {
	App Launcher
	// DocumentDir holds the n-page.pdf test documents.
	DocumentDir string
	// OutputDir is where print-to-file writes; defaults to $HOME.
	OutputDir string
	Search    *a11y.SearchOptions
	// Progress, when set, is called before each combination is printed.
	Progress func(n, total int, c Combination)
}

// Run prints every combination of m and returns how many were printed.
func (d *Driver) Run(ctx context.Context, m Matrix) (int, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	outDir := d.OutputDir
	if outDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return 0, fmt.Errorf("failed to resolve output directory: %w", err)
		}
		outDir = home
	}

	combos := m.Combinations()
	estimate := m.Estimate()

	var (
		appNode a11y.Node
		current Combination
	)
	for i, c := range combos {
		if appNode == nil || c.Pages != current.Pages || c.OutputType != current.OutputType {
			if appNode != nil {
				if err := d.closeDocument(ctx, appNode); err != nil {
					return i, err
				}
			}
			doc := filepath.Join(d.DocumentDir, c.Document())
			node, err := d.App.StartWithArgs(ctx, doc)
			if err != nil {
				return i, fmt.Errorf("failed to open %s: %w", doc, err)
			}
			appNode, current = node, c
		}

		logger.Info("%d of %d: %s", i+1, estimate, c.Filename())
		if d.Progress != nil {
			d.Progress(i+1, estimate, c)
		}
		if err := d.print(ctx, appNode, c, outDir); err != nil {
			return i, fmt.Errorf("%s: %w", c.Filename(), err)
		}
	}
	if appNode != nil {
		if err := d.closeDocument(ctx, appNode); err != nil {
			return len(combos), err
		}
	}
	return len(combos), nil
}

func (d *Driver) print(ctx context.Context, appNode a11y.Node, c Combination, outDir string) error {
	// An existing file would raise a "file exists" prompt.
	if err := os.Remove(filepath.Join(outDir, c.Filename())); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := d.click(ctx, appNode, a11y.RoleMenu, menuFile); err != nil {
		return err
	}
	if err := d.click(ctx, appNode, a11y.RoleMenuItem, menuItemPrint); err != nil {
		return err
	}
	dlg, err := d.find(ctx, appNode, a11y.Matcher{Role: a11y.RoleDialog, Name: dialogPrint})
	if err != nil {
		return err
	}

	if err := d.selectTab(ctx, dlg, tabGeneral); err != nil {
		return err
	}
	name, err := d.find(ctx, dlg, a11y.Matcher{Role: a11y.RoleText})
	if err != nil {
		return err
	}
	if err := name.SetText(ctx, c.Filename()); err != nil {
		return err
	}

	format := radioPDF
	if c.OutputType == OutputPostscript {
		format = radioPostscript
	}
	if err := d.click(ctx, dlg, a11y.RoleRadioButton, format); err != nil {
		return err
	}

	if c.Range == RangeAll {
		if err := d.click(ctx, dlg, a11y.RoleRadioButton, radioAllPages); err != nil {
			return err
		}
	} else {
		if err := d.click(ctx, dlg, a11y.RoleRadioButton, radioPages); err != nil {
			return err
		}
		pages, err := d.find(ctx, dlg, a11y.Matcher{Role: a11y.RoleText, Name: textPages})
		if err != nil {
			return err
		}
		if err := pages.SetText(ctx, c.Range); err != nil {
			return err
		}
	}

	copies, err := d.find(ctx, dlg, a11y.Matcher{Role: a11y.RoleSpinButton})
	if err != nil {
		return err
	}
	if err := copies.SetText(ctx, strconv.Itoa(c.Copies)); err != nil {
		return err
	}
	// The spin button keeps its old value until activated.
	if err := copies.DoAction(ctx, "activate"); err != nil {
		return err
	}

	if err := d.setChecked(ctx, dlg, checkReverse, c.Reverse == 1); err != nil {
		return err
	}
	if err := d.setChecked(ctx, dlg, checkCollate, c.Collate == 1); err != nil {
		return err
	}

	if err := d.selectTab(ctx, dlg, tabPageSetup); err != nil {
		return err
	}
	if err := d.setCombo(ctx, dlg, pagesPerSheetValues, strconv.Itoa(c.PagesPerSheet)); err != nil {
		return err
	}
	if err := d.setCombo(ctx, dlg, onlyPrintValues, c.OnlyPrint); err != nil {
		return err
	}

	return d.click(ctx, dlg, a11y.RolePushButton, buttonPrint)
}

func (d *Driver) closeDocument(ctx context.Context, appNode a11y.Node) error {
	if err := d.click(ctx, appNode, a11y.RoleMenu, menuFile); err != nil {
		return err
	}
	return d.click(ctx, appNode, a11y.RoleMenuItem, menuItemClose)
}

func (d *Driver) find(ctx context.Context, root a11y.Node, m a11y.Matcher) (a11y.Node, error) {
	return a11y.Find(ctx, root, m, d.Search)
}

func (d *Driver) click(ctx context.Context, root a11y.Node, role a11y.Role, name string) error {
	n, err := d.find(ctx, root, a11y.Matcher{Role: role, Name: name})
	if err != nil {
		return err
	}
	return n.DoAction(ctx, "click")
}

func (d *Driver) selectTab(ctx context.Context, dlg a11y.Node, name string) error {
	tab, err := d.find(ctx, dlg, a11y.Matcher{Role: a11y.RolePageTab, Name: name})
	if err != nil {
		return err
	}
	return tab.Select(ctx)
}

func (d *Driver) setChecked(ctx context.Context, dlg a11y.Node, name string, want bool) error {
	box, err := d.find(ctx, dlg, a11y.Matcher{Role: a11y.RoleCheckBox, Name: name})
	if err != nil {
		return err
	}
	info, err := box.Info(ctx)
	if err != nil {
		return err
	}
	if info.Checked() == want {
		return nil
	}
	return box.DoAction(ctx, "click")
}

// setCombo finds the combo box currently showing one of values and picks
// want from its popup. A dialog without such a combo box is left alone.
func (d *Driver) setCombo(ctx context.Context, dlg a11y.Node, values []string, want string) error {
	for _, v := range values {
		matches, err := a11y.FindAll(ctx, dlg, a11y.Matcher{Role: a11y.RoleComboBox, Name: v})
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			continue
		}
		if v == want {
			return nil
		}
		item, err := d.find(ctx, matches[0], a11y.Matcher{Name: want})
		if err != nil {
			return err
		}
		return item.DoAction(ctx, "click")
	}
	logger.Warn("no combo box showing any of %v", values)
	return nil
}
