// Package printmatrix exercises the print dialog over a matrix of settings:
// copies, collation, page order, pages per sheet, sheet parity, page ranges
// and output format, for documents of different lengths.
package printmatrix

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// Sheet selections offered by the "Only print" combo box.
const (
	AllSheets  = "All sheets"
	EvenSheets = "Even sheets"
	OddSheets  = "Odd sheets"
)

// Output formats of the print-to-file backend.
const (
	OutputPDF        = "pdf"
	OutputPostscript = "ps"
)

// RangeAll prints every page.
const RangeAll = "all"

// evenRange is the page range recorded as "even" in file names.
const evenRange = "1-3,2-3,1"

// Matrix lists the values tried for each print setting. Collate and Reverse
// are 0 or 1.
type Matrix struct {
	Copies          []int    `yaml:"copies" json:"copies"`
	Collate         []int    `yaml:"collate" json:"collate"`
	Reverse         []int    `yaml:"reverse" json:"reverse"`
	PagesPerSheet   []int    `yaml:"pagesPerSheet" json:"pagesPerSheet"`
	OnlyPrint       []string `yaml:"onlyPrint" json:"onlyPrint"`
	OutputTypes     []string `yaml:"outputTypes" json:"outputTypes"`
	PagesInDocument []int    `yaml:"documents" json:"documents"`
	Ranges          []string `yaml:"ranges" json:"ranges"`
}

// DefaultMatrix is the stock matrix. Documents are expected as
// 3-page.pdf and 4-page.pdf.
func DefaultMatrix() Matrix {
	return Matrix{
		Copies:          []int{3, 1},
		Collate:         []int{1, 0},
		Reverse:         []int{1, 0},
		PagesPerSheet:   []int{1, 4, 9},
		OnlyPrint:       []string{AllSheets, EvenSheets, OddSheets},
		OutputTypes:     []string{OutputPDF},
		PagesInDocument: []int{3, 4},
		Ranges:          []string{RangeAll, evenRange, "1-2,2-3,1-3"},
	}
}

// WithDefaults fills every empty list from DefaultMatrix.
func (m Matrix) WithDefaults() Matrix {
	d := DefaultMatrix()
	if len(m.Copies) == 0 {
		m.Copies = d.Copies
	}
	if len(m.Collate) == 0 {
		m.Collate = d.Collate
	}
	if len(m.Reverse) == 0 {
		m.Reverse = d.Reverse
	}
	if len(m.PagesPerSheet) == 0 {
		m.PagesPerSheet = d.PagesPerSheet
	}
	if len(m.OnlyPrint) == 0 {
		m.OnlyPrint = d.OnlyPrint
	}
	if len(m.OutputTypes) == 0 {
		m.OutputTypes = d.OutputTypes
	}
	if len(m.PagesInDocument) == 0 {
		m.PagesInDocument = d.PagesInDocument
	}
	if len(m.Ranges) == 0 {
		m.Ranges = d.Ranges
	}
	return m
}

// Validate rejects values the print dialog cannot be set to.
func (m Matrix) Validate() error {
	for _, ot := range m.OutputTypes {
		if ot != OutputPDF && ot != OutputPostscript {
			return core.ErrInvalidConfig.WithMessagef("unknown output type %q", ot)
		}
	}
	for _, op := range m.OnlyPrint {
		if op != AllSheets && op != EvenSheets && op != OddSheets {
			return core.ErrInvalidConfig.WithMessagef("unknown sheet selection %q", op)
		}
	}
	for _, c := range m.Copies {
		if c < 1 {
			return core.ErrInvalidConfig.WithMessagef("copies must be positive, got %d", c)
		}
	}
	for _, p := range m.PagesInDocument {
		if p < 1 {
			return core.ErrInvalidConfig.WithMessagef("document page count must be positive, got %d", p)
		}
	}
	if !validFlags(m.Collate) || !validFlags(m.Reverse) {
		return core.ErrInvalidConfig.WithMessage("collate and reverse take 0 or 1")
	}
	return nil
}

func validFlags(v []int) bool {
	for _, f := range v {
		if f != 0 && f != 1 {
			return false
		}
	}
	return true
}

// Estimate is the size of the full cartesian product. The real run is
// smaller because collating a single copy is skipped.
func (m Matrix) Estimate() int {
	return len(m.Copies) * len(m.Collate) * len(m.Reverse) * len(m.PagesPerSheet) *
		len(m.OnlyPrint) * len(m.OutputTypes) * len(m.PagesInDocument) * len(m.Ranges)
}

// Combination is one set of print settings for one document.
type Combination struct {
	Pages         int    `json:"pages"`
	Copies        int    `json:"copies"`
	PagesPerSheet int    `json:"pagesPerSheet"`
	Collate       int    `json:"collate"`
	Reverse       int    `json:"reverse"`
	Range         string `json:"range"`
	OnlyPrint     string `json:"onlyPrint"`
	OutputType    string `json:"outputType"`
}

// Combinations enumerates the matrix in run order: output type, document,
// reverse, collate, copies, range, pages per sheet, sheet selection. A single
// collated copy is the same job as a single uncollated one and is skipped.
func (m Matrix) Combinations() []Combination {
	var out []Combination
	for _, ot := range m.OutputTypes {
		for _, pages := range m.PagesInDocument {
			for _, rev := range m.Reverse {
				for _, col := range m.Collate {
					for _, cop := range m.Copies {
						if cop == 1 && col == 1 {
							continue
						}
						for _, rng := range m.Ranges {
							for _, pps := range m.PagesPerSheet {
								for _, op := range m.OnlyPrint {
									out = append(out, Combination{
										Pages:         pages,
										Copies:        cop,
										PagesPerSheet: pps,
										Collate:       col,
										Reverse:       rev,
										Range:         rng,
										OnlyPrint:     op,
										OutputType:    ot,
									})
								}
							}
						}
					}
				}
			}
		}
	}
	return out
}

// Document is the file name of the test document with c.Pages pages.
func (c Combination) Document() string {
	return strconv.Itoa(c.Pages) + "-page.pdf"
}

// Filename is the output file the print job writes.
func (c Combination) Filename() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid_%d_cop_%d_pps_%d_col_%d_rev_%d", c.Pages, c.Copies, c.PagesPerSheet, c.Collate, c.Reverse)
	b.WriteString("_sheets_" + sheetsLabel(c.OnlyPrint))
	b.WriteString("_rng_" + rangeLabel(c.Range))
	b.WriteString("." + c.OutputType)
	return b.String()
}

func sheetsLabel(op string) string {
	switch op {
	case AllSheets:
		return "all"
	case EvenSheets:
		return "even"
	default:
		return "odd"
	}
}

func rangeLabel(rng string) string {
	switch rng {
	case RangeAll:
		return "all"
	case evenRange:
		return "even"
	default:
		return "odd"
	}
}
