package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/report"
)

// printFailureDetails lists, from the written report, every failed command
// with its error and the attachments captured for it.
func printFailureDetails(w io.Writer, outputDir string) error {
	index, details, err := report.ReadReport(outputDir)
	if err != nil {
		return err
	}

	header := false
	for i, entry := range index.Scenarios {
		if !entry.Status.IsFailure() {
			continue
		}
		if !header {
			fmt.Fprintf(w, "\n  %sFailures%s\n", color(colorBold), color(colorReset))
			fmt.Fprintln(w, "  "+strings.Repeat("─", 60))
			header = true
		}

		fmt.Fprintf(w, "\n  %s✗%s %s (%s)\n", color(colorRed), color(colorReset), entry.Name, entry.SourceFile)
		if entry.Error != nil {
			fmt.Fprintf(w, "    %s╰─%s %s\n", color(colorGray), color(colorReset), *entry.Error)
		}
		if i < len(details) {
			for _, cmd := range details[i].Commands {
				printFailedCommand(w, outputDir, cmd, 0)
			}
			printAttachments(w, outputDir, details[i].Attachments, "    ")
		}
	}
	return nil
}

// printFailedCommand prints cmd when it failed, then its failed sub-commands.
func printFailedCommand(w io.Writer, outputDir string, cmd report.Command, depth int) {
	if !cmd.Status.IsFailure() {
		return
	}
	indent := strings.Repeat("  ", 2+depth)

	description := cmd.Label
	if description == "" {
		description = cmd.Description
	}
	if description == "" {
		description = cmd.Type
	}

	fmt.Fprintf(w, "%s%s✗%s %s\n", indent, color(colorRed), color(colorReset), description)
	if cmd.Error != nil && cmd.Error.Message != "" {
		fmt.Fprintf(w, "%s  %s╰─%s [%s] %s\n", indent, color(colorGray), color(colorReset), cmd.Error.Type, cmd.Error.Message)
	}
	printAttachments(w, outputDir, cmd.Attachments, indent+"  ")

	for _, sub := range cmd.SubCommands {
		printFailedCommand(w, outputDir, sub, depth+1)
	}
}

func printAttachments(w io.Writer, outputDir string, atts []report.Attachment, indent string) {
	for _, a := range atts {
		fmt.Fprintf(w, "%s%s%s:%s %s\n", indent, color(colorGray), a.Name, color(colorReset), filepath.Join(outputDir, a.Path))
	}
}
