package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/arthur-debert/safecopy/pkg/errors"
	"github.com/arthur-debert/safecopy/pkg/types"
)

var (
	labelStyle     = lipgloss.NewStyle().Bold(true).Width(10)
	changedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	unchangedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// printResult renders the deploy result in the requested format.
func printResult(result types.Result, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(result)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	default:
		status := unchangedStyle.Render("unchanged")
		if result.Changed {
			status = changedStyle.Render("changed")
		}
		fmt.Printf("%s %s\n", labelStyle.Render("status:"), status)
		fmt.Printf("%s %s\n", labelStyle.Render("dest:"), result.Dest)
		if result.Checksum != "" {
			fmt.Printf("%s %s\n", labelStyle.Render("checksum:"), result.Checksum)
		}
		if result.BackupFile != "" {
			fmt.Printf("%s %s\n", labelStyle.Render("backup:"), result.BackupFile)
		}
	}
	return nil
}

// printError writes a structured failure to stderr, machine-relevant
// details included.
func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("error:"), err.Error())
	for key, value := range errors.GetErrorDetails(err) {
		fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
	}
}
