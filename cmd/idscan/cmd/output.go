package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/idscan/internal/extract"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// ScanResult is the per-input output of the image and live commands.
type ScanResult struct {
	Source   string          `json:"source" yaml:"source"`
	Record   *extract.Record `json:"record,omitempty" yaml:"record,omitempty"`
	Terminal bool            `json:"terminal" yaml:"terminal"`
	Missing  []string        `json:"missing,omitempty" yaml:"missing,omitempty"`
	Error    string          `json:"error,omitempty" yaml:"error,omitempty"`
}

func newScanResult(source string, rec extract.Record) ScanResult {
	return ScanResult{
		Source:   source,
		Record:   &rec,
		Terminal: rec.Terminal(),
		Missing:  rec.Missing(),
	}
}

func validateFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("invalid format %q (must be text, json or yaml)", format)
}

func writeResults(w io.Writer, format string, results []ScanResult) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(results); err != nil {
			return err
		}
		return enc.Close()
	}
	for i, r := range results {
		if len(results) > 1 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "== %s ==\n", r.Source)
		}
		if r.Error != "" {
			fmt.Fprintf(w, "error: %s\n", r.Error)
			continue
		}
		for _, f := range r.Record.Fields() {
			fmt.Fprintf(w, "%s: %s\n", f.Name, f.Value)
		}
		fmt.Fprintf(w, "terminal: %t\n", r.Terminal)
	}
	return nil
}
