package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/aproctor/grove"
)

// outputResult writes a command result in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as
// a CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// outputResultText dispatches to the appropriate text formatter based on
// the result type. It writes to os.Stdout.
func outputResultText(result CLIResult) error {
	w := io.Writer(os.Stdout)

	switch v := result.Results.(type) {
	case CLIParse:
		formatParseText(w, v)
	case CLIFind:
		formatFindText(w, v)
	case CLIStats:
		formatStatsText(w, v)
	case CLIInspect:
		fmt.Fprintf(w, "Cache: %s\n\n", v.CacheDir)
		formatEntriesText(w, v.Entries)
		fmt.Fprintln(w)
		formatStatsText(w, v.Stats)
	case nil:
		// No output for nil results.
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// formatParseText renders a tree dump with two-space indentation per depth.
func formatParseText(w io.Writer, p CLIParse) {
	fmt.Fprintf(w, "%s (%s): %d bytes, %d nodes, %d interned strings\n",
		p.Path, p.Language, p.Bytes, p.Nodes, p.Interned)
	for _, n := range p.Tree {
		indent := strings.Repeat("  ", n.Depth)
		field := ""
		if n.Field != "" {
			field = n.Field + ": "
		}
		mark := ""
		if n.Error {
			mark = " !error"
		}
		if n.Missing {
			mark += " !missing"
		}
		fmt.Fprintf(w, "%s%s%s [%d-%d)%s\n", indent, field, n.Kind, n.StartByte, n.EndByte, mark)
	}
}

// formatFindText renders symbol hits as "path:line:col" lines grouped by
// role.
func formatFindText(w io.Writer, f CLIFind) {
	group := func(label string, hits []CLISymbolHit) {
		if len(hits) == 0 {
			return
		}
		fmt.Fprintf(w, "%s:\n", label)
		for _, h := range hits {
			fmt.Fprintf(w, "  %s:%d:%d\t%s\n", f.Path, h.StartLine, h.StartCol, h.Kind)
		}
	}
	group("Definitions", f.Definitions)
	group("References", f.References)
	group("Occurrences", f.Occurrences)
	if len(f.Definitions)+len(f.References)+len(f.Occurrences) == 0 {
		fmt.Fprintf(w, "No symbol %q in %s\n", f.Name, f.Path)
	}
}

// formatStatsText renders the counters snapshot as aligned columns.
func formatStatsText(w io.Writer, s CLIStats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tENTRIES\tBYTES")
	fmt.Fprintf(tw, "hot\t%d\t%d\n", s.HotEntries, s.HotBytes)
	fmt.Fprintf(tw, "warm\t%d\t%d\n", s.WarmEntries, s.WarmBytes)
	fmt.Fprintf(tw, "cold\t%d\t%d\n", s.ColdEntries, s.ColdBytes)
	fmt.Fprintf(tw, "frozen\t%d\t%d\n", s.FrozenEntries, s.FrozenBytes)
	tw.Flush()
	fmt.Fprintf(w, "\nhits %d, misses %d, mismatches %d, parses %d\n",
		s.Hits, s.Misses, s.HashMismatches, s.Parses)
	fmt.Fprintf(w, "promotions %d, demotions %d, sweeps %d\n",
		s.Promotions, s.Demotions, s.Sweeps)
	fmt.Fprintf(w, "chunk bytes %d, shared source bytes %d, interned %d (%d bytes)\n",
		s.ChunkBytes, s.SharedSourceBytes, s.InternedStrings, s.InternedBytes)
}

// formatEntriesText renders cache entries as aligned columns.
func formatEntriesText(w io.Writer, entries []grove.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tTIER\tSIZE\tACCESSES\tLAST ACCESS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			e.Path, e.Tier, e.Size, e.AccessCount, e.LastAccess.Format("2006-01-02 15:04:05"))
	}
	tw.Flush()
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}

// lineCol converts a byte offset into 1-based line and column numbers.
func lineCol(src []byte, off uint32) (line, col int) {
	line, col = 1, 1
	end := int(off)
	if end > len(src) {
		end = len(src)
	}
	for _, b := range src[:end] {
		if b == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
