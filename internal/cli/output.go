package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/claimledger/internal/model"
)

var outputFormat string

func checkFormat() error {
	switch outputFormat {
	case "text", "json":
		return nil
	}
	return model.Errorf(model.ErrValidation, "unknown format %q, want text or json", outputFormat)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printClaim(w io.Writer, c *model.Claim) error {
	if outputFormat == "json" {
		return writeJSON(w, c)
	}

	fmt.Fprintf(w, "%s  [%s, %s]  scope=%s  rev=%d\n", c.ID, c.Status, c.Tier, c.Scope, c.Revision)
	fmt.Fprintf(w, "  %s\n", c.Statement)
	if c.StopCondition {
		fmt.Fprintf(w, "  stop condition set\n")
	}
	if c.SupersededBy != "" {
		fmt.Fprintf(w, "  superseded by %s\n", c.SupersededBy)
	}
	if c.RefutedBy != "" {
		fmt.Fprintf(w, "  refuted by %s\n", c.RefutedBy)
	}
	for _, r := range c.Relations {
		fmt.Fprintf(w, "  -> %s %s\n", r.Type, r.Target)
	}
	for i, ev := range c.Evidence {
		line := fmt.Sprintf("  evidence %d: %s", i+1, ev.Kind)
		if ev.Source != "" {
			line += " from " + ev.Source
		}
		if ev.Citation != "" {
			line += " cites " + string(ev.Citation)
		}
		if sig := ev.Significance; sig != nil && sig.PValue != nil {
			line += fmt.Sprintf(" p=%g", *sig.PValue)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func printHistory(w io.Writer, c *model.Claim) {
	for _, h := range c.History {
		fmt.Fprintf(w, "  r%-3d %s  %-10s %s  %s\n", h.Revision, h.Timestamp.Format("2006-01-02 15:04:05"), h.Status, h.Tier, h.Reason)
	}
}

func printReport(w io.Writer, r *model.Report) error {
	if outputFormat == "json" {
		return writeJSON(w, r)
	}

	state := "complete"
	if !r.Complete {
		state = "INTERRUPTED (partial)"
	}
	fmt.Fprintf(w, "Report %s: %d claims, %d edges, %s\n", r.ID, r.Claims, r.Edges, state)
	if len(r.Violations) == 0 {
		fmt.Fprintln(w, "✓ no violations")
		return nil
	}

	fmt.Fprintf(w, "✗ %d violations\n\n", len(r.Violations))
	for _, v := range r.Violations {
		ids := make([]string, len(v.Claims))
		for i, id := range v.Claims {
			ids[i] = string(id)
		}
		fmt.Fprintf(w, "[%s] %s (%s)\n", v.Severity, v.Kind, strings.Join(ids, ", "))
		fmt.Fprintf(w, "    %s\n", v.Description)
		if v.Suggestion != "" {
			fmt.Fprintf(w, "    fix: %s\n", v.Suggestion)
		}
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "text", "output format: text or json")
}
