package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/claimledger/internal/model"
	"github.com/spf13/cobra"
)

// validateCmd runs a full consistency sweep
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run a full consistency sweep and print the report",
	Long: `Validate sweeps a point-in-time snapshot of the whole ledger and reports
contradictions, orphaned edges, stale tiers, supersession defects, stop
condition breaches and frozen tier drift.

The report only describes problems. Each finding carries a suggested repair
command citing the report id; nothing is changed automatically.

Exit status: 0 clean, 1 violations found.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(); err != nil {
			return err
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		if s.cfg.Sweep.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Sweep.Timeout)
			defer cancel()
		}

		report, sweepErr := s.ledger.Sweep(ctx)
		if report != nil {
			if err := printReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		}
		if sweepErr != nil {
			return sweepErr
		}
		if !report.Clean() {
			return errViolations
		}
		return nil
	},
}

// resolveCmd resolves the canonical claim of a topic
var resolveCmd = &cobra.Command{
	Use:   "resolve <scope|claim-id>",
	Short: "Print the canonical claim for a scope or claim id",
	Long: `Resolve follows supersession to the single live claim for a scope, or to
the tip of a claim's lineage.

Exit status: 4 when several claims compete for the scope; the candidates are
listed and never guessed between.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(); err != nil {
			return err
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		c, err := s.ledger.ResolveCanonical(cmd.Context(), args[0])
		var amb *model.AmbiguousError
		if errors.As(err, &amb) {
			fmt.Fprintf(os.Stderr, "✗ %d claims compete for %q:\n", len(amb.Candidates), amb.Topic)
			for _, id := range amb.Candidates {
				fmt.Fprintf(os.Stderr, "  %s\n", id)
			}
		}
		if err != nil {
			return err
		}
		return printClaim(cmd.OutOrStdout(), c)
	},
}

var showHistory bool

// showCmd prints one claim with its neighbourhood
var showCmd = &cobra.Command{
	Use:   "show <claim-id>",
	Short: "Print a claim, its supporters and detractors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(); err != nil {
			return err
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		id := model.ClaimID(args[0])
		c, err := s.ledger.Get(ctx, id)
		if err != nil {
			return err
		}
		supporters, err := s.ledger.Supporters(ctx, id)
		if err != nil {
			return err
		}
		detractors, err := s.ledger.Detractors(ctx, id)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if outputFormat == "json" {
			return writeJSON(w, struct {
				Claim      *model.Claim    `json:"claim"`
				Supporters []model.ClaimID `json:"supporters"`
				Detractors []model.ClaimID `json:"detractors"`
			}{c, supporters, detractors})
		}

		if err := printClaim(w, c); err != nil {
			return err
		}
		fmt.Fprintf(w, "  supporters: %s\n", joinIDs(supporters))
		fmt.Fprintf(w, "  detractors: %s\n", joinIDs(detractors))
		if showHistory {
			fmt.Fprintln(w, "  history:")
			printHistory(w, c)
		}
		return nil
	},
}

// chainCmd prints the supersession lineage of a claim
var chainCmd = &cobra.Command{
	Use:   "chain <claim-id>",
	Short: "Print the supersession lineage through a claim, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(); err != nil {
			return err
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		chain, err := s.ledger.DerivationChain(cmd.Context(), model.ClaimID(args[0]))
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if outputFormat == "json" {
			return writeJSON(w, chain)
		}
		for i, c := range chain {
			marker := " "
			if c.ID == model.ClaimID(args[0]) {
				marker = "*"
			}
			fmt.Fprintf(w, "%s %d. %s  [%s, %s]  %s\n", marker, i+1, c.ID, c.Status, c.Tier, c.Statement)
		}
		return nil
	},
}

func joinIDs(ids []model.ClaimID) string {
	if len(ids) == 0 {
		return "-"
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return strings.Join(out, ", ")
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(chainCmd)

	showCmd.Flags().BoolVar(&showHistory, "history", false, "include the revision history")
}
