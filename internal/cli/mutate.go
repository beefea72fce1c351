package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ppiankov/claimledger/internal/ingest"
	"github.com/ppiankov/claimledger/internal/ledger"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/spf13/cobra"
)

var (
	mutation  ledger.MutationOptions
	refutedBy string
)

// addMutationFlags registers the flags shared by every mutating command
func addMutationFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&mutation.IfRevision, "if-revision", 0, "fail unless the claim is at this revision")
	cmd.Flags().StringVar(&mutation.Report, "report", "", "consistency report this change repairs")
	cmd.Flags().StringVar(&mutation.Note, "note", "", "reason recorded in the claim history")
}

func parseTier(s string) (model.Tier, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, model.Errorf(model.ErrValidation, "tier %q is not a number", s)
	}
	t := model.Tier(n)
	if !t.Valid() {
		return 0, model.Errorf(model.ErrValidation, "tier %d outside %d..%d", n, model.MinTier, model.MaxTier)
	}
	return t, nil
}

func parseRelation(src, typ, dst string) (model.Relation, error) {
	rt, err := model.ParseRelationType(typ)
	if err != nil {
		return model.Relation{}, err
	}
	return model.Relation{Source: model.ClaimID(src), Target: model.ClaimID(dst), Type: rt}, nil
}

// withLedger opens a session around fn
func withLedger(fn func(cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(); err != nil {
			return err
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(cmd, s, args)
	}
}

var promoteCmd = &cobra.Command{
	Use:   "promote <claim-id> <tier>",
	Short: "Raise a claim's tier through the promotion gate",
	Long: `Promote asks the promotion gate to raise a claim's tier. The gate refuses
when a stop condition is set without external validation, when the request is
not a raise, when an asserted contradicting claim sits at the same or a higher
tier, when reported significance misses alpha, or when the claim is no longer
live.

Exit status: 5 when the gate blocks the promotion; the reason is printed.`,
	Args: cobra.ExactArgs(2),
	RunE: withLedger(func(cmd *cobra.Command, s *session, args []string) error {
		tier, err := parseTier(args[1])
		if err != nil {
			return err
		}
		c, err := s.ledger.RequestPromotion(cmd.Context(), model.ClaimID(args[0]), tier, mutation)
		if reason, ok := model.BlockedReason(err); ok {
			fmt.Fprintf(os.Stderr, "✗ promotion blocked: %s\n", reason)
		}
		if err != nil {
			return err
		}
		return printClaim(cmd.OutOrStdout(), c)
	}),
}

var demoteCmd = &cobra.Command{
	Use:   "demote <claim-id> <tier>",
	Short: "Lower a claim's tier",
	Args:  cobra.ExactArgs(2),
	RunE: withLedger(func(cmd *cobra.Command, s *session, args []string) error {
		tier, err := parseTier(args[1])
		if err != nil {
			return err
		}
		c, err := s.ledger.Demote(cmd.Context(), model.ClaimID(args[0]), tier, mutation)
		if err != nil {
			return err
		}
		return printClaim(cmd.OutOrStdout(), c)
	}),
}

var transitionCmd = &cobra.Command{
	Use:   "transition <claim-id> <status>",
	Short: "Move a claim to a new lifecycle status",
	Long: `Transition requests a lifecycle status change:

  OPEN -> VALIDATED        needs at least one evidence item
  VALIDATED -> CLOSED      needs no unresolved contradiction
  VALIDATED|CLOSED -> OPEN
  CLOSED -> FROZEN         needs tier 0
  any live -> REFUTED      needs --refuted-by naming a live, contradicting
                           claim at the same or a lower tier

SUPERSEDED is never requested: ingesting or linking a supersedes edge sets it.`,
	Args: cobra.ExactArgs(2),
	RunE: withLedger(func(cmd *cobra.Command, s *session, args []string) error {
		to, err := model.ParseStatus(args[1])
		if err != nil {
			return err
		}
		opts := mutation
		opts.RefutedBy = model.ClaimID(refutedBy)
		c, err := s.ledger.Transition(cmd.Context(), model.ClaimID(args[0]), to, opts)
		if err != nil {
			return err
		}
		return printClaim(cmd.OutOrStdout(), c)
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop <claim-id>",
	Short: "Set the permanent stop condition on a claim",
	Args:  cobra.ExactArgs(1),
	RunE: withLedger(func(cmd *cobra.Command, s *session, args []string) error {
		c, err := s.ledger.MarkStopCondition(cmd.Context(), model.ClaimID(args[0]), mutation)
		if err != nil {
			return err
		}
		return printClaim(cmd.OutOrStdout(), c)
	}),
}

var evidenceCmd = &cobra.Command{
	Use:   "evidence <claim-id> <file>",
	Short: "Append evidence items read from a YAML file",
	Long: `Evidence appends every item of a YAML list of evidence entries, using the
same fields as the evidence section of a claim draft. Items are appended one
revision each, in file order.`,
	Args: cobra.ExactArgs(2),
	RunE: withLedger(func(cmd *cobra.Command, s *session, args []string) error {
		items, err := ingest.LoadEvidence(args[1])
		if err != nil {
			return err
		}

		var c *model.Claim
		opts := mutation
		for _, item := range items {
			c, err = s.ledger.AppendEvidence(cmd.Context(), model.ClaimID(args[0]), item, opts)
			if err != nil {
				return err
			}
			// The revision guard only applies to the first append
			opts.IfRevision = 0
		}
		if c == nil {
			return model.Errorf(model.ErrValidation, "%s holds no evidence items", args[1])
		}
		return printClaim(cmd.OutOrStdout(), c)
	}),
}

var linkCmd = &cobra.Command{
	Use:   "link <source> <type> <target>",
	Short: "Add a typed relation between two claims",
	Args:  cobra.ExactArgs(3),
	RunE: withLedger(func(cmd *cobra.Command, s *session, args []string) error {
		rel, err := parseRelation(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if err := s.ledger.Link(cmd.Context(), rel, mutation); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s\n", rel)
		return nil
	}),
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <source> <type> <target>",
	Short: "Remove a relation as an explicit resolution",
	Args:  cobra.ExactArgs(3),
	RunE: withLedger(func(cmd *cobra.Command, s *session, args []string) error {
		rel, err := parseRelation(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if err := s.ledger.Unlink(cmd.Context(), rel, mutation); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ removed %s\n", rel)
		return nil
	}),
}

var retargetCmd = &cobra.Command{
	Use:   "retarget <source> <type> <target>",
	Short: "Move an edge off a superseded claim onto its canonical successor",
	Args:  cobra.ExactArgs(3),
	RunE: withLedger(func(cmd *cobra.Command, s *session, args []string) error {
		rel, err := parseRelation(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		moved, err := s.ledger.Retarget(cmd.Context(), rel, mutation)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s\n", moved)
		return nil
	}),
}

func init() {
	for _, cmd := range []*cobra.Command{
		promoteCmd, demoteCmd, transitionCmd, stopCmd, evidenceCmd,
		linkCmd, unlinkCmd, retargetCmd,
	} {
		addMutationFlags(cmd)
		rootCmd.AddCommand(cmd)
	}
	transitionCmd.Flags().StringVar(&refutedBy, "refuted-by", "", "refuting claim, required for REFUTED")
}
