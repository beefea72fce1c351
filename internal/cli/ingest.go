package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ppiankov/claimledger/internal/ingest"
	"github.com/ppiankov/claimledger/internal/worker"
	"github.com/spf13/cobra"
)

var (
	ingestWorkers int
	ingestRate    float64
	ingestBurst   int
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir|glob>...",
	Short: "Ingest claim draft files",
	Long: `Ingest reads YAML (or JSON) claim drafts and stores them as new OPEN claims.

Each claim is accepted or rejected on its own. Claims that reference other
claims of the same batch are stored after them.

Exit status: 0 all stored, 2 a claim was rejected, 3 a claim would create a
supersession cycle.

Example:
  claimledger ingest drafts/line-initial.yaml
  claimledger ingest 'drafts/**/*.yaml' --workers 8 --rate 20`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", runtime.NumCPU(), "number of concurrent workers")
	ingestCmd.Flags().Float64Var(&ingestRate, "rate", 0, "claims per second per producer (0 = unlimited)")
	ingestCmd.Flags().IntVar(&ingestBurst, "burst", 10, "rate limiter burst per producer")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	files, err := ingest.Expand(args)
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	workers := s.cfg.Ingest.Workers
	if cmd.Flags().Changed("workers") || workers <= 0 {
		workers = ingestWorkers
	}
	rate, burst := s.cfg.Ingest.RequestsPerSecond, s.cfg.Ingest.BurstSize
	if cmd.Flags().Changed("rate") {
		rate = ingestRate
	}
	if cmd.Flags().Changed("burst") {
		burst = ingestBurst
	}

	fmt.Fprintf(os.Stderr, "⚙️  Ingesting %d file(s) with %d workers...\n", len(files), workers)

	processor := worker.NewBatchProcessor(s.ledger, worker.NewLimiter(rate, burst), workers, s.logger)
	results := processor.ProcessFiles(ctx, files)

	errs := make([]error, 0, len(results))
	stored := 0
	for _, res := range results {
		if res.Error != nil {
			errs = append(errs, res.Error)
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", res.Source, res.Error)
			continue
		}
		stored++
		fmt.Fprintf(os.Stderr, "✓ %s (%s, %s)\n", res.Claim.ID, res.Claim.Scope, res.Claim.Tier)
	}

	fmt.Fprintf(os.Stderr, "\n  Stored:    %d\n  Rejected:  %d\n", stored, len(errs))
	return worst(errs)
}
