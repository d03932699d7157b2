// Command kairo-replay runs and checks deterministic replay episodes outside
// the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/kairo/internal/lineage"
	"github.com/ashita-ai/kairo/internal/model"
	"github.com/ashita-ai/kairo/internal/replay"
)

var (
	rootCmd = &cobra.Command{
		Use:          "kairo-replay",
		Short:        "Run and verify deterministic replay episodes",
		SilenceUsage: true,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Execute the seeded scenario in several environments and certify the hashes agree",
		RunE:  runEpisode,
	}
	validateCmd = &cobra.Command{
		Use:   "validate [env=hash ...]",
		Short: "Compare externally recorded global hashes for one seed",
		Args:  cobra.MinimumNArgs(replay.MinEnvironments),
		RunE:  validateEpisode,
	}
	verifyExportCmd = &cobra.Command{
		Use:   "verify-export [file]",
		Short: "Verify the checksum and hash chain of a lineage export",
		Args:  cobra.ExactArgs(1),
		RunE:  verifyExport,
	}

	seed   string
	cycles int
	envs   []string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&seed, "seed", "0", "scenario seed (decimal, or any string hashed to a seed)")
	rootCmd.PersistentFlags().IntVar(&cycles, "cycles", replay.DefaultCycles, "number of scenario steps in the episode")
	runCmd.Flags().StringSliceVar(&envs, "env", []string{"env-a", "env-b", "env-c"}, "environment labels")

	rootCmd.AddCommand(runCmd, validateCmd, verifyExportCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runEpisode(cmd *cobra.Command, _ []string) error {
	ep, err := replay.RunEpisode(cmd.Context(), replay.ParseSeed(seed), cycles, envs)
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), ep)
}

func validateEpisode(cmd *cobra.Command, args []string) error {
	results, err := parsePairs(args)
	if err != nil {
		return err
	}
	ep, err := replay.ValidateEpisode(replay.ParseSeed(seed), cycles, results, nil, nil)
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), ep)
}

func verifyExport(cmd *cobra.Command, args []string) error {
	doc, err := lineage.ReadExport(args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: %d entries, %d shards, session %s\n",
		doc.EntryCount, len(doc.Shards), doc.SessionHash)
	return err
}

// parsePairs reads env=hash arguments. Labels must be unique.
func parsePairs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		label, hash, ok := strings.Cut(arg, "=")
		if !ok || label == "" || hash == "" {
			return nil, fmt.Errorf("expected env=hash, got %q", arg)
		}
		if _, dup := out[label]; dup {
			return nil, fmt.Errorf("duplicate environment %q", label)
		}
		out[label] = hash
	}
	return out, nil
}

// report prints the episode and fails when the environments disagree.
func report(w io.Writer, ep model.ReplayEpisode) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ep); err != nil {
		return err
	}
	if !ep.Certified {
		return fmt.Errorf("episode %s not certified: variance %g", ep.EpisodeID, ep.Variance)
	}
	return nil
}
