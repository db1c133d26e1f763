package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/marchingcubes/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage stored extraction runs",
	Long: `Manage runs saved with "extract --save" or by the job server:
list them, show a manifest with its stage trace, or clean old runs.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs",
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run manifest and its stage trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old runs",
	Long: `Delete runs based on a retention policy: keep only the newest N runs,
delete runs older than N days, or both.`,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)
	runsCmd.AddCommand(cleanRunsCmd)

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N runs (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openStore() (*store.FSStore, error) {
	fsStore, err := store.NewFSStore(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return fsStore, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func runListRuns(cmd *cobra.Command, args []string) error {
	fsStore, err := openStore()
	if err != nil {
		return err
	}
	infos, err := fsStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tCREATED\tSOURCE\tGRID\tISO\tTRIANGLES\tSIZE")
	fmt.Fprintln(w, "------\t-------\t------\t----\t---\t---------\t----")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d,%d,%d\t%.4f\t%s\t%s\n",
			shortID(info.RunID),
			humanize.Time(info.Timestamp),
			info.Source,
			info.GridLog2[0], info.GridLog2[1], info.GridLog2[2],
			info.IsoValue,
			humanize.Comma(int64(info.Triangles)),
			humanize.Bytes(uint64(info.Bytes)),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal runs: %d\n", len(infos))
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	fsStore, err := openStore()
	if err != nil {
		return err
	}
	manifest, err := fsStore.LoadRun(args[0])
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))

	tr, err := store.NewTraceReader(fsStore.BaseDir(), manifest.RunID)
	if err != nil {
		// Runs saved by the job server carry no trace.
		slog.Debug("No stage trace", "run_id", manifest.RunID, "error", err)
		return nil
	}
	defer tr.Close()
	entries, err := tr.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tISO\tSTAGE\tITEMS\tGROUPS\tTOTAL\tDURATION")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%d\t%d\t%d\t%s\n", e.Step, e.IsoValue, e.Stage, e.Items, e.Groups, e.Total, e.Duration)
	}
	return w.Flush()
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	fsStore, err := openStore()
	if err != nil {
		return err
	}
	infos, err := fsStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No runs to clean.")
		return nil
	}

	toDelete := selectRunsForDeletion(infos, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Println("No runs match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (%s, %s)\n", shortID(info.RunID), info.Source, humanize.Time(info.Timestamp))
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted, failed, freed := deleteRuns(fsStore, toDelete)
	fmt.Printf("\nDeleted %d run(s), %d failed, %s freed.\n", deleted, failed, humanize.Bytes(uint64(freed)))
	return nil
}

type runDeleter interface {
	DeleteRun(runID string) error
}

// deleteRuns removes each run and sums the bytes of the ones that went away.
func deleteRuns(st runDeleter, infos []store.RunInfo) (deleted, failed int, freed int64) {
	for _, info := range infos {
		if err := st.DeleteRun(info.RunID); err != nil {
			slog.Error("Failed to delete run", "run_id", info.RunID, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted run", "run_id", info.RunID)
		deleted++
		freed += info.Bytes
	}
	return deleted, failed, freed
}

// selectRunsForDeletion returns runs older than olderThanDays plus every run
// beyond the newest keepLast. Zero disables a rule.
func selectRunsForDeletion(infos []store.RunInfo, keepLast, olderThanDays int, now time.Time) []store.RunInfo {
	sorted := make([]store.RunInfo, len(infos))
	copy(sorted, infos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	cutoff := now.AddDate(0, 0, -olderThanDays)
	var toDelete []store.RunInfo
	for i, info := range sorted {
		tooOld := olderThanDays > 0 && info.Timestamp.Before(cutoff)
		beyondKeep := keepLast > 0 && i >= keepLast
		if tooOld || beyondKeep {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}
