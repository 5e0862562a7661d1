package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/docsync/internal/core/batch"
	"github.com/solatis/docsync/internal/engine"
	"github.com/solatis/docsync/internal/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Create documents from source records and run them",
	Long:  `Reads a JSON array of source records and runs one document per record through the rule.`,
	Args:  cobra.NoArgs,
	RunE:  runIngest,
}

var runCmd = &cobra.Command{
	Use:   "run [DOC...]",
	Short: "Rerun existing documents",
	Long: `Reruns the given documents, or with --rule every document of the rule in
one of the --status statuses (default: every status a rerun resumes from).`,
	RunE: runDocuments,
}

func init() {
	rootCmd.AddCommand(ingestCmd, runCmd)

	ingestCmd.Flags().String("rule", "", "rule id (required)")
	ingestCmd.Flags().String("input", "", "JSON file with an array of source records, - for stdin (required)")
	_ = ingestCmd.MarkFlagRequired("rule")
	_ = ingestCmd.MarkFlagRequired("input")

	runCmd.Flags().String("rule", "", "rerun documents of this rule instead of DOC arguments")
	runCmd.Flags().StringSlice("status", nil, "statuses selected with --rule (e.g. Relate_KO,Error_checking)")

	for _, c := range []*cobra.Command{ingestCmd, runCmd} {
		c.Flags().String("job", "", "job id (generated when empty)")
		c.Flags().Int("workers", 0, "parallel documents (overrides engine.workers)")
		c.Flags().Bool("preload", false, "preload the document index before the batch")
	}
}

func batchOptions(cmd *cobra.Command, a *app) batch.Options {
	if cmd.Flags().Changed("workers") {
		workers, _ := cmd.Flags().GetInt("workers")
		a.cfg.Workers = workers
	}
	jobID, _ := cmd.Flags().GetString("job")
	preload, _ := cmd.Flags().GetBool("preload")
	return batch.Options{JobID: jobID, Preload: preload}
}

func readRecords(path string) ([]types.Record, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var records []types.Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ruleID, _ := cmd.Flags().GetString("rule")
	input, _ := cmd.Flags().GetString("input")

	records, err := readRecords(input)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	opts := batchOptions(cmd, a)
	svc, err := batch.NewService(a.proc, a.store, a.cfg, a.log)
	if err != nil {
		return err
	}
	sum, err := svc.Ingest(cmd.Context(), ruleID, records, opts)
	if err != nil {
		return err
	}
	return printSummary(cmd.OutOrStdout(), sum)
}

func runDocuments(cmd *cobra.Command, args []string) error {
	ruleID, _ := cmd.Flags().GetString("rule")
	names, _ := cmd.Flags().GetStringSlice("status")

	var (
		ids      []string
		statuses []types.Status
		err      error
	)
	switch {
	case ruleID != "" && len(args) > 0:
		return fmt.Errorf("pass either DOC arguments or --rule, not both")
	case ruleID != "":
		if statuses, err = batch.ParseStatuses(names); err != nil {
			return err
		}
	case len(names) > 0:
		return fmt.Errorf("--status requires --rule")
	case len(args) == 0:
		return fmt.Errorf("no documents: pass DOC arguments or --rule")
	default:
		if ids, err = documentIDs(args); err != nil {
			return err
		}
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	opts := batchOptions(cmd, a)
	svc, err := batch.NewService(a.proc, a.store, a.cfg, a.log)
	if err != nil {
		return err
	}

	var sum *batch.Summary
	if ruleID != "" {
		sum, err = svc.Rerun(cmd.Context(), ruleID, statuses, opts)
	} else {
		sum, err = svc.RunDocuments(cmd.Context(), ids, opts)
	}
	if err != nil {
		return err
	}
	return printSummary(cmd.OutOrStdout(), sum)
}

// documentIDs validates document id arguments.
func documentIDs(args []string) ([]string, error) {
	ids := make([]string, len(args))
	for i, arg := range args {
		id, err := types.ParseDocumentID(arg)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func printSummary(w io.Writer, sum *batch.Summary) error {
	for _, r := range sum.Results {
		printResult(w, r)
	}
	fmt.Fprintf(w, "job %s: %d succeeded, %d failed\n", sum.JobID, sum.Succeeded, sum.Failed)
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed", sum.Failed, len(sum.Results))
	}
	return nil
}

func printResult(w io.Writer, r engine.Result) {
	if r.DocumentID == "" {
		fmt.Fprintf(w, "-\terror: %v\n", r.Err)
		return
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s", r.DocumentID, r.RuleID, r.SourceID, r.Type, r.Status)
	if r.TargetID != "" {
		fmt.Fprintf(w, "\ttarget=%s", r.TargetID)
	}
	if r.Err != nil {
		fmt.Fprintf(w, "\terror: %v", r.Err)
	}
	fmt.Fprintln(w)
}
