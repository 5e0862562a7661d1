package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/docsync/internal/core/db"
	"github.com/solatis/docsync/internal/engine"
	"github.com/solatis/docsync/internal/types"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel DOC",
	Short: "Cancel a document and the children it generated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return documentAction(cmd, args[0], func(a *app, job *engine.Job, id string) engine.Result {
			return a.proc.Cancel(cmd.Context(), job, id)
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove DOC",
	Short: "Soft delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return documentAction(cmd, args[0], func(a *app, job *engine.Job, id string) engine.Result {
			return a.proc.SetDeleted(cmd.Context(), job, id, true)
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore DOC",
	Short: "Restore a soft deleted document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return documentAction(cmd, args[0], func(a *app, job *engine.Job, id string) engine.Result {
			return a.proc.SetDeleted(cmd.Context(), job, id, false)
		})
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs DOC",
	Short: "Print the audit trail of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	rootCmd.AddCommand(cancelCmd, removeCmd, restoreCmd, logsCmd)
	for _, c := range []*cobra.Command{cancelCmd, removeCmd, restoreCmd} {
		c.Flags().String("job", "", "job id (generated when empty)")
	}
}

func documentAction(cmd *cobra.Command, arg string, fn func(*app, *engine.Job, string) engine.Result) error {
	docID, err := types.ParseDocumentID(arg)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	job := engine.NewJob(nil)
	if jobID, _ := cmd.Flags().GetString("job"); jobID != "" {
		job.ID = jobID
	}

	r := fn(a, job, docID)
	if r.DocumentID == "" {
		return fmt.Errorf("document %s: %w", docID, r.Err)
	}
	printResult(cmd.OutOrStdout(), r)
	return r.Err
}

func runLogs(cmd *cobra.Command, args []string) error {
	docID, err := types.ParseDocumentID(args[0])
	if err != nil {
		return err
	}

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	st, err := db.NewStore(database)
	if err != nil {
		return err
	}
	logs, err := st.ListLogs(cmd.Context(), docID)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return fmt.Errorf("no logs for document %s", docID)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSEVERITY\tJOB\tREF\tMESSAGE")
	for _, l := range logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			l.CreatedAt.UTC().Format(time.RFC3339), l.Severity, l.JobID, l.RefDocumentID, l.Message)
	}
	return w.Flush()
}
