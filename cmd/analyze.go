package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contract-cli/internal/evolution"
	"github.com/sells-group/contract-cli/internal/model"
	"github.com/sells-group/contract-cli/internal/orchestrator"
	"github.com/sells-group/contract-cli/internal/textextract"
	"github.com/sells-group/contract-cli/internal/view"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>...",
	Short: "Extract contract terms from local files and print the table",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		persist, _ := cmd.Flags().GetBool("persist")
		owner, _ := cmd.Flags().GetString("owner")
		accept, _ := cmd.Flags().GetBool("accept")
		search, _ := cmd.Flags().GetString("search")
		sortCol, _ := cmd.Flags().GetString("sort")
		desc, _ := cmd.Flags().GetBool("desc")
		export, _ := cmd.Flags().GetString("export")

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}
		if persist {
			if err := cfg.Validate("columns"); err != nil {
				return err
			}
		}
		if owner == "" {
			owner = cfg.OwnerID
		}

		files, err := readInputs(args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initApp(ctx, envOptions{Store: persist, Blobs: persist, Extraction: true})
		if err != nil {
			return err
		}
		defer env.Close()

		sess, err := env.Sessions.Get(ctx, owner)
		if err != nil {
			return err
		}

		outcomes := sess.Upload(ctx, files)
		writeOutcomes(os.Stderr, outcomes)

		if accept {
			acceptAll(ctx, os.Stderr, sess.Evolution)
		} else if s, state := sess.Evolution.Pending(); state == evolution.StateSuggested {
			fmt.Fprintf(os.Stderr, "Suggested column %q (%s) from %s; rerun with --accept to add it.\n",
				s.Label, s.CandidateID, s.OriginDocument)
		}

		q := view.Query{Search: search}
		if sortCol != "" {
			dir := view.DirectionAsc
			if desc {
				dir = view.DirectionDesc
			}
			q.Sort = &view.SortSpec{ColumnID: sortCol, Direction: dir}
		}

		if export != "" {
			path, err := exportTable(sess.View, export, q, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Exported %s\n", path)
			return nil
		}
		writeTable(os.Stdout, sess.View.Table(q))
		return nil
	},
}

// readInputs loads files from disk and detects their MIME types.
func readInputs(paths []string) ([]model.FileInput, error) {
	files := make([]model.FileInput, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", p)
		}
		name := filepath.Base(p)
		files = append(files, model.FileInput{
			Name:     name,
			MimeType: textextract.DetectMimeType(name, data),
			Data:     data,
		})
	}
	return files, nil
}

func writeOutcomes(w io.Writer, outcomes []orchestrator.Outcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATUS\tDETAIL")
	for _, o := range outcomes {
		status := string(o.Status)
		if status == "" {
			status = "rejected"
		}
		detail := ""
		if o.Err != nil {
			detail = o.Err.Error()
		} else if o.Suggestion != nil {
			detail = "suggests " + o.Suggestion.CandidateID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", o.FileName, status, detail)
	}
	_ = tw.Flush()
}

// acceptAll accepts pending suggestions until the queue is empty.
func acceptAll(ctx context.Context, w io.Writer, coord *evolution.Coordinator) {
	for {
		s, state := coord.Pending()
		if state != evolution.StateSuggested {
			return
		}
		report, err := coord.AcceptCandidate(ctx, s.CandidateID)
		if err != nil {
			fmt.Fprintf(w, "Accept %s failed: %v\n", s.CandidateID, err)
			continue
		}
		fmt.Fprintf(w, "Added column %q: backfilled %d/%d documents in %s.\n",
			report.Column.Label, report.Succeeded, report.Attempted, report.Duration.Round(time.Millisecond))
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  %s: %s\n", f.DocumentName, f.Error)
		}
	}
}

func writeTable(w io.Writer, t view.Table) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{view.DocumentLabelHeader}
	for _, c := range t.Columns {
		header = append(header, c.Label)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range t.Rows {
		line := []string{r.Document.DisplayName}
		for _, c := range r.Cells {
			line = append(line, flatten(c.Text()))
		}
		fmt.Fprintln(tw, strings.Join(line, "\t"))
	}
	_ = tw.Flush()
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// exportTable writes the table to target. A bare "csv" or "xlsx" writes the
// dated default file name in the working directory; otherwise the
// extension of target selects the format.
func exportTable(e *view.Engine, target string, q view.Query, now time.Time) (string, error) {
	path := target
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(target)), ".")
	if t := strings.ToLower(target); t == "csv" || t == "xlsx" {
		ext = t
		path = view.ExportFileName(now, ext)
	}

	var write func(io.Writer, view.Query) error
	switch ext {
	case "csv":
		write = e.ExportCSV
	case "xlsx":
		write = e.ExportXLSX
	default:
		return "", eris.Errorf("export: unsupported format %q (use .csv or .xlsx)", target)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "export: create file")
	}
	if err := write(f, q); err != nil {
		f.Close() //nolint:errcheck
		return "", err
	}
	return path, eris.Wrap(f.Close(), "export: close file")
}

func init() {
	analyzeCmd.Flags().Bool("persist", false, "store results and originals using the configured database and blob store")
	analyzeCmd.Flags().String("owner", "", "owner id (default from config)")
	analyzeCmd.Flags().Bool("accept", false, "accept every suggested column and backfill it")
	analyzeCmd.Flags().String("search", "", "only show rows containing this text")
	analyzeCmd.Flags().String("sort", "", "column id to sort by")
	analyzeCmd.Flags().Bool("desc", false, "sort descending")
	analyzeCmd.Flags().String("export", "", "write csv or xlsx instead of printing (file path, or just csv/xlsx)")
	rootCmd.AddCommand(analyzeCmd)
}
