package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/accesspdf/pipeline"
)

var (
	flagOutput       string
	flagJSON         bool
	flagFailOnIssues bool
)

var checkCmd = &cobra.Command{
	Use:   "check <file.pdf>",
	Short: "Check a local PDF and write its corrected copy",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

// errIssuesFound makes the process exit non-zero under --fail-on-issues.
var errIssuesFound = errors.New("accessibility issues found")

func init() {
	checkCmd.Flags().StringVarP(&flagOutput, "output", "o", "corrected.pdf", "Corrected PDF output path")
	checkCmd.Flags().BoolVar(&flagJSON, "json", false, "Print the report as JSON")
	checkCmd.Flags().BoolVar(&flagFailOnIssues, "fail-on-issues", false, "Exit with status 1 when issues are found")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx, cmd, os.Stderr, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.runner.CheckFile(ctx, args[0])
	if err != nil {
		return err
	}
	if err := copyFile(res.Corrected.Path, flagOutput); err != nil {
		return fmt.Errorf("write %s: %w", flagOutput, err)
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		resp := res.Response()
		resp.CorrectedPath = flagOutput
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		printReport(out, res)
		fmt.Fprintf(out, "\nPDF corrigé : %s\n", flagOutput)
	}

	if flagFailOnIssues && !res.Report.Empty() {
		return errIssuesFound
	}
	return nil
}

func printReport(w io.Writer, res *pipeline.Result) {
	fmt.Fprintln(w, "Rapport d'accessibilité")
	for _, warn := range res.Report.Warnings() {
		fmt.Fprintf(w, "! %s\n", warn)
	}
	if res.Report.Empty() {
		fmt.Fprintln(w, "Aucun problème détecté. Le document est conforme.")
		return
	}
	fmt.Fprintln(w, "Des problèmes ont été détectés et corrigés :")
	for _, msg := range res.Report.Messages() {
		fmt.Fprintf(w, "- %s\n", msg)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
