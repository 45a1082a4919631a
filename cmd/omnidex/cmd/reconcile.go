package cmd

import (
	"github.com/spf13/cobra"

	"github.com/omnidex-search/omnidex/internal/ingest"
	"github.com/omnidex-search/omnidex/internal/output"
)

func newReconcileCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check indexes against the content store",
		Long: `Compare the vector and keyword indexes against the content store.
Indexed items missing from either index and index entries without a
live indexed item are reported as drift. With --repair, orphan entries
are removed and items with missing entries are re-queued for the full
fetch chain.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(cmd, repair)
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Repair detected drift")

	return cmd
}

func runReconcile(cmd *cobra.Command, repair bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := openApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	rec := ingest.NewReconciler(a.items, a.vectors, a.keywords, a.queue, a.logger)
	result, err := rec.Check(cmd.Context())
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Printf("Checked %d item(s) in %s", result.Checked, result.Duration)
	if len(result.Drifts) == 0 {
		out.Successf("Indexes are consistent")
		return nil
	}

	for _, d := range result.Drifts {
		out.Warningf("%s: %s (%s)", d.ContentKey, d.Type, d.Modality)
	}
	if !repair {
		out.Dimf("Run with --repair to fix")
		return nil
	}

	if err := rec.Repair(cmd.Context(), result); err != nil {
		return err
	}
	if err := a.saveVectors(); err != nil {
		return err
	}
	out.Successf("Repaired %d drift(s)", len(result.Drifts))
	return nil
}
