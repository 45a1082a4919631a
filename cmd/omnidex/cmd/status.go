package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omnidex-search/omnidex/internal/output"
	"github.com/omnidex-search/omnidex/internal/store"
)

// statusReport is the machine-readable shape of the status command.
type statusReport struct {
	DataDir string                 `json:"data_dir"`
	Items   map[store.Status]int   `json:"items"`
	Jobs    map[store.JobState]int `json:"jobs"`
	Vectors map[store.Modality]int `json:"vectors"`
	Failed  []string               `json:"failed_keys,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [content-key]",
		Short: "Show pipeline and index status",
		Long: `Display ingestion pipeline and index state:
  - Content items per status (pending, embedding, indexed, failed)
  - Jobs per state (queued, running, succeeded, failed-permanent)
  - Live vectors per modality partition

With a content key, shows that item and its full job chain instead.
Permanently failed items are absent from search results; this command
is where they surface.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runItemStatus(cmd, args[0], jsonOutput)
			}
			return runStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runItemStatus(cmd *cobra.Command, key string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := openApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	status, err := a.items.GetStatus(cmd.Context(), key)
	if err != nil {
		return err
	}
	if status == nil {
		return fmt.Errorf("unknown content key %q", key)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out := output.New(cmd.OutOrStdout())
	out.Printf("%s  %s  %s", status.Item.Key, status.Item.Modality, status.Item.Status)
	out.Dimf("  ref: %s", status.Item.RawRef)
	if status.Item.Stale {
		out.Warningf("  stale: re-crawl pending")
	}
	for _, job := range status.Jobs {
		line := fmt.Sprintf("  %-18s %-16s attempts=%d", job.Kind, job.State, job.Attempts)
		if job.LastError != "" {
			line += "  " + job.LastError
		}
		out.Printf("%s", line)
	}
	return nil
}

func runStatus(cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := openApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()

	statuses, err := a.items.AllItemKeys(ctx)
	if err != nil {
		return err
	}
	report := statusReport{
		DataDir: cfg.Paths.DataDir,
		Items:   map[store.Status]int{},
		Vectors: map[store.Modality]int{},
	}
	for key, status := range statuses {
		report.Items[status]++
		if status == store.StatusFailed {
			report.Failed = append(report.Failed, key)
		}
	}

	report.Jobs, err = a.items.CountJobsByState(ctx)
	if err != nil {
		return err
	}

	for name := range cfg.Encoder.Modalities {
		modality := store.Modality(name)
		report.Vectors[modality] = a.vectors.Count(modality)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out := output.New(cmd.OutOrStdout())
	out.Printf("Data dir: %s", report.DataDir)
	out.Printf("")
	out.Printf("Items:")
	for _, s := range []store.Status{store.StatusPending, store.StatusEmbedding, store.StatusIndexed, store.StatusFailed} {
		if n := report.Items[s]; n > 0 {
			out.Printf("  %-12s %d", s, n)
		}
	}
	out.Printf("Jobs:")
	for state, n := range report.Jobs {
		out.Printf("  %-18s %d", state, n)
	}
	out.Printf("Vectors:")
	for modality, n := range report.Vectors {
		out.Printf("  %-8s %d", modality, n)
	}
	if len(report.Failed) > 0 {
		out.Warningf("%d item(s) failed permanently:", len(report.Failed))
		for _, key := range report.Failed {
			out.Dimf("  %s", key)
		}
	}
	return nil
}
