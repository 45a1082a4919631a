package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/omnidex-search/omnidex/internal/crawler"
	"github.com/omnidex-search/omnidex/internal/output"
	"github.com/omnidex-search/omnidex/internal/store"
)

// discoveryEntry is one row of a discovery manifest file.
type discoveryEntry struct {
	Key       string `yaml:"key"`
	Modality  string `yaml:"modality"`
	Ref       string `yaml:"ref"`
	SourceURL string `yaml:"source_url"`
	AltText   string `yaml:"alt_text"`
}

func newDiscoverCmd() *cobra.Command {
	var (
		sourceURL string
		altText   string
		manifest  string
	)

	cmd := &cobra.Command{
		Use:   "discover [<key> <modality> <ref>]",
		Short: "Register discovered content for ingestion",
		Long: `Register a discovered content reference and queue its fetch job.
Re-discovering a known key refreshes its metadata and re-pends it.

References may be http(s) URLs, file:// paths, or data: URIs.

Examples:
  omnidex discover page-42 text https://example.com/page-42
  omnidex discover cat-pic image https://example.com/cat.png --alt-text "a cat"
  omnidex discover --manifest crawl-batch.yaml`,
		Args: cobra.RangeArgs(0, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if manifest == "" && len(args) != 3 {
				return fmt.Errorf("either <key> <modality> <ref> or --manifest is required")
			}
			return runDiscover(cmd, args, sourceURL, altText, manifest)
		},
	}

	cmd.Flags().StringVar(&sourceURL, "source-url", "", "Page the content was discovered on")
	cmd.Flags().StringVar(&altText, "alt-text", "", "Descriptive text for non-text content")
	cmd.Flags().StringVar(&manifest, "manifest", "", "YAML file with a list of discoveries")

	return cmd
}

func runDiscover(cmd *cobra.Command, args []string, sourceURL, altText, manifest string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := openApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	out := output.New(cmd.OutOrStdout())
	intake := crawler.NewIntake(a.items, a.queue, a.logger)

	entries := []discoveryEntry{}
	if manifest != "" {
		data, err := os.ReadFile(manifest)
		if err != nil {
			return fmt.Errorf("read manifest: %w", err)
		}
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("parse manifest %s: %w", manifest, err)
		}
	} else {
		entries = append(entries, discoveryEntry{
			Key:       args[0],
			Modality:  args[1],
			Ref:       args[2],
			SourceURL: sourceURL,
			AltText:   altText,
		})
	}

	created, refreshed := 0, 0
	for _, e := range entries {
		isNew, err := intake.EnqueueDiscovery(cmd.Context(), e.Key, store.Modality(e.Modality), e.Ref, crawler.DiscoveryOptions{
			SourceURL: e.SourceURL,
			AltText:   e.AltText,
		})
		if err != nil {
			return fmt.Errorf("discover %s: %w", e.Key, err)
		}
		if isNew {
			created++
		} else {
			refreshed++
		}
	}

	out.Successf("Queued %d new, refreshed %d known", created, refreshed)
	return nil
}
