package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/omnidex-search/omnidex/internal/output"
	"github.com/omnidex-search/omnidex/internal/search"
	"github.com/omnidex-search/omnidex/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	mode     string
	target   string
	payload  string
	limit    int
	weight   float64
	format   string
	degraded bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed content",
		Long: `Search indexed content with keyword, semantic, or hybrid retrieval.

Semantic search embeds the query and ranks by vector similarity in the
target modality's partition; cross-modal pairs (e.g. text query against
image results) require a configured joint encoder. Keyword search ranks
by full-text relevance over body text, alt-text, and transcripts.
Hybrid fuses both signals with min-max normalized weighted scoring.

Examples:
  omnidex search "red bicycle"
  omnidex search "jazz piano" --mode semantic --target audio
  omnidex search "love story" --mode keyword --limit 5
  omnidex search "sunset" --weight 0.8 --format json
  omnidex search --mode semantic --target image --payload query.png`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Retrieval mode: keyword, semantic, hybrid")
	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "Target modality: text, image, audio (default text)")
	cmd.Flags().StringVar(&opts.payload, "payload", "", "File with non-text query content (image or audio)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().Float64VarP(&opts.weight, "weight", "w", -1, "Semantic weight for hybrid fusion (0-1)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.degraded, "degraded", false, "Allow partial hybrid results when one path fails")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := openApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	engine, err := a.searcher()
	if err != nil {
		return err
	}

	req := search.Request{
		Mode:           search.Mode(opts.mode),
		TargetModality: store.Modality(opts.target),
		Text:           query,
		K:              opts.limit,
		AllowDegraded:  opts.degraded,
	}
	if opts.weight >= 0 {
		w := opts.weight
		req.Weight = &w
	}
	if opts.payload != "" {
		data, err := os.ReadFile(opts.payload)
		if err != nil {
			return fmt.Errorf("read query payload: %w", err)
		}
		req.Payload = data
		req.QueryModality = req.TargetModality
	}

	results, err := engine.Search(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		out.Dimf("No results")
		return nil
	}
	for i, r := range results {
		out.Printf("%2d. %-40s %s  score=%.4f  via=%s", i+1, r.ContentKey, r.Modality, r.Score, r.Source)
	}
	return nil
}
