// Package cmd provides the CLI commands for omnidex.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omnidex-search/omnidex/internal/config"
	"github.com/omnidex-search/omnidex/pkg/version"
)

// Persistent flags shared by all subcommands.
var (
	configPath string
	dataDir    string
)

// NewRootCmd creates the root command for the omnidex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "omnidex",
		Short: "Multimodal crawl-index-search engine",
		Long: `Omnidex ingests crawled content (text pages, images, audio clips),
derives per-modality embeddings and transcripts through an encoder
gateway, and answers keyword, semantic, and hybrid search queries
across modalities.

Run 'omnidex run' to start the ingestion daemon, 'omnidex discover'
to feed it content, and 'omnidex search' to query the indexes.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("omnidex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default <data-dir>/omnidex.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default ~/.omnidex)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReconcileCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadConfig resolves the effective configuration for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Paths.DataDir = dataDir
	}
	return cfg, nil
}
