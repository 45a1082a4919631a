package cmd

import (
	"log/slog"
	"path/filepath"

	"github.com/omnidex-search/omnidex/internal/config"
	"github.com/omnidex-search/omnidex/internal/encoder"
	"github.com/omnidex-search/omnidex/internal/queue"
	"github.com/omnidex-search/omnidex/internal/search"
	"github.com/omnidex-search/omnidex/internal/store"
)

// app bundles the wired components a command operates on.
type app struct {
	cfg      *config.Config
	items    *store.ContentStore
	vectors  *store.PartitionedVectorStore
	keywords *store.FTSKeywordIndex
	gateway  *encoder.Gateway
	queue    *queue.Queue
	logger   *slog.Logger
}

func contentStorePath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "content.db")
}

func keywordIndexPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "keywords.db")
}

func vectorIndexDir(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "vectors")
}

// partitionConfigs maps the configured modality spaces onto vector
// store partitions.
func partitionConfigs(cfg *config.Config) map[store.Modality]store.PartitionConfig {
	partitions := make(map[store.Modality]store.PartitionConfig, len(cfg.Encoder.Modalities))
	for name, m := range cfg.Encoder.Modalities {
		partitions[store.Modality(name)] = store.PartitionConfig{
			Dimensions: m.Dimensions,
			Metric:     m.Metric,
		}
	}
	return partitions
}

// openApp opens every store and the encoder gateway. The returned app
// must be closed with app.close.
func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}

	items, err := store.NewContentStore(contentStorePath(cfg))
	if err != nil {
		return nil, err
	}

	vectors, err := store.NewPartitionedVectorStore(partitionConfigs(cfg))
	if err != nil {
		_ = items.Close()
		return nil, err
	}
	if err := vectors.Load(vectorIndexDir(cfg)); err != nil {
		_ = items.Close()
		return nil, err
	}

	keywords, err := store.NewFTSKeywordIndex(keywordIndexPath(cfg))
	if err != nil {
		_ = items.Close()
		_ = vectors.Close()
		return nil, err
	}

	gateway, err := encoder.NewGateway(cfg.Encoder)
	if err != nil {
		_ = items.Close()
		_ = vectors.Close()
		_ = keywords.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		items:    items,
		vectors:  vectors,
		keywords: keywords,
		gateway:  gateway,
		queue:    queue.NewQueue(items, cfg.Pipeline.QueueCapacity, logger),
		logger:   logger,
	}, nil
}

// searcher builds the query engine over the opened stores.
func (a *app) searcher() (*search.Engine, error) {
	return search.NewEngine(a.vectors, a.keywords, a.gateway, a.items, a.cfg.Search, a.logger)
}

// saveVectors persists the in-memory vector partitions.
func (a *app) saveVectors() error {
	return a.vectors.Save(vectorIndexDir(a.cfg))
}

func (a *app) close() {
	_ = a.gateway.Close()
	_ = a.keywords.Close()
	_ = a.vectors.Close()
	_ = a.items.Close()
}
