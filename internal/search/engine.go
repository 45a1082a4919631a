package search

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omnidex-search/omnidex/internal/config"
	"github.com/omnidex-search/omnidex/internal/encoder"
	"github.com/omnidex-search/omnidex/internal/errors"
	"github.com/omnidex-search/omnidex/internal/store"
)

// EncoderRouter resolves the encoder serving a (query, target)
// modality pair. Satisfied by *encoder.Gateway.
type EncoderRouter interface {
	EncoderFor(query, target store.Modality) (encoder.Encoder, error)
}

// Engine executes search requests against the committed indexes. It
// runs concurrently with ingestion; each index read sees committed
// writes only, so a query may race a commit but never observes a
// half-written entry.
type Engine struct {
	vectors  store.VectorIndex
	keywords store.KeywordIndex
	router   EncoderRouter
	catalog  itemCatalog
	config   config.SearchConfig
	logger   *slog.Logger
}

var _ Searcher = (*Engine)(nil)

// NewEngine creates the query engine. All dependencies are required.
func NewEngine(vectors store.VectorIndex, keywords store.KeywordIndex, router EncoderRouter, catalog itemCatalog, cfg config.SearchConfig, logger *slog.Logger) (*Engine, error) {
	if vectors == nil || keywords == nil || router == nil || catalog == nil {
		return nil, errors.New(errors.ErrCodeInternal, "search engine requires vector index, keyword index, encoder router, and content catalog", nil)
	}
	if cfg.FusionWeight == 0 && cfg.DefaultLimit == 0 {
		cfg = config.DefaultConfig().Search
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		vectors:  vectors,
		keywords: keywords,
		router:   router,
		catalog:  catalog,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Search executes one query. Hybrid mode runs the semantic and keyword
// paths in parallel and fuses the ranked lists; single modes run one
// path and pass its native scores through. Results are restricted to
// items in indexed status, so a permanently failed item is never
// visible even if stale index entries survive a crash.
func (e *Engine) Search(ctx context.Context, req Request) ([]*QueryResult, error) {
	start := time.Now()

	req, err := e.normalize(req)
	if err != nil {
		return nil, err
	}

	if e.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.QueryTimeout)
		defer cancel()
	}

	var fused []*FusedResult
	switch req.Mode {
	case ModeSemantic:
		sem, semErr := e.semanticSearch(ctx, req)
		if semErr != nil {
			return nil, e.mapQueryError(ctx, semErr)
		}
		fused = e.fusionFor(req, 1).Fuse(sem, nil)
	case ModeKeyword:
		kw, kwErr := e.keywordSearch(ctx, req)
		if kwErr != nil {
			return nil, e.mapQueryError(ctx, kwErr)
		}
		fused = e.fusionFor(req, 0).Fuse(nil, kw)
	case ModeHybrid:
		sem, kw, hErr := e.parallelSearch(ctx, req)
		if hErr != nil {
			return nil, e.mapQueryError(ctx, hErr)
		}
		fused = e.fusionFor(req, e.config.FusionWeight).Fuse(sem, kw)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidQuery, "unknown search mode %q", req.Mode)
	}

	results, err := e.visibleResults(ctx, fused, req.K)
	if err != nil {
		return nil, e.mapQueryError(ctx, err)
	}

	e.logger.Debug("search completed",
		slog.String("mode", string(req.Mode)),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(start)))

	return results, nil
}

// normalize validates the request and fills defaults.
func (e *Engine) normalize(req Request) (Request, error) {
	switch req.Mode {
	case ModeKeyword, ModeSemantic, ModeHybrid:
	case "":
		req.Mode = ModeHybrid
	default:
		return req, errors.Newf(errors.ErrCodeInvalidQuery, "unknown search mode %q", req.Mode)
	}

	if req.QueryModality == "" {
		req.QueryModality = store.ModalityText
	}
	if req.TargetModality == "" {
		req.TargetModality = req.QueryModality
	}

	needsText := req.Mode == ModeKeyword || req.Mode == ModeHybrid ||
		(req.Mode == ModeSemantic && req.QueryModality == store.ModalityText)
	if needsText {
		req.Text = strings.TrimSpace(req.Text)
		if req.Text == "" {
			return req, errors.New(errors.ErrCodeInvalidQuery, "query text is required", nil)
		}
	}
	if req.Mode != ModeKeyword && req.QueryModality != store.ModalityText && len(req.Payload) == 0 {
		return req, errors.Newf(errors.ErrCodeInvalidQuery, "%s query requires a payload", req.QueryModality)
	}

	// Hybrid queries carry text for the keyword path; the semantic
	// path embeds the same text, so any non-text query modality
	// demands a joint encoder for the pair.
	if req.Mode == ModeHybrid {
		req.QueryModality = store.ModalityText
	}

	if req.K <= 0 {
		req.K = e.config.DefaultLimit
	}
	if e.config.MaxLimit > 0 && req.K > e.config.MaxLimit {
		req.K = e.config.MaxLimit
	}
	return req, nil
}

// semanticSearch embeds the query payload with the encoder for the
// (query, target) modality pair and runs a k-NN lookup on the target
// partition. An unconfigured pair rejects the query rather than
// returning an empty list that would look like a real miss.
func (e *Engine) semanticSearch(ctx context.Context, req Request) ([]*store.VectorResult, error) {
	enc, err := e.router.EncoderFor(req.QueryModality, req.TargetModality)
	if err != nil {
		return nil, err
	}

	data := req.Payload
	if req.QueryModality == store.ModalityText {
		data = []byte(req.Text)
	}
	vec, err := enc.Encode(ctx, encoder.Payload{Modality: req.QueryModality, Data: data})
	if err != nil {
		return nil, err
	}

	// Over-fetch so status filtering still fills K.
	return e.vectors.Query(ctx, req.TargetModality, vec, req.K*2)
}

// keywordSearch runs the full-text path across all modalities.
func (e *Engine) keywordSearch(ctx context.Context, req Request) ([]*store.KeywordResult, error) {
	return e.keywords.Query(ctx, req.Text, req.K*2)
}

// parallelSearch runs both retrieval paths concurrently. A sub-path
// failure fails the query unless the caller opted into degraded
// results and the other path succeeded.
func (e *Engine) parallelSearch(ctx context.Context, req Request) ([]*store.VectorResult, []*store.KeywordResult, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		sem    []*store.VectorResult
		kw     []*store.KeywordResult
		semErr error
		kwErr  error
	)

	g.Go(func() error {
		sem, semErr = e.semanticSearch(gctx, req)
		return nil
	})
	g.Go(func() error {
		kw, kwErr = e.keywordSearch(gctx, req)
		return nil
	})

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, waitErr
	}

	if semErr != nil && kwErr != nil {
		return nil, nil, stderrors.Join(semErr, kwErr)
	}
	if semErr != nil {
		if !req.AllowDegraded {
			return nil, nil, semErr
		}
		e.logger.Warn("semantic path failed, returning keyword-only results",
			slog.String("error", semErr.Error()))
		return nil, kw, nil
	}
	if kwErr != nil {
		if !req.AllowDegraded {
			return nil, nil, kwErr
		}
		e.logger.Warn("keyword path failed, returning semantic-only results",
			slog.String("error", kwErr.Error()))
		return sem, nil, nil
	}
	return sem, kw, nil
}

// fusionFor builds the fusion step for this request. Single-path
// modes pin the weight so the surviving path's normalized score passes
// through unchanged.
func (e *Engine) fusionFor(req Request, weight float64) *WeightedFusion {
	if req.Mode == ModeHybrid && req.Weight != nil {
		weight = *req.Weight
	}
	return NewWeightedFusion(weight)
}

// visibleResults resolves fused entries against the content store and
// drops everything that is not in indexed status. Failed or still
// in-flight items never reach a caller.
func (e *Engine) visibleResults(ctx context.Context, fused []*FusedResult, k int) ([]*QueryResult, error) {
	results := make([]*QueryResult, 0, k)
	for _, fr := range fused {
		if len(results) >= k {
			break
		}
		item, err := e.catalog.GetItem(ctx, fr.ContentKey)
		if err != nil {
			return nil, err
		}
		if item == nil || item.Status != store.StatusIndexed {
			continue
		}
		results = append(results, &QueryResult{
			ContentKey: fr.ContentKey,
			Score:      fr.Score,
			Modality:   item.Modality,
			Source:     fr.Source,
		})
	}
	return results, nil
}

// mapQueryError translates a deadline hit into the caller-facing
// timeout code. Other errors pass through with their own codes.
func (e *Engine) mapQueryError(ctx context.Context, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && stderrors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return errors.Wrap(errors.ErrCodeQueryTimeout, err)
	}
	return err
}
