// Package queryflow provides a top-level convenience entry point for
// assembling the corrective question-answering engine with minimal
// boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/queryflow"
//
//	engine, err := queryflow.New(config.DefaultConfig())
//	events := engine.Ask(ctx, "when did the rollout finish")
//
// The engine wires the hybrid retriever, document grader, query rewriter,
// answer synthesizer and confidence scorer into one orchestrator, plus a
// session manager for streaming callers.
package queryflow

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/config"
	"github.com/BaSui01/queryflow/grading"
	"github.com/BaSui01/queryflow/metrics"
	"github.com/BaSui01/queryflow/pipeline"
	"github.com/BaSui01/queryflow/providers/remote"
	"github.com/BaSui01/queryflow/retrieval"
	"github.com/BaSui01/queryflow/rewrite"
	"github.com/BaSui01/queryflow/session"
	"github.com/BaSui01/queryflow/store"
	"github.com/BaSui01/queryflow/synthesis"
	"github.com/BaSui01/queryflow/types"
)

// Version is the library version, overridable at build time.
var Version = "0.1.0"

// Option configures the engine created by [New].
type Option func(*options)

type options struct {
	logger     *zap.Logger
	store      store.SessionStore
	registerer prometheus.Registerer
	scorer     grading.RelevanceScorer
	generator  synthesis.Generator
	completion rewrite.CompletionProvider
	semantic   retrieval.SemanticIndex
	keyword    retrieval.KeywordIndex
	resolver   retrieval.ParentResolver
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore overrides the transcript persistence backend.
func WithStore(s store.SessionStore) Option {
	return func(o *options) { o.store = s }
}

// WithRegisterer sets the Prometheus registerer for engine metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithRelevanceScorer overrides the remote reranker.
func WithRelevanceScorer(s grading.RelevanceScorer) Option {
	return func(o *options) { o.scorer = s }
}

// WithGenerator overrides the generation service used for synthesis.
func WithGenerator(g synthesis.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithCompletionProvider overrides the completion backend for query rewriting.
func WithCompletionProvider(p rewrite.CompletionProvider) Option {
	return func(o *options) { o.completion = p }
}

// WithIndices overrides the search indices. resolver may be nil.
func WithIndices(semantic retrieval.SemanticIndex, keyword retrieval.KeywordIndex, resolver retrieval.ParentResolver) Option {
	return func(o *options) {
		o.semantic = semantic
		o.keyword = keyword
		o.resolver = resolver
	}
}

// Engine bundles the assembled pipeline with its session manager.
type Engine struct {
	Config       *config.Config
	Orchestrator *pipeline.Orchestrator
	Manager      *session.Manager
	Store        store.SessionStore
	Collector    *metrics.Collector

	logger *zap.Logger
}

// New assembles an engine from configuration. Remote service clients are
// created from cfg.Services unless overridden via options.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	collector := metrics.NewCollector(o.registerer)

	sessionStore := o.store
	if sessionStore == nil {
		var err error
		sessionStore, err = newStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize session store: %w", err)
		}
	}

	semantic, keyword, resolver := o.semantic, o.keyword, o.resolver
	if semantic == nil || keyword == nil {
		searchCfg := clientConfig(cfg.Services.Search)
		semanticClient := remote.NewSearchClient(searchCfg, remote.ModeSemantic, logger)
		keywordClient := remote.NewSearchClient(searchCfg, remote.ModeKeyword, logger)
		semantic, keyword, resolver = semanticClient, keywordClient, semanticClient
	}

	scorer := o.scorer
	if scorer == nil {
		scorer = remote.NewRerankClient(clientConfig(cfg.Services.Rerank), logger)
	}

	completionClient := remote.NewCompletionClient(clientConfig(cfg.Services.Completion), logger)
	generator := o.generator
	if generator == nil {
		generator = completionClient
	}
	completion := o.completion
	if completion == nil {
		completion = completionClient
	}

	retriever := retrieval.NewHybridRetriever(retrieval.HybridConfig{
		Alpha: cfg.Retrieval.Alpha,
		TopK:  cfg.Retrieval.TopK,
	}, semantic, keyword, resolver, logger)

	grader := grading.NewGrader(grading.GraderConfig{
		Threshold: cfg.Grading.Threshold,
	}, scorer, logger)

	confidence := grading.NewConfidenceScorer(grading.ConfidenceConfig{
		RelevanceWeight: cfg.Grading.RelevanceWeight,
		CountWeight:     cfg.Grading.CountWeight,
		SaturationDocs:  cfg.Grading.SaturationDocs,
		AcceptThreshold: cfg.Grading.AcceptThreshold,
	})

	rewriter := rewrite.NewRewriter(rewrite.Config{
		MaxRewrites:      cfg.Pipeline.MaxRewrites,
		MaxEvidenceHints: cfg.Rewrite.MaxEvidenceHints,
	}, completion, logger)

	synthesizer := synthesis.NewSynthesizer(synthesis.Config{
		TokenBudget: cfg.Synthesis.TokenBudget,
		Encoding:    cfg.Synthesis.Encoding,
	}, generator, logger)

	orchestrator := pipeline.NewOrchestrator(pipeline.Config{
		GateThreshold:       cfg.Pipeline.GateThreshold,
		MaxRewrites:         cfg.Pipeline.MaxRewrites,
		InsufficientMessage: cfg.Pipeline.InsufficientMessage,
		EventBuffer:         cfg.Pipeline.EventBuffer,
	}, retriever, grader, rewriter, synthesizer, confidence, collector, logger)

	manager := session.NewManager(session.Config{
		IdleTimeout:    cfg.Session.IdleTimeout,
		MaxSessions:    cfg.Session.MaxSessions,
		EventBuffer:    cfg.Session.EventBuffer,
		PersistTimeout: cfg.Session.PersistTimeout,
	}, orchestrator, sessionStore, collector, logger)

	return &Engine{
		Config:       cfg,
		Orchestrator: orchestrator,
		Manager:      manager,
		Store:        sessionStore,
		Collector:    collector,
		logger:       logger,
	}, nil
}

// Ask runs a single question through the pipeline, bypassing session
// management. The returned channel closes when the run finishes.
func (e *Engine) Ask(ctx context.Context, question string) <-chan types.Event {
	return e.Orchestrator.Run(ctx, question)
}

// Close releases backend resources.
func (e *Engine) Close() error {
	return e.Store.Close()
}

func newStore(cfg *config.Config) (store.SessionStore, error) {
	if !cfg.Redis.Enabled {
		return store.NewMemoryStore(), nil
	}
	return store.NewRedisStore(store.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		PoolSize:  cfg.Redis.PoolSize,
		KeyPrefix: cfg.Redis.KeyPrefix,
		TTL:       cfg.Redis.TTL,
	})
}

func clientConfig(ep config.ServiceEndpoint) remote.ClientConfig {
	return remote.ClientConfig{
		BaseURL: ep.BaseURL,
		APIKey:  ep.APIKey,
		Timeout: ep.Timeout,
		Model:   ep.Model,
	}
}
