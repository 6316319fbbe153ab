// Package matching decides whether two names refer to the same real-world concept.
package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	lru "github.com/hashicorp/golang-lru"

	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/normalizers"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Reasons attached to verdicts, in strategy order.
const (
	ReasonExact        = "exact"
	ReasonCoreName     = "core-name"
	ReasonSubstring    = "substring"
	ReasonFuzzy        = "fuzzy"
	ReasonCoreFuzzy    = "core-fuzzy"
	ReasonSemantic     = "semantic"
	ReasonCrossLingual = "cross-lingual"
	ReasonNone         = "none"
)

const (
	scoreExact        = 1.0
	scoreCoreName     = 0.95
	scoreSubstring    = 0.90
	scoreCrossLingual = 0.95

	minCoreLen      = 3
	minSubstringLen = 5
)

// Verdict is the answer of Equivalent. For non-equivalent pairs Score is the best syntactic score seen.
type Verdict struct {
	IsEquivalent bool    `json:"is_equivalent"`
	Score        float64 `json:"score"`
	Reason       string  `json:"reason"`
}

// Embedder computes semantic vectors; one call may embed many texts.
type Embedder interface {
	Embed(ctx context.Context, texts ...string) ([][]float32, error)
}

// Oracle answers whether two names denote the same concept, typically across languages.
type Oracle interface {
	AreEquivalent(ctx context.Context, a, b string) (bool, error)
}

// EmbeddingCache is a shared vector cache, e.g. Redis. Misses return ok=false.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vector []float32) error
}

// Options contains configuration for the engine
type Options struct {
	Threshold        float64       // minimum fuzzy/semantic score for equivalence (default: 0.85)
	MaybeBand        float64       // lowest syntactic score that still consults the oracle (default: 0.5)
	EmbeddingTimeout time.Duration // bound on one embedding call, 0 = unbounded
	OracleTimeout    time.Duration // bound on one oracle call, 0 = unbounded
	BackendCooldown  time.Duration // how long a failed backend is skipped (default: 30s, negative = never skip)
	VectorCacheSize  int           // in-process vectors kept, least recently used evicted (default: 10000)
}

// DefaultOptions returns default engine configuration
func DefaultOptions() Options {
	return Options{
		Threshold:        0.85,
		MaybeBand:        0.5,
		EmbeddingTimeout: 5 * time.Second,
		OracleTimeout:    10 * time.Second,
		BackendCooldown:  30 * time.Second,
		VectorCacheSize:  10000,
	}
}

// Engine runs the equivalence strategies. Embedder, oracle and cache are optional.
type Engine struct {
	logger   ectologger.Logger
	scorer   *Scorer
	embedder Embedder
	oracle   Oracle
	cache    EmbeddingCache
	opts     Options
	now      func() time.Time

	vectors      *lru.Cache // embedding key -> []float32
	embedBreaker *breaker
	oracleBreak  *breaker
}

// NewEngine creates a new similarity engine
func NewEngine(logger ectologger.Logger, embedder Embedder, oracle Oracle, cache EmbeddingCache, opts Options) *Engine {
	defaults := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = defaults.Threshold
	}
	if opts.MaybeBand <= 0 {
		opts.MaybeBand = defaults.MaybeBand
	}
	if opts.BackendCooldown == 0 {
		opts.BackendCooldown = defaults.BackendCooldown
	}
	if opts.VectorCacheSize <= 0 {
		opts.VectorCacheSize = defaults.VectorCacheSize
	}
	// only fails for a non-positive size
	vectors, _ := lru.New(opts.VectorCacheSize)
	return &Engine{
		logger:       logger,
		scorer:       NewScorer(),
		embedder:     embedder,
		oracle:       oracle,
		cache:        cache,
		opts:         opts,
		now:          time.Now,
		vectors:      vectors,
		embedBreaker: &breaker{cooldown: opts.BackendCooldown},
		oracleBreak:  &breaker{cooldown: opts.BackendCooldown},
	}
}

// Threshold returns the configured default threshold.
func (e *Engine) Threshold() float64 {
	return e.opts.Threshold
}

// Equivalent compares two names with the default threshold.
func (e *Engine) Equivalent(ctx context.Context, a, b, locale string) Verdict {
	return e.EquivalentAt(ctx, a, b, locale, e.opts.Threshold)
}

// EquivalentAt applies the strategies in order and returns the first that succeeds: exact, core-name,
// substring, fuzzy, core-fuzzy, semantic, cross-lingual. Semantic backend failures skip the semantic
// strategies; they are never returned.
func (e *Engine) EquivalentAt(ctx context.Context, a, b, locale string, threshold float64) Verdict {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.Equivalent")
	defer span.End()

	if threshold <= 0 {
		threshold = e.opts.Threshold
	}

	v := e.equivalent(ctx, a, b, locale, threshold)
	metrics.StrategyHitsTotal.WithLabelValues(v.Reason).Inc()
	return v
}

func (e *Engine) equivalent(ctx context.Context, a, b, locale string, threshold float64) Verdict {
	na, nb := normalizers.Normalize(a, locale), normalizers.Normalize(b, locale)
	if na == "" || nb == "" {
		return Verdict{Reason: ReasonNone}
	}
	if na == nb {
		return Verdict{IsEquivalent: true, Score: scoreExact, Reason: ReasonExact}
	}

	ca, cb := normalizers.NormalizeCore(a, locale), normalizers.NormalizeCore(b, locale)
	coreUsable := runeLen(ca) >= minCoreLen && runeLen(cb) >= minCoreLen
	if coreUsable && ca == cb {
		return Verdict{IsEquivalent: true, Score: scoreCoreName, Reason: ReasonCoreName}
	}

	if runeLen(na) >= minSubstringLen && runeLen(nb) >= minSubstringLen &&
		(strings.Contains(na, nb) || strings.Contains(nb, na)) {
		return Verdict{IsEquivalent: true, Score: scoreSubstring, Reason: ReasonSubstring}
	}

	best := e.scorer.Ratio(na, nb)
	if best >= threshold {
		return Verdict{IsEquivalent: true, Score: best, Reason: ReasonFuzzy}
	}

	if coreUsable {
		core := e.scorer.Ratio(ca, cb)
		if core >= threshold {
			return Verdict{IsEquivalent: true, Score: core, Reason: ReasonCoreFuzzy}
		}
		best = max(best, core)
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{"name_a": a, "name_b": b})

	if e.embedder != nil {
		vectors, err := e.embeddings(ctx, locale, a, b)
		if err != nil {
			if errors.Is(err, errBackendDown) {
				log.Debug("Embedding backend cooling down, skipping semantic strategies")
			} else {
				log.WithError(err).Warn("Embedding unavailable, skipping semantic strategies")
			}
			return Verdict{Score: best, Reason: ReasonNone}
		}
		if cos := CosineSimilarity(vectors[0], vectors[1]); cos >= threshold {
			return Verdict{IsEquivalent: true, Score: cos, Reason: ReasonSemantic}
		}
	}

	if e.oracle != nil && best >= e.opts.MaybeBand && best < threshold {
		eq, err := e.askOracle(ctx, a, b)
		if err != nil {
			if errors.Is(err, errBackendDown) {
				log.Debug("Oracle cooling down, keeping syntactic verdict")
			} else {
				log.WithError(err).Warn("Oracle unavailable, keeping syntactic verdict")
			}
			return Verdict{Score: best, Reason: ReasonNone}
		}
		if eq {
			return Verdict{IsEquivalent: true, Score: scoreCrossLingual, Reason: ReasonCrossLingual}
		}
	}

	return Verdict{Score: best, Reason: ReasonNone}
}

func (e *Engine) askOracle(ctx context.Context, a, b string) (bool, error) {
	if e.oracleBreak.open(e.now()) {
		return false, errBackendDown
	}
	callCtx := ctx
	if e.opts.OracleTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.opts.OracleTimeout)
		defer cancel()
	}

	// fixed argument order keeps oracle answers stable under swapping
	if b < a {
		a, b = b, a
	}
	eq, err := e.oracle.AreEquivalent(callCtx, a, b)
	if err != nil {
		e.backendFailed(ctx, "oracle", e.oracleBreak, err)
		return false, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}
	return eq, nil
}

// backendFailed counts a failure and opens the backend's breaker.
func (e *Engine) backendFailed(ctx context.Context, backend string, b *breaker, err error) {
	metrics.BackendFailuresTotal.WithLabelValues(backend).Inc()
	if ctx.Err() != nil {
		// the caller gave up; the backend may be fine
		return
	}
	if b.trip(e.now()) {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"backend":  backend,
			"cooldown": e.opts.BackendCooldown.String(),
		}).Warn("Semantic backend failed, skipping it during cooldown")
	}
}
