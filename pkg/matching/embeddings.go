package matching

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/sorrel/pkg/normalizers"
)

// EmbeddingKey is the cache key of a name's vector: its normalized form.
func EmbeddingKey(name, locale string) string {
	return normalizers.Normalize(name, locale)
}

// Remember seeds the bounded in-process cache with a vector already stored on a record.
func (e *Engine) Remember(name, locale string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	e.vectors.Add(EmbeddingKey(name, locale), vector)
}

// Embedding returns the vector of one name, computing and caching it when needed.
func (e *Engine) Embedding(ctx context.Context, name, locale string) ([]float32, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrOracleUnavailable)
	}
	vectors, err := e.embeddings(ctx, locale, name)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embeddings resolves vectors through the in-process cache, then the shared cache, then one batched
// embedder call for the rest.
func (e *Engine) embeddings(ctx context.Context, locale string, names ...string) ([][]float32, error) {
	out := make([][]float32, len(names))
	keys := make([]string, len(names))

	var missing []int
	for i, name := range names {
		keys[i] = EmbeddingKey(name, locale)
		if v, ok := e.vectors.Get(keys[i]); ok {
			out[i] = v.([]float32)
			continue
		}
		if e.cache != nil {
			v, ok, err := e.cache.Get(ctx, keys[i])
			if err != nil {
				e.logger.WithContext(ctx).WithError(err).Debug("Embedding cache read failed")
			} else if ok {
				e.vectors.Add(keys[i], v)
				out[i] = v
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return out, nil
	}
	if e.embedBreaker.open(e.now()) {
		return nil, errBackendDown
	}

	callCtx := ctx
	if e.opts.EmbeddingTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.opts.EmbeddingTimeout)
		defer cancel()
	}

	texts := make([]string, len(missing))
	for j, i := range missing {
		texts[j] = names[i]
	}

	vectors, err := e.embedder.Embed(callCtx, texts...)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	if err != nil {
		e.backendFailed(ctx, "embedding", e.embedBreaker, err)
		return nil, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}

	for j, i := range missing {
		out[i] = vectors[j]
		e.vectors.Add(keys[i], vectors[j])
		if e.cache != nil {
			if err := e.cache.Set(ctx, keys[i], vectors[j]); err != nil {
				e.logger.WithContext(ctx).WithError(err).Debug("Embedding cache write failed")
			}
		}
	}
	return out, nil
}
