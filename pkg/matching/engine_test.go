package matching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	delay   time.Duration
	calls   int
	texts   []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts ...string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, texts...)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := f.vectors[text]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

type fakeOracle struct {
	answer bool
	err    error
	calls  int
}

func (f *fakeOracle) AreEquivalent(_ context.Context, _, _ string) (bool, error) {
	f.calls++
	return f.answer, f.err
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]float32
}

func (m *mapCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = vector
	return nil
}

func TestEngine_SyntacticStrategies(t *testing.T) {
	engine := NewEngine(testLogger(), nil, nil, nil, DefaultOptions())
	ctx := context.Background()

	tests := []struct {
		name       string
		a, b       string
		locale     string
		equivalent bool
		score      float64
		reason     string
	}{
		{"exact after normalization", "Köln", "Koeln", "DE", true, 1.0, ReasonExact},
		{"exact ignores punctuation", "Bad-Homburg", "Bad Homburg", "DE", true, 1.0, ReasonExact},
		{"core name", "Stadt Bamberg", "Bamberg", "DE", true, 0.95, ReasonCoreName},
		{"core name beats substring", "Gemeinde Litzendorf", "Litzendorf", "DE", true, 0.95, ReasonCoreName},
		{"substring", "Frankfurt am Main", "Frankfurt", "DE", true, 0.90, ReasonSubstring},
		{"fuzzy", "Muenchhausen", "Münchhausen", "", true, 1.0 - 1.0/12.0, ReasonFuzzy},
		{"short names never substring", "Ulm", "Ulme", "DE", false, 0.75, ReasonNone},
		{"different", "Bamberg", "Hamburg", "DE", false, 1.0 - 2.0/7.0, ReasonNone},
		{"empty name", "", "Bamberg", "DE", false, 0, ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := engine.Equivalent(ctx, tt.a, tt.b, tt.locale)
			assert.Equal(t, tt.equivalent, v.IsEquivalent)
			assert.InDelta(t, tt.score, v.Score, 1e-9)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

func TestEngine_ExactIsSymmetric(t *testing.T) {
	engine := NewEngine(testLogger(), &fakeEmbedder{}, &fakeOracle{answer: true}, nil, DefaultOptions())
	pairs := [][2]string{{"Köln", "Koeln"}, {"Straße", "Strasse"}, {"ST. ALBANS", "st albans"}}
	for _, p := range pairs {
		ab := engine.Equivalent(context.Background(), p[0], p[1], "DE")
		ba := engine.Equivalent(context.Background(), p[1], p[0], "DE")
		assert.Equal(t, Verdict{IsEquivalent: true, Score: 1.0, Reason: ReasonExact}, ab)
		assert.Equal(t, ab, ba)
	}
}

func TestEngine_CoreFuzzy(t *testing.T) {
	engine := NewEngine(testLogger(), nil, nil, nil, Options{Threshold: 0.8})
	v := engine.Equivalent(context.Background(), "Stadt Nuernberg", "Markt Nuernburg", "")
	assert.True(t, v.IsEquivalent)
	assert.Equal(t, ReasonCoreFuzzy, v.Reason)
	assert.InDelta(t, 1.0-1.0/9.0, v.Score, 1e-9)
}

func TestEngine_Semantic(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"Munich":  {1, 0.1, 0},
		"München": {1, 0.12, 0},
	}}
	engine := NewEngine(testLogger(), embedder, nil, nil, DefaultOptions())

	v := engine.Equivalent(context.Background(), "Munich", "München", "")
	assert.True(t, v.IsEquivalent)
	assert.Equal(t, ReasonSemantic, v.Reason)
	assert.Greater(t, v.Score, 0.99)

	// vectors are cached per normalized name
	engine.Equivalent(context.Background(), "MUNICH", "München", "")
	assert.Equal(t, 1, embedder.calls)
}

func TestEngine_SharedCache(t *testing.T) {
	cache := &mapCache{data: map[string][]float32{
		"munich":  {1, 0, 0},
		"munchen": {1, 0, 0},
	}}
	embedder := &fakeEmbedder{}
	engine := NewEngine(testLogger(), embedder, nil, cache, DefaultOptions())

	v := engine.Equivalent(context.Background(), "Munich", "München", "")
	assert.Equal(t, ReasonSemantic, v.Reason)
	assert.Equal(t, 0, embedder.calls)
}

func TestEngine_CrossLingual(t *testing.T) {
	oracle := &fakeOracle{answer: true}
	engine := NewEngine(testLogger(), nil, oracle, nil, DefaultOptions())

	t.Run("maybe band consults oracle", func(t *testing.T) {
		v := engine.Equivalent(context.Background(), "Cologne", "Colonia", "")
		assert.True(t, v.IsEquivalent)
		assert.Equal(t, ReasonCrossLingual, v.Reason)
		assert.Equal(t, 0.95, v.Score)
		assert.Equal(t, 1, oracle.calls)
	})

	t.Run("below maybe band skips oracle", func(t *testing.T) {
		oracle.calls = 0
		v := engine.Equivalent(context.Background(), "Bamberg", "Zwickau", "")
		assert.False(t, v.IsEquivalent)
		assert.Equal(t, 0, oracle.calls)
	})
}

func TestEngine_BackendFailures(t *testing.T) {
	t.Run("embedding error skips semantic and oracle", func(t *testing.T) {
		oracle := &fakeOracle{answer: true}
		engine := NewEngine(testLogger(), &fakeEmbedder{err: errors.New("boom")}, oracle, nil, DefaultOptions())

		v := engine.Equivalent(context.Background(), "Cologne", "Colonia", "")
		assert.False(t, v.IsEquivalent)
		assert.Equal(t, ReasonNone, v.Reason)
		assert.InDelta(t, 1.0-3.0/7.0, v.Score, 1e-9)
		assert.Equal(t, 0, oracle.calls)
	})

	t.Run("embedding timeout is treated as unavailable", func(t *testing.T) {
		opts := DefaultOptions()
		opts.EmbeddingTimeout = 10 * time.Millisecond
		engine := NewEngine(testLogger(), &fakeEmbedder{delay: time.Second}, nil, nil, opts)

		start := time.Now()
		v := engine.Equivalent(context.Background(), "Cologne", "Colonia", "")
		assert.False(t, v.IsEquivalent)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("oracle error keeps syntactic verdict", func(t *testing.T) {
		engine := NewEngine(testLogger(), nil, &fakeOracle{err: errors.New("rate limited")}, nil, DefaultOptions())
		v := engine.Equivalent(context.Background(), "Cologne", "Colonia", "")
		assert.False(t, v.IsEquivalent)
		assert.Equal(t, ReasonNone, v.Reason)
	})

	t.Run("exact still works without backends", func(t *testing.T) {
		engine := NewEngine(testLogger(), &fakeEmbedder{err: errors.New("boom")}, nil, nil, DefaultOptions())
		v := engine.Equivalent(context.Background(), "Koeln", "Köln", "DE")
		assert.Equal(t, ReasonExact, v.Reason)
	})
}

func TestEngine_Embedding(t *testing.T) {
	engine := NewEngine(testLogger(), nil, nil, nil, DefaultOptions())
	_, err := engine.Embedding(context.Background(), "Bamberg", "DE")
	require.ErrorIs(t, err, ErrOracleUnavailable)

	embedder := &fakeEmbedder{vectors: map[string][]float32{"Bamberg": {0.5, 0.5}}}
	engine = NewEngine(testLogger(), embedder, nil, nil, DefaultOptions())
	engine.Remember("Hallstadt", "DE", []float32{1, 0})

	v, err := engine.Embedding(context.Background(), "Hallstadt", "DE")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)
	assert.Equal(t, 0, embedder.calls)

	v, err = engine.Embedding(context.Background(), "Bamberg", "DE")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, v)
}

func TestEngine_BackendCooldown(t *testing.T) {
	t.Run("hung embedder is called once per cooldown", func(t *testing.T) {
		opts := DefaultOptions()
		opts.EmbeddingTimeout = 10 * time.Millisecond
		embedder := &fakeEmbedder{delay: time.Minute}
		engine := NewEngine(testLogger(), embedder, nil, nil, opts)

		names := []string{"Bamberg", "Zwickau", "Hallstadt", "Litzendorf", "Buttenheim", "Memmelsdorf"}
		start := time.Now()
		for i := range names {
			for j := i + 1; j < len(names); j++ {
				v := engine.Equivalent(context.Background(), names[i], names[j], "DE")
				assert.False(t, v.IsEquivalent)
			}
		}
		assert.Equal(t, 1, embedder.calls)
		assert.Less(t, time.Since(start), 500*time.Millisecond)

		_, err := engine.Embedding(context.Background(), "Bamberg", "DE")
		require.ErrorIs(t, err, ErrOracleUnavailable)
		assert.Equal(t, 1, embedder.calls)
	})

	t.Run("backend is retried after the cooldown", func(t *testing.T) {
		embedder := &fakeEmbedder{err: errors.New("boom")}
		engine := NewEngine(testLogger(), embedder, nil, nil, DefaultOptions())
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		engine.now = func() time.Time { return now }

		engine.Equivalent(context.Background(), "Cologne", "Colonia", "")
		engine.Equivalent(context.Background(), "Cologne", "Colonia", "")
		assert.Equal(t, 1, embedder.calls)

		now = now.Add(31 * time.Second)
		embedder.err = nil
		embedder.vectors = map[string][]float32{"Cologne": {1, 0}, "Colonia": {1, 0}}
		v := engine.Equivalent(context.Background(), "Cologne", "Colonia", "")
		assert.Equal(t, ReasonSemantic, v.Reason)
		assert.Equal(t, 2, embedder.calls)
	})

	t.Run("failing oracle is skipped during cooldown", func(t *testing.T) {
		oracle := &fakeOracle{err: errors.New("rate limited")}
		engine := NewEngine(testLogger(), nil, oracle, nil, DefaultOptions())

		for range 5 {
			v := engine.Equivalent(context.Background(), "Cologne", "Colonia", "")
			assert.Equal(t, ReasonNone, v.Reason)
		}
		assert.Equal(t, 1, oracle.calls)
	})

	t.Run("negative cooldown never skips", func(t *testing.T) {
		opts := DefaultOptions()
		opts.BackendCooldown = -1
		oracle := &fakeOracle{err: errors.New("rate limited")}
		engine := NewEngine(testLogger(), nil, oracle, nil, opts)

		engine.Equivalent(context.Background(), "Cologne", "Colonia", "")
		engine.Equivalent(context.Background(), "Cologne", "Colonia", "")
		assert.Equal(t, 2, oracle.calls)
	})

	t.Run("cancelled caller does not open the breaker", func(t *testing.T) {
		embedder := &fakeEmbedder{delay: time.Minute}
		engine := NewEngine(testLogger(), embedder, nil, nil, DefaultOptions())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		engine.Equivalent(ctx, "Cologne", "Colonia", "")
		assert.False(t, engine.embedBreaker.open(time.Now()))
	})
}

func TestEngine_VectorCacheIsBounded(t *testing.T) {
	opts := DefaultOptions()
	opts.VectorCacheSize = 2
	embedder := &fakeEmbedder{}
	engine := NewEngine(testLogger(), embedder, nil, nil, opts)

	for _, name := range []string{"Bamberg", "Zwickau", "Hallstadt"} {
		_, err := engine.Embedding(context.Background(), name, "DE")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, engine.vectors.Len())

	// the oldest entry was evicted and is embedded again
	_, err := engine.Embedding(context.Background(), "Bamberg", "DE")
	require.NoError(t, err)
	assert.Equal(t, 4, embedder.calls)
}
