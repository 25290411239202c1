package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
)

type countingEmbedder struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (e *countingEmbedder) Name() string   { return "counting" }
func (e *countingEmbedder) Dimension() int { return 2 }

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	e.calls.Add(1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.err != nil {
		return nil, e.err
	}
	return []float64{float64(len(text)), 1}, nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestNewCachedEmbedder_InvalidCapacity(t *testing.T) {
	_, err := NewCachedEmbedder(&countingEmbedder{}, 0, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestCachedEmbedder_SameQueryCallsProviderOnce(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 8, nil)
	require.NoError(t, err)

	a, err := c.EmbedCached(context.Background(), "what is rag?")
	require.NoError(t, err)
	b, err := c.EmbedCached(context.Background(), "what is rag?")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCachedEmbedder_DistinctQueriesCallProviderEach(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 8, nil)
	require.NoError(t, err)

	_, err = c.EmbedCached(context.Background(), "first")
	require.NoError(t, err)
	// Keys are exact strings: case and whitespace differences are distinct queries.
	_, err = c.EmbedCached(context.Background(), "First")
	require.NoError(t, err)
	_, err = c.EmbedCached(context.Background(), "first ")
	require.NoError(t, err)

	assert.EqualValues(t, 3, inner.calls.Load())
	assert.Equal(t, 3, c.Len())
}

func TestCachedEmbedder_EvictsLeastRecentlyUsed(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 2, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "a", "c"} {
		_, err := c.EmbedCached(ctx, q)
		require.NoError(t, err)
	}
	// "b" was least recently used when "c" arrived.
	assert.EqualValues(t, 3, inner.calls.Load())
	_, err = c.EmbedCached(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 3, inner.calls.Load())
	_, err = c.EmbedCached(ctx, "b")
	require.NoError(t, err)
	assert.EqualValues(t, 4, inner.calls.Load())
	assert.Equal(t, 2, c.Len())
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	boom := domain.NewProviderError("counting", "embeddings", errors.New("quota"))
	inner := &countingEmbedder{err: boom}
	c, err := NewCachedEmbedder(inner, 4, nil)
	require.NoError(t, err)

	_, err = c.EmbedCached(context.Background(), "q")
	assert.True(t, domain.IsProviderError(err))
	_, err = c.EmbedCached(context.Background(), "q")
	assert.Error(t, err)
	assert.EqualValues(t, 2, inner.calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestCachedEmbedder_ConcurrentMissesShareOneCall(t *testing.T) {
	inner := &countingEmbedder{delay: 20 * time.Millisecond}
	c, err := NewCachedEmbedder(inner, 4, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.EmbedCached(context.Background(), "shared")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCachedEmbedder_BatchBypassesCache(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 4, nil)
	require.NoError(t, err)

	_, err = c.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, "counting", c.Name())
	assert.Equal(t, 2, c.Dimension())
}

type gatedEmbedder struct {
	countingEmbedder
	started chan struct{}
	release chan struct{}
	ctxErr  atomic.Value
}

func (e *gatedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	close(e.started)
	<-e.release
	if err := ctx.Err(); err != nil {
		e.ctxErr.Store(err)
		return nil, err
	}
	return e.countingEmbedder.Embed(ctx, text)
}

func TestCachedEmbedder_CancelledCallerDoesNotFailOthers(t *testing.T) {
	inner := &gatedEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	c, err := NewCachedEmbedder(inner, 4, nil)
	require.NoError(t, err)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.EmbedCached(firstCtx, "shared")
		firstErr <- err
	}()
	<-inner.started

	secondVec := make(chan []float64, 1)
	secondErr := make(chan error, 1)
	go func() {
		v, err := c.EmbedCached(context.Background(), "shared")
		secondVec <- v
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(inner.release)
	require.NoError(t, <-secondErr)
	assert.Equal(t, []float64{6, 1}, <-secondVec)
	assert.Nil(t, inner.ctxErr.Load())
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCachedEmbedder_ReturnsCopies(t *testing.T) {
	c, err := NewCachedEmbedder(&countingEmbedder{}, 4, nil)
	require.NoError(t, err)

	v, err := c.EmbedCached(context.Background(), "abc")
	require.NoError(t, err)
	v[0] = 100

	again, err := c.EmbedCached(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1}, again)
}
