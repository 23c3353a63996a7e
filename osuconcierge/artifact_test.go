package osuconcierge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifact_SingleWrite(t *testing.T) {
	a := NewArtifact[string]()

	_, ready, _ := a.Peek()
	assert.False(t, ready)

	assert.True(t, a.Resolve("first"))
	assert.False(t, a.Resolve("second"))
	assert.False(t, a.Fail(errors.New("nope")))
	assert.False(t, a.Abandon())

	v, ready, err := a.Peek()
	assert.True(t, ready)
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestArtifact_ConcurrentWriters(t *testing.T) {
	a := NewArtifact[int]()
	wg := sync.WaitGroup{}
	results := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results <- a.Resolve(n)
		}(i)
	}
	wg.Wait()
	close(results)

	var wins int
	for written := range results {
		if written {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestArtifact_WaitContext(t *testing.T) {
	a := NewArtifact[[]byte]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	t.Cleanup(cancel)

	_, err := a.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	a.Resolve([]byte("png"))
	v, err := a.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), v)
}

func TestProduceArtifact(t *testing.T) {
	ctx := context.Background()

	t.Run(
		"success", func(t *testing.T) {
			a := ProduceArtifact(
				ctx, nil, func(context.Context) (string, error) {
					return "https://example.com/graph.png", nil
				},
			)
			v, err := a.Wait(ctx)
			require.NoError(t, err)
			assert.Equal(t, "https://example.com/graph.png", v)
		},
	)

	t.Run(
		"failure", func(t *testing.T) {
			renderErr := errors.New("render failed")
			a := ProduceArtifact(
				ctx, nil, func(context.Context) (string, error) {
					return "", renderErr
				},
			)
			_, err := a.Wait(ctx)
			assert.ErrorIs(t, err, renderErr)
		},
	)

	t.Run(
		"panic abandons", func(t *testing.T) {
			a := ProduceArtifact(
				ctx, nil, func(context.Context) (string, error) {
					panic("boom")
				},
			)
			waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			t.Cleanup(cancel)
			_, err := a.Wait(waitCtx)
			assert.ErrorIs(t, err, ErrArtifactAbandoned)
		},
	)
}
