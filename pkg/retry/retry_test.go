package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/tably/pkg/optimistic"
)

type draft struct {
	Version int64
	Title   string
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	refetches := 0
	got, err := Do(context.Background(), Options{Delay: time.Millisecond},
		draft{Version: 1},
		func(ctx context.Context, d draft) (string, error) {
			return d.Title + ":saved", nil
		},
		func(ctx context.Context) (draft, error) {
			refetches++
			return draft{}, nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, ":saved", got)
	assert.Zero(t, refetches, "no conflict, no refetch")
}

func TestDo_RecoversAfterConflict(t *testing.T) {
	server := draft{Version: 2, Title: "groceries"}
	var observed []int

	got, err := Do(context.Background(),
		Options{
			Delay: time.Millisecond,
			OnConflict: func(attempt int, c *optimistic.ConflictError) {
				observed = append(observed, attempt)
				assert.Equal(t, int64(1), c.Expected)
				assert.Equal(t, int64(2), c.Actual)
			},
		},
		draft{Version: 1},
		func(ctx context.Context, d draft) (int64, error) {
			if d.Version != server.Version {
				return 0, &optimistic.ConflictError{Expected: d.Version, Actual: server.Version}
			}
			server.Version++
			return server.Version, nil
		},
		func(ctx context.Context) (draft, error) {
			return server, nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
	assert.Equal(t, []int{1}, observed)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(),
		Options{MaxRetries: 2, Delay: time.Millisecond},
		draft{Version: 1},
		func(ctx context.Context, d draft) (struct{}, error) {
			attempts++
			return struct{}{}, &optimistic.ConflictError{Expected: 1, Actual: 9}
		},
		func(ctx context.Context) (draft, error) {
			return draft{Version: 1}, nil
		},
	)
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, int64(9), exhausted.Last.Actual)

	var conflict *optimistic.ConflictError
	assert.False(t, errors.As(err, &conflict), "exhaustion is terminal, not retryable")
}

func TestDo_NonConflictErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	attempts := 0
	_, err := Do(context.Background(), Options{Delay: time.Millisecond},
		draft{},
		func(ctx context.Context, d draft) (struct{}, error) {
			attempts++
			return struct{}{}, boom
		},
		func(ctx context.Context) (draft, error) {
			return draft{}, nil
		},
	)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	_, err := Do(ctx, Options{Delay: time.Minute},
		draft{Version: 1},
		func(ctx context.Context, d draft) (struct{}, error) {
			cancel()
			return struct{}{}, &optimistic.ConflictError{Expected: 1, Actual: 2}
		},
		func(ctx context.Context) (draft, error) {
			t.Fatal("refetch should not run after cancellation")
			return draft{}, nil
		},
	)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_NegativeBudgetMeansSingleAttempt(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), Options{MaxRetries: -1, Delay: time.Millisecond},
		draft{},
		func(ctx context.Context, d draft) (struct{}, error) {
			attempts++
			return struct{}{}, &optimistic.ConflictError{Expected: 1, Actual: 2}
		},
		func(ctx context.Context) (draft, error) {
			return draft{}, nil
		},
	)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, attempts)
}
