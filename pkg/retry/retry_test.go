package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
)

func fastRunner(attempts int) *Runner {
	return NewRunner(Policy{Attempts: attempts, Initial: time.Millisecond, MaxInterval: 2 * time.Millisecond}, nil)
}

func TestDoRetriesStoreErrorsThenSucceeds(t *testing.T) {
	calls := 0
	err := fastRunner(3).Do(context.Background(), "test", nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return memerr.Store("write", errors.New("timeout"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReportsDropAfterExhaustion(t *testing.T) {
	calls := 0
	payload := "chat from ruby_fan"
	err := fastRunner(2).Do(context.Background(), "interactions.Record", payload, func(ctx context.Context) error {
		calls++
		return memerr.Store("write", errors.New("down"))
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	d, ok := memerr.AsDropped(err)
	require.True(t, ok)
	assert.Equal(t, payload, d.Payload)
	assert.Equal(t, 2, d.Attempts)
}

func TestDoDoesNotRetryManagerErrors(t *testing.T) {
	calls := 0
	err := fastRunner(5).Do(context.Background(), "events.Record", nil, func(ctx context.Context) error {
		calls++
		return memerr.NoActiveSession("events.Record", "no game session")
	})
	assert.True(t, memerr.IsNoActiveSession(err))
	assert.False(t, memerr.IsDropped(err))
	assert.Equal(t, 1, calls)
}
