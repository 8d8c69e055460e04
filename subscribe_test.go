package runway

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_FiresOncePerSave(t *testing.T) {
	s, sc := registeredStore(t)
	ctx := context.Background()

	var calls atomic.Int32
	s.Subscribe("Exercise", func() { calls.Add(1) })

	rec, err := sc.New(map[string]any{"bliss_id": "abc"})
	require.NoError(t, err)
	require.NoError(t, s.SaveRecord(ctx, "Exercise", rec))
	s.WaitNotifications()
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, s.DeleteRecord(ctx, rec))
	s.WaitNotifications()
	assert.Equal(t, int32(2), calls.Load(), "delete notifies too")
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	s, sc := registeredStore(t)
	ctx := context.Background()

	var calls atomic.Int32
	unsubscribe := s.Subscribe("Exercise", func() { calls.Add(1) })
	unsubscribe()

	rec, err := sc.New(map[string]any{"bliss_id": "abc"})
	require.NoError(t, err)
	require.NoError(t, s.SaveRecord(ctx, "Exercise", rec))
	s.WaitNotifications()
	assert.Zero(t, calls.Load())
}

func TestSubscribe_Wildcard(t *testing.T) {
	s, sc := registeredStore(t)
	ctx := context.Background()

	var all, typed atomic.Int32
	s.Subscribe(TypeAll, func() { all.Add(1) })
	s.Subscribe("Other", func() { typed.Add(1) })

	rec, err := sc.New(map[string]any{"bliss_id": "abc"})
	require.NoError(t, err)
	require.NoError(t, s.SaveRecord(ctx, "Exercise", rec))
	s.WaitNotifications()

	assert.Equal(t, int32(1), all.Load(), "wildcard sees every type")
	assert.Zero(t, typed.Load())
}

func TestSubscribe_SkipNotify(t *testing.T) {
	s, sc := registeredStore(t)
	ctx := context.Background()

	var calls atomic.Int32
	s.Subscribe("Exercise", func() { calls.Add(1) })

	rec, err := sc.New(map[string]any{"bliss_id": "abc"})
	require.NoError(t, err)
	require.NoError(t, s.SaveRecord(ctx, "Exercise", rec, SkipNotify()))
	s.WaitNotifications()
	assert.Zero(t, calls.Load())
}
