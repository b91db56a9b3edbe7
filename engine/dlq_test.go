package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deadLetterCmd(name string, id, entityID int64) *Command {
	return NewCommand(context.Background(), CommandCreateUser, &CreatePrincipalPayload{
		Kind: KindUser, ID: id, EntityID: entityID, Name: name,
	}, "tester")
}

func TestDeadLetterStoreLifecycle(t *testing.T) {
	gdb := newTestGorm(t)
	store := NewDeadLetterStore(gdb, 2)
	ctx := context.Background()

	cmd := deadLetterCmd("alice", 1, 100)
	cmd.Attempts = 3
	require.NoError(t, store.Enqueue(ctx, cmd, fmt.Errorf("store unavailable")))

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, cmd.ID.String(), pending[0].ID)
	assert.Equal(t, DeadLetterPending, pending[0].Status)

	t.Run("envelope round-trips", func(t *testing.T) {
		restored, err := UnmarshalEnvelope([]byte(pending[0].Payload))
		require.NoError(t, err)
		assert.Equal(t, cmd.ID, restored.ID)
		assert.Equal(t, CommandCreateUser, restored.Kind)

		payload, ok := restored.Payload.(*CreatePrincipalPayload)
		require.True(t, ok)
		assert.Equal(t, "alice", payload.Name)
	})

	t.Run("mark succeeded removes the letter", func(t *testing.T) {
		require.NoError(t, store.MarkSucceeded(ctx, cmd.ID.String()))
		pending, err := store.Pending(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestDeadLetterAbandonThreshold(t *testing.T) {
	gdb := newTestGorm(t)
	store := NewDeadLetterStore(gdb, 2)
	ctx := context.Background()

	cmd := deadLetterCmd("alice", 1, 100)
	require.NoError(t, store.Enqueue(ctx, cmd, fmt.Errorf("store unavailable")))

	require.NoError(t, store.MarkFailed(ctx, cmd.ID.String(), fmt.Errorf("still down")))
	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "below the threshold the letter stays pending")

	require.NoError(t, store.MarkFailed(ctx, cmd.ID.String(), fmt.Errorf("still down")))
	pending, err = store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "the threshold parks the letter")

	p, abandoned, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p)
	assert.Equal(t, int64(1), abandoned)
}

func TestDeadLetterWorkerDrain(t *testing.T) {
	gdb := newTestGorm(t)
	store := NewDeadLetterStore(gdb, 10)
	ctx := context.Background()

	first := deadLetterCmd("alice", 1, 100)
	second := deadLetterCmd("bob", 2, 101)
	require.NoError(t, store.Enqueue(ctx, first, fmt.Errorf("down")))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.Enqueue(ctx, second, fmt.Errorf("down")))

	persist := &fakeStore{}
	worker := NewDeadLetterWorker(store, persist, time.Hour)

	worker.Drain(ctx)

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, []CommandKind{CommandCreateUser, CommandCreateUser}, persist.appliedKinds())
}

func TestDeadLetterWorkerKeepsFailingLetters(t *testing.T) {
	gdb := newTestGorm(t)
	store := NewDeadLetterStore(gdb, 10)
	ctx := context.Background()

	cmd := deadLetterCmd("alice", 1, 100)
	require.NoError(t, store.Enqueue(ctx, cmd, fmt.Errorf("down")))

	persist := &fakeStore{failures: -1}
	worker := NewDeadLetterWorker(store, persist, time.Hour)
	worker.Drain(ctx)

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].FailureCount)
	assert.NotNil(t, pending[0].LastTriedAt)
}

func TestDeadLetterWorkerStartStop(t *testing.T) {
	gdb := newTestGorm(t)
	store := NewDeadLetterStore(gdb, 10)

	worker := NewDeadLetterWorker(store, &fakeStore{}, 10*time.Millisecond)
	worker.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	worker.Stop()
}
