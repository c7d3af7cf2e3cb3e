package mqueue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsmith/fleet/pkg/mqueue"
	"github.com/agentsmith/fleet/pkg/store"
	"github.com/agentsmith/fleet/test/testutil"
	"github.com/google/uuid"
)

func insertAgent(t *testing.T, db *store.DB) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Bun.NewInsert().Model(&store.Agent{
		ID: id, Role: "r", Task: "t", Status: store.AgentStatusPending,
		ControlState: store.ControlStateRunning,
	}).Exec(t.Context())
	require.NoError(t, err)
	return id
}

func TestSend_EnqueuesPendingMessage(t *testing.T) {
	db := testutil.NewDB(t)
	svc := mqueue.New(db.Bun)
	ctx := t.Context()

	sender := insertAgent(t, db)
	recipient := insertAgent(t, db)

	id, err := svc.Send(ctx, sender, recipient, map[string]string{"hello": "world"}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	pending, err := svc.Receive(ctx, recipient, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, store.MessageStatusDelivered, pending[0].Status)
}

func TestBroadcast_FansOutToEveryRecipient(t *testing.T) {
	db := testutil.NewDB(t)
	svc := mqueue.New(db.Bun)
	ctx := t.Context()

	sender := insertAgent(t, db)
	r1 := insertAgent(t, db)
	r2 := insertAgent(t, db)
	r3 := insertAgent(t, db)

	ids, err := svc.Broadcast(ctx, sender, []string{r1, r2, r3}, "go", 0)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	for _, recipient := range []string{r1, r2, r3} {
		msgs, err := svc.Receive(ctx, recipient, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
	}
}

// TestReceive_OrdersByPriorityThenFIFO exercises spec §8 scenario 6: three
// messages queued out of order must be claimed priority DESC, created_at
// ASC regardless of insertion order.
func TestReceive_OrdersByPriorityThenFIFO(t *testing.T) {
	db := testutil.NewDB(t)
	svc := mqueue.New(db.Bun)
	ctx := t.Context()

	sender := insertAgent(t, db)
	recipient := insertAgent(t, db)

	low, err := svc.Send(ctx, sender, recipient, "low-pri-first", 0)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	high, err := svc.Send(ctx, sender, recipient, "high-pri-second", 10)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	lowLater, err := svc.Send(ctx, sender, recipient, "low-pri-third", 0)
	require.NoError(t, err)

	claimed, err := svc.Receive(ctx, recipient, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	got := []string{claimed[0].ID, claimed[1].ID, claimed[2].ID}
	assert.Equal(t, []string{high, low, lowLater}, got)
}

func TestReceive_DoesNotRedeliverClaimedMessages(t *testing.T) {
	db := testutil.NewDB(t)
	svc := mqueue.New(db.Bun)
	ctx := t.Context()

	sender := insertAgent(t, db)
	recipient := insertAgent(t, db)
	_, err := svc.Send(ctx, sender, recipient, "once", 0)
	require.NoError(t, err)

	first, err := svc.Receive(ctx, recipient, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.Receive(ctx, recipient, 10)
	require.NoError(t, err)
	assert.Empty(t, second, "delivered messages must not be reclaimed")
}

func TestMarkProcessed_RequiresDeliveredState(t *testing.T) {
	db := testutil.NewDB(t)
	svc := mqueue.New(db.Bun)
	ctx := t.Context()

	sender := insertAgent(t, db)
	recipient := insertAgent(t, db)
	id, err := svc.Send(ctx, sender, recipient, "x", 0)
	require.NoError(t, err)

	err = svc.MarkProcessed(ctx, id)
	require.Error(t, err, "a pending message cannot be marked processed before delivery")

	_, err = svc.Receive(ctx, recipient, 10)
	require.NoError(t, err)
	require.NoError(t, svc.MarkProcessed(ctx, id))

	pendingDelivered, err := svc.PendingDelivered(ctx, recipient)
	require.NoError(t, err)
	assert.Empty(t, pendingDelivered)
}

func TestSweep_DeletesOnlyExpiredProcessedMessages(t *testing.T) {
	db := testutil.NewDB(t)
	svc := mqueue.New(db.Bun)
	ctx := t.Context()

	sender := insertAgent(t, db)
	recipient := insertAgent(t, db)
	id, err := svc.Send(ctx, sender, recipient, "old", 0)
	require.NoError(t, err)
	_, err = svc.Receive(ctx, recipient, 10)
	require.NoError(t, err)
	require.NoError(t, svc.MarkProcessed(ctx, id))

	stillFresh, err := svc.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stillFresh, "a freshly processed message is within retention")

	expired, err := svc.Sweep(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)
}
