package hierarchy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsmith/fleet/pkg/hierarchy"
	"github.com/agentsmith/fleet/pkg/store"
	"github.com/agentsmith/fleet/test/testutil"
	"github.com/google/uuid"
)

// chain inserts a linear root -> ... -> leaf agent chain directly via the
// store, bypassing lifecycle.Spawn since this package tests the read side
// only. Returns ids root-first.
func chain(t *testing.T, db *store.DB, depth int) []string {
	t.Helper()
	ids := make([]string, depth)
	var parent *string
	for i := 0; i < depth; i++ {
		id := uuid.NewString()
		_, err := db.Bun.NewInsert().Model(&store.Agent{
			ID: id, Role: "r", Task: "t", Status: store.AgentStatusPending,
			ControlState: store.ControlStateRunning, ParentID: parent, DepthLevel: i,
		}).Exec(t.Context())
		require.NoError(t, err)
		if parent != nil {
			_, err := db.Bun.NewInsert().Model(&store.HierarchyEdge{ParentID: *parent, ChildID: id}).Exec(t.Context())
			require.NoError(t, err)
		}
		ids[i] = id
		parentCopy := id
		parent = &parentCopy
	}
	return ids
}

func TestAncestors_OrderedNearestFirst(t *testing.T) {
	db := testutil.NewDB(t)
	svc := hierarchy.New(db.Bun, nil)
	ctx := t.Context()

	ids := chain(t, db, 4) // root, c1, c2, leaf
	leaf := ids[3]

	ancestors, err := svc.Ancestors(ctx, leaf)
	require.NoError(t, err)
	require.Equal(t, []string{ids[2], ids[1], ids[0]}, ancestors)
}

func TestAncestors_RootHasNone(t *testing.T) {
	db := testutil.NewDB(t)
	svc := hierarchy.New(db.Bun, nil)
	ctx := t.Context()

	ids := chain(t, db, 1)
	ancestors, err := svc.Ancestors(ctx, ids[0])
	require.NoError(t, err)
	assert.Empty(t, ancestors)
}

func TestDescendants_ReturnsFullSubtree(t *testing.T) {
	db := testutil.NewDB(t)
	svc := hierarchy.New(db.Bun, nil)
	ctx := t.Context()

	ids := chain(t, db, 3)
	descendants, err := svc.Descendants(ctx, ids[0])
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ids[1], ids[2]}, descendants)

	descendants, err = svc.Descendants(ctx, ids[2])
	require.NoError(t, err)
	assert.Empty(t, descendants)
}

func TestDepth_MatchesChainPosition(t *testing.T) {
	db := testutil.NewDB(t)
	svc := hierarchy.New(db.Bun, nil)
	ctx := t.Context()

	ids := chain(t, db, 5)
	for i, id := range ids {
		depth, err := svc.Depth(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i, depth)
	}
}

func TestWouldCreateCycle_SelfParent(t *testing.T) {
	db := testutil.NewDB(t)
	svc := hierarchy.New(db.Bun, nil)
	ctx := t.Context()

	cycle, err := svc.WouldCreateCycle(ctx, "same-id", "same-id")
	require.NoError(t, err)
	assert.True(t, cycle)
}

func TestWouldCreateCycle_AncestorAttachment(t *testing.T) {
	db := testutil.NewDB(t)
	svc := hierarchy.New(db.Bun, nil)
	ctx := t.Context()

	ids := chain(t, db, 3) // root, mid, leaf
	// Attaching root under leaf would close a cycle since leaf descends
	// from root.
	cycle, err := svc.WouldCreateCycle(ctx, ids[2], ids[0])
	require.NoError(t, err)
	assert.True(t, cycle)

	// Attaching an unrelated id under leaf is fine.
	cycle, err = svc.WouldCreateCycle(ctx, ids[2], uuid.NewString())
	require.NoError(t, err)
	assert.False(t, cycle)
}
