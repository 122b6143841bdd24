package tree

import (
	"testing"

	"github.com/cuemby/canopy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(name string, v any) *types.Node {
	return types.NewLeaf(types.Arg(name), v)
}

func path(s string) types.Path {
	return types.MustParsePath(s)
}

func commitMod(t *testing.T, dt *DataTree, mod *Modification) *Candidate {
	t.Helper()
	require.NoError(t, mod.Ready())
	require.NoError(t, dt.Validate(mod))
	c, err := dt.Prepare(mod)
	require.NoError(t, err)
	require.NoError(t, dt.Commit(c))
	return c
}

func TestModificationReadsOwnWrites(t *testing.T) {
	dt := NewDataTree(path("/a"))
	mod := dt.TakeSnapshot().NewModification()

	require.NoError(t, mod.Write(path("/x/y"), leaf("y", 1)))
	n, ok := mod.ReadNode(path("/x/y"))
	require.True(t, ok)
	assert.Equal(t, 1, n.Value())

	// the committed tree is untouched until commit
	_, ok = dt.TakeSnapshot().ReadNode(path("/x/y"))
	assert.False(t, ok)

	commitMod(t, dt, mod)
	_, ok = dt.TakeSnapshot().ReadNode(path("/x/y"))
	assert.True(t, ok)
}

func TestModificationRecordsFirstError(t *testing.T) {
	dt := NewDataTree(types.Path{})
	mod := dt.TakeSnapshot().NewModification()

	require.NoError(t, mod.Write(path("/leaf"), leaf("leaf", "v")))

	err := mod.Write(path("/leaf/child"), leaf("child", 1))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "/leaf/child", verr.Path.String())

	err2 := mod.Write(path("/other"), leaf("mismatch", 1))
	assert.Error(t, err2)

	assert.Same(t, err, mod.Err())
}

func TestModificationSealed(t *testing.T) {
	mod := NewDataTree(types.Path{}).TakeSnapshot().NewModification()
	require.NoError(t, mod.Ready())

	assert.ErrorIs(t, mod.Ready(), ErrSealed)
	assert.ErrorIs(t, mod.Write(path("/a"), leaf("a", 1)), ErrSealed)
	_, err := mod.CreateCursor(types.Path{})
	assert.ErrorIs(t, err, ErrSealed)
	assert.NoError(t, mod.Err(), "sealed errors are not operation errors")
}

func TestValidateRequiresReady(t *testing.T) {
	dt := NewDataTree(types.Path{})
	mod := dt.TakeSnapshot().NewModification()
	assert.ErrorIs(t, dt.Validate(mod), ErrNotReady)
	_, err := dt.Prepare(mod)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestConflictDetection(t *testing.T) {
	tests := []struct {
		name     string
		first    func(*Modification)
		second   func(*Modification)
		conflict bool
	}{
		{
			name:     "disjoint writes",
			first:    func(m *Modification) { _ = m.Write(path("/c/x"), leaf("x", 1)) },
			second:   func(m *Modification) { _ = m.Write(path("/c/y"), leaf("y", 2)) },
			conflict: false,
		},
		{
			name:     "same leaf",
			first:    func(m *Modification) { _ = m.Write(path("/c/x"), leaf("x", 1)) },
			second:   func(m *Modification) { _ = m.Write(path("/c/x"), leaf("x", 2)) },
			conflict: true,
		},
		{
			name:     "write below concurrently written subtree",
			first:    func(m *Modification) { _ = m.Merge(path("/c"), types.NewContainer(types.Arg("c"), leaf("z", 1))) },
			second:   func(m *Modification) { _ = m.Merge(path("/c"), types.NewContainer(types.Arg("c"), leaf("w", 1))) },
			conflict: true,
		},
		{
			name:     "parent deleted",
			first:    func(m *Modification) { _ = m.Delete(path("/c")) },
			second:   func(m *Modification) { _ = m.Write(path("/c/y"), leaf("y", 2)) },
			conflict: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt := NewDataTree(types.Path{})
			seed := dt.TakeSnapshot().NewModification()
			require.NoError(t, seed.Write(path("/c"), types.NewContainer(types.Arg("c"))))
			commitMod(t, dt, seed)

			snap := dt.TakeSnapshot()
			m1 := snap.NewModification()
			m2 := snap.NewModification()
			tt.first(m1)
			tt.second(m2)

			commitMod(t, dt, m1)

			require.NoError(t, m2.Ready())
			err := dt.Validate(m2)
			if tt.conflict {
				assert.True(t, IsConflict(err), "expected conflict, got %v", err)
				return
			}
			require.NoError(t, err)
			c, err := dt.Prepare(m2)
			require.NoError(t, err)
			require.NoError(t, dt.Commit(c))

			// both writes survive the rebase
			snap = dt.TakeSnapshot()
			_, ok := snap.ReadNode(path("/c/x"))
			assert.True(t, ok)
			_, ok = snap.ReadNode(path("/c/y"))
			assert.True(t, ok)
		})
	}
}

func TestCommitRejectsStaleCandidate(t *testing.T) {
	dt := NewDataTree(types.Path{})
	m1 := dt.TakeSnapshot().NewModification()
	m2 := dt.TakeSnapshot().NewModification()
	require.NoError(t, m1.Write(path("/a"), leaf("a", 1)))
	require.NoError(t, m2.Write(path("/b"), leaf("b", 1)))
	require.NoError(t, m1.Ready())
	require.NoError(t, m2.Ready())

	c1, err := dt.Prepare(m1)
	require.NoError(t, err)
	c2, err := dt.Prepare(m2)
	require.NoError(t, err)

	require.NoError(t, dt.Commit(c1))
	assert.True(t, IsConflict(dt.Commit(c2)))
}

func TestCommitWithPersistsOnlyAppliedCandidates(t *testing.T) {
	dt := NewDataTree(types.Path{})
	m1 := dt.TakeSnapshot().NewModification()
	m2 := dt.TakeSnapshot().NewModification()
	require.NoError(t, m1.Write(path("/a"), leaf("a", 1)))
	require.NoError(t, m2.Write(path("/b"), leaf("b", 1)))
	require.NoError(t, m1.Ready())
	require.NoError(t, m2.Ready())
	c1, err := dt.Prepare(m1)
	require.NoError(t, err)
	c2, err := dt.Prepare(m2)
	require.NoError(t, err)

	var persisted []*Candidate
	persist := func(c *Candidate) error {
		persisted = append(persisted, c)
		return nil
	}
	require.NoError(t, dt.CommitWith(c1, persist))
	assert.True(t, IsConflict(dt.CommitWith(c2, persist)))
	assert.Equal(t, []*Candidate{c1}, persisted)

	// a failing persist leaves the tree untouched
	m3 := dt.TakeSnapshot().NewModification()
	require.NoError(t, m3.Write(path("/c"), leaf("c", 1)))
	require.NoError(t, m3.Ready())
	c3, err := dt.Prepare(m3)
	require.NoError(t, err)
	assert.Error(t, dt.CommitWith(c3, func(*Candidate) error { return assert.AnError }))
	_, ok := dt.TakeSnapshot().ReadNode(path("/c"))
	assert.False(t, ok)
}

func TestCandidateShape(t *testing.T) {
	dt := NewDataTree(path("/shard"))
	seed := dt.TakeSnapshot().NewModification()
	require.NoError(t, seed.Write(path("/a"), types.NewContainer(types.Arg("a"), leaf("keep", 1), leaf("drop", 2))))
	commitMod(t, dt, seed)

	mod := dt.TakeSnapshot().NewModification()
	require.NoError(t, mod.Delete(path("/a/drop")))
	require.NoError(t, mod.Write(path("/a/new"), leaf("new", 3)))
	require.NoError(t, mod.Write(path("/b"), types.NewContainer(types.Arg("b"))))
	c := commitMod(t, dt, mod)

	assert.Equal(t, "/shard", c.RootPath().String())
	root := c.Root()
	assert.Equal(t, SubtreeModified, root.Kind())

	a, ok := root.ModifiedChild(types.Arg("a"))
	require.True(t, ok)
	assert.Equal(t, SubtreeModified, a.Kind())

	kinds := map[string]ModificationType{}
	for _, child := range a.Children() {
		kinds[child.Path().String()] = child.Kind()
	}
	assert.Equal(t, map[string]ModificationType{
		"/a/drop": Delete,
		"/a/new":  Write,
	}, kinds)

	_, ok = a.ModifiedChild(types.Arg("keep"))
	assert.False(t, ok)

	b, ok := root.ModifiedChild(types.Arg("b"))
	require.True(t, ok)
	assert.Equal(t, Write, b.Kind())
	assert.Nil(t, b.Before())
}

func TestEmptyModificationYieldsUnmodifiedCandidate(t *testing.T) {
	dt := NewDataTree(types.Path{})
	c := commitMod(t, dt, dt.TakeSnapshot().NewModification())
	assert.Equal(t, Unmodified, c.Root().Kind())
	assert.Empty(t, c.Root().Children())
}

func TestChainedSnapshotCommitsWithoutConflict(t *testing.T) {
	dt := NewDataTree(types.Path{})

	m1 := dt.TakeSnapshot().NewModification()
	require.NoError(t, m1.Merge(path("/c"), types.NewContainer(types.Arg("c"), leaf("x", 1))))
	require.NoError(t, m1.Ready())

	// m2 builds on m1 before m1 is committed
	m2 := m1.Snapshot().NewModification()
	n, ok := m2.ReadNode(path("/c/x"))
	require.True(t, ok)
	assert.Equal(t, 1, n.Value())
	require.NoError(t, m2.Merge(path("/c"), types.NewContainer(types.Arg("c"), leaf("y", 2))))

	commitMod(t, dt, m1)
	commitMod(t, dt, m2)

	snap := dt.TakeSnapshot()
	_, ok = snap.ReadNode(path("/c/x"))
	assert.True(t, ok)
	_, ok = snap.ReadNode(path("/c/y"))
	assert.True(t, ok)
}

func TestCursor(t *testing.T) {
	dt := NewDataTree(types.Path{})
	mod := dt.TakeSnapshot().NewModification()

	c, err := mod.CreateCursor(path("/a"))
	require.NoError(t, err)

	_, err = mod.CreateCursor(types.Path{})
	assert.ErrorIs(t, err, ErrCursorOpen)

	require.NoError(t, c.Enter(types.Arg("b"), types.Arg("c")))
	assert.Equal(t, 2, c.Depth())
	require.NoError(t, c.Write(types.Arg("leaf"), leaf("leaf", 1)))
	assert.Error(t, c.Exit(3))
	require.NoError(t, c.Exit(2))
	require.NoError(t, c.Delete(types.Arg("gone")))

	n, ok := c.ReadNode(types.Arg("b"))
	require.True(t, ok)
	assert.False(t, n.IsLeaf())

	assert.ErrorIs(t, mod.Ready(), ErrCursorOpen)
	c.Close()
	assert.ErrorIs(t, c.Enter(types.Arg("x")), ErrCursorClosed)
	require.NoError(t, mod.Ready())

	_, ok = mod.ReadNode(path("/a/b/c/leaf"))
	assert.True(t, ok)
}
