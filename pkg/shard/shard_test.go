package shard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/canopy/pkg/commit"
	"github.com/cuemby/canopy/pkg/events"
	"github.com/cuemby/canopy/pkg/storage"
	"github.com/cuemby/canopy/pkg/tree"
	"github.com/cuemby/canopy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(name string, v any) *types.Node {
	return types.NewLeaf(types.Arg(name), v)
}

func container(name string, children ...*types.Node) *types.Node {
	return types.NewContainer(types.Arg(name), children...)
}

func newShard(t *testing.T, prefix string) *Shard {
	t.Helper()
	s, err := New(Config{ID: configID(prefix)})
	require.NoError(t, err)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

// newPair returns a root shard with a child shard attached at /a/b
func newPair(t *testing.T) (*Shard, *Shard) {
	t.Helper()
	parent := newShard(t, "/")
	child := newShard(t, "/a/b")
	_, err := parent.Attach(child)
	require.NoError(t, err)
	return parent, child
}

func wait(t *testing.T, f *commit.Future) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Wait(ctx)
}

func readLocal(s *Shard, p string) (*types.Node, bool) {
	rel, _ := path(p).RelativeTo(s.ID().Path)
	return s.TakeSnapshot().ReadNode(rel)
}

// callLog records calls from several goroutines
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// recordingChild wraps a shard so the phases a parent drives on it are
// visible
type recordingChild struct {
	*Shard
	log *callLog
}

func (c *recordingChild) CreateProducer(prefixes []types.Path) (Producer, error) {
	p, err := c.Shard.CreateProducer(prefixes)
	if err != nil {
		return nil, err
	}
	return &recordingProducer{Producer: p, log: c.log}, nil
}

type recordingProducer struct {
	Producer
	log *callLog
}

func (p *recordingProducer) CreateTransaction() (ForeignTransaction, error) {
	tx, err := p.Producer.CreateTransaction()
	if err != nil {
		return nil, err
	}
	return &recordingTx{ForeignTransaction: tx, log: p.log}, nil
}

type recordingTx struct {
	ForeignTransaction
	log *callLog
}

func (tx *recordingTx) Validate(ctx context.Context) error {
	tx.log.add("validate")
	return tx.ForeignTransaction.Validate(ctx)
}

func (tx *recordingTx) Prepare(ctx context.Context) error {
	tx.log.add("prepare")
	return tx.ForeignTransaction.Prepare(ctx)
}

func (tx *recordingTx) Commit(ctx context.Context) error {
	tx.log.add("commit")
	return tx.ForeignTransaction.Commit(ctx)
}

func (tx *recordingTx) Close() error {
	tx.log.add("close")
	return tx.ForeignTransaction.Close()
}

// recorder collects notification batches
type recorder struct {
	mu      sync.Mutex
	batches [][]events.Change
	ch      chan struct{}
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan struct{}, 16)}
}

func (r *recorder) OnDataChanged(changes []events.Change) {
	r.mu.Lock()
	r.batches = append(r.batches, changes)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder) last() []events.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[len(r.batches)-1]
}

func TestCommitAcrossShardBoundary(t *testing.T) {
	parent := newShard(t, "/")
	child := newShard(t, "/a/b")
	log := &callLog{}
	_, err := parent.Attach(&recordingChild{Shard: child, log: log})
	require.NoError(t, err)

	tx := parent.NewWriteOnlyTransaction()
	require.NoError(t, tx.Write(path("/a/x"), leaf("x", 1)))
	require.NoError(t, tx.Write(path("/a/b/y"), leaf("y", 2)))

	require.NoError(t, tx.Ready())
	require.Len(t, tx.cohorts, 2)
	assert.IsType(t, &localCohort{}, tx.cohorts[0])
	assert.IsType(t, &foreignCohort{}, tx.cohorts[1])

	require.NoError(t, wait(t, tx.Submit()))
	assert.Equal(t, []string{"validate", "prepare", "commit"}, log.snapshot())

	x, ok := readLocal(parent, "/a/x")
	require.True(t, ok)
	assert.Equal(t, 1, x.Value())
	_, ok = readLocal(parent, "/a/b")
	assert.False(t, ok, "boundary content must not reach the parent tree")

	y, ok := readLocal(child, "/a/b/y")
	require.True(t, ok)
	assert.Equal(t, 2, y.Value())

	y, ok, err = parent.Read(path("/a/b/y"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, y.Value())
}

func TestForeignOnlyTransactionHasNoLocalCohort(t *testing.T) {
	parent, _ := newPair(t)

	tx := parent.NewWriteOnlyTransaction()
	require.NoError(t, tx.Write(path("/a/b/y"), leaf("y", 1)))
	require.NoError(t, tx.Ready())
	require.Len(t, tx.cohorts, 1)
	assert.IsType(t, &foreignCohort{}, tx.cohorts[0])
	require.NoError(t, wait(t, tx.Submit()))
}

func TestSubtreeWriteSplitsAtBoundary(t *testing.T) {
	subtree := container("a",
		leaf("x", 1),
		container("b",
			leaf("y", 2),
			container("z", leaf("w", 3)),
		),
	)

	split, splitChild := newPair(t)
	tx := split.NewWriteOnlyTransaction()
	require.NoError(t, tx.Write(path("/a"), subtree))
	require.NoError(t, wait(t, tx.Submit()))

	_, ok := readLocal(split, "/a/b")
	assert.False(t, ok)
	_, ok = readLocal(splitChild, "/a/b/z/w")
	assert.True(t, ok)

	// the same content written to each side separately
	separate, separateChild := newPair(t)
	localTx := separate.NewWriteOnlyTransaction()
	require.NoError(t, localTx.Write(path("/a"), container("a", leaf("x", 1))))
	require.NoError(t, wait(t, localTx.Submit()))
	childTx := separateChild.NewWriteOnlyTransaction()
	require.NoError(t, childTx.Write(path("/a/b/y"), leaf("y", 2)))
	require.NoError(t, childTx.Write(path("/a/b/z"), container("z", leaf("w", 3))))
	require.NoError(t, wait(t, childTx.Submit()))

	combined, ok, err := split.Read(path("/a"))
	require.NoError(t, err)
	require.True(t, ok)
	expected, ok, err := separate.Read(path("/a"))
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, subtree.Equal(combined), "got %v", types.ToValue(combined))
	assert.True(t, expected.Equal(combined))
}

func TestBoundaryWriteReplacesAndMergeOverlays(t *testing.T) {
	parent, child := newPair(t)

	tx := parent.NewWriteOnlyTransaction()
	require.NoError(t, tx.Write(path("/a/b/old"), leaf("old", true)))
	require.NoError(t, wait(t, tx.Submit()))

	tx = parent.NewWriteOnlyTransaction()
	require.NoError(t, tx.Merge(path("/a"), container("a", container("b", leaf("y", 1)))))
	require.NoError(t, wait(t, tx.Submit()))
	_, ok := readLocal(child, "/a/b/old")
	assert.True(t, ok, "merge keeps existing children")
	_, ok = readLocal(child, "/a/b/y")
	assert.True(t, ok)

	tx = parent.NewWriteOnlyTransaction()
	require.NoError(t, tx.Write(path("/a"), container("a", container("b", leaf("y", 2)))))
	require.NoError(t, wait(t, tx.Submit()))
	_, ok = readLocal(child, "/a/b/old")
	assert.False(t, ok, "write replaces the boundary content")
	y, ok := readLocal(child, "/a/b/y")
	require.True(t, ok)
	assert.Equal(t, 2, y.Value())
}

func TestAncestorWriteReplacesChildShardContent(t *testing.T) {
	tests := []struct {
		name    string
		written *types.Node
		kept    []string
		gone    []string
	}{
		{
			name:    "boundary left out",
			written: container("a", leaf("x", 1)),
			kept:    []string{"/a/x"},
			gone:    []string{"/a/b/y", "/a/b/z"},
		},
		{
			name:    "boundary named",
			written: container("a", leaf("x", 1), container("b", leaf("z", 3))),
			kept:    []string{"/a/x", "/a/b/z"},
			gone:    []string{"/a/b/y"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent, child := newPair(t)

			tx := parent.NewWriteOnlyTransaction()
			require.NoError(t, tx.Write(path("/a"), container("a",
				leaf("x", 1),
				container("b", leaf("y", 2), leaf("z", 3)),
			)))
			require.NoError(t, wait(t, tx.Submit()))

			tx = parent.NewWriteOnlyTransaction()
			require.NoError(t, tx.Write(path("/a"), tt.written))
			require.NoError(t, wait(t, tx.Submit()))

			for _, p := range tt.kept {
				_, ok, err := parent.Read(path(p))
				require.NoError(t, err)
				assert.True(t, ok, "%s should be kept", p)
			}
			for _, p := range tt.gone {
				_, ok := readLocal(child, p)
				assert.False(t, ok, "%s should be replaced", p)
			}
		})
	}
}

func TestBoundaryOperationErrors(t *testing.T) {
	tests := []struct {
		name  string
		apply func(tx *WriteTransaction) error
		check func(t *testing.T, err error)
	}{
		{
			name: "leaf over interior routing node",
			apply: func(tx *WriteTransaction) error {
				return tx.Write(path("/a"), leaf("a", 1))
			},
			check: func(t *testing.T, err error) {
				var ve *tree.ValidationError
				assert.True(t, errors.As(err, &ve))
			},
		},
		{
			name: "leaf over boundary",
			apply: func(tx *WriteTransaction) error {
				return tx.Write(path("/a/b"), leaf("b", 1))
			},
			check: func(t *testing.T, err error) {
				var ve *tree.ValidationError
				assert.True(t, errors.As(err, &ve))
			},
		},
		{
			name: "delete interior node above boundary",
			apply: func(tx *WriteTransaction) error {
				return tx.Delete(path("/a"))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrBoundaryDelete)
			},
		},
		{
			name: "delete boundary",
			apply: func(tx *WriteTransaction) error {
				return tx.Delete(path("/a/b"))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrBoundaryDelete)
			},
		},
		{
			name: "identifier mismatch",
			apply: func(tx *WriteTransaction) error {
				return tx.Write(path("/a/x"), leaf("other", 1))
			},
			check: func(t *testing.T, err error) {
				var ve *tree.ValidationError
				assert.True(t, errors.As(err, &ve))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent, _ := newPair(t)
			tx := parent.NewWriteOnlyTransaction()
			err := tt.apply(tx)
			require.Error(t, err)
			tt.check(t, err)

			// the recorded error fails the commit without touching the tree
			err = wait(t, tx.Submit())
			require.Error(t, err)
			tt.check(t, err)
			phase, ok := commit.FailedPhase(err)
			require.True(t, ok)
			assert.Equal(t, commit.PhaseCanCommit, phase)
			assert.False(t, commit.IsRetryable(err))
		})
	}
}

func TestDeleteInsideChildShard(t *testing.T) {
	parent, child := newPair(t)

	tx := parent.NewWriteOnlyTransaction()
	require.NoError(t, tx.Write(path("/a/b/y"), leaf("y", 1)))
	require.NoError(t, wait(t, tx.Submit()))

	tx = parent.NewWriteOnlyTransaction()
	require.NoError(t, tx.Delete(path("/a/b/y")))
	require.NoError(t, wait(t, tx.Submit()))

	_, ok := readLocal(child, "/a/b/y")
	assert.False(t, ok)
}

func TestCursorBalance(t *testing.T) {
	parent, child := newPair(t)

	tx := parent.NewWriteOnlyTransaction()
	c, err := tx.CreateCursor(path("/"))
	require.NoError(t, err)

	require.NoError(t, c.Enter(types.Arg("a"), types.Arg("b")))
	assert.Equal(t, 2, c.Depth())
	require.NoError(t, c.Write(types.Arg("y"), leaf("y", 1)))

	_, err = tx.CreateCursor(path("/"))
	assert.ErrorIs(t, err, commit.ErrIllegalState, "only one cursor at a time")

	assert.ErrorIs(t, tx.Ready(), commit.ErrIllegalState, "ready at non-zero depth")

	require.NoError(t, c.Exit(1))
	require.NoError(t, c.Write(types.Arg("x"), leaf("x", 2)))
	require.NoError(t, c.Exit(1))
	assert.Equal(t, 0, c.Depth())

	require.NoError(t, tx.Ready())
	assert.ErrorIs(t, tx.Ready(), commit.ErrIllegalState, "double ready")
	_, err = tx.CreateCursor(path("/"))
	assert.ErrorIs(t, err, commit.ErrIllegalState, "cursor after ready")

	require.NoError(t, wait(t, tx.Submit()))
	_, ok := readLocal(child, "/a/b/y")
	assert.True(t, ok)
	_, ok = readLocal(parent, "/a/x")
	assert.True(t, ok)
}

func TestCursorExitBeyondDepthIsFatal(t *testing.T) {
	parent, child := newPair(t)

	tx := parent.NewWriteOnlyTransaction()
	// opened inside the child shard; its prefix is not part of the depth
	c, err := tx.CreateCursor(path("/a/b"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Depth())
	require.NoError(t, c.Write(types.Arg("y"), leaf("y", 1)))

	assert.ErrorIs(t, c.Exit(1), commit.ErrIllegalState)
	require.NoError(t, c.Close())

	err = wait(t, tx.Submit())
	assert.ErrorIs(t, err, commit.ErrIllegalState)
	_, ok := readLocal(child, "/a/b/y")
	assert.False(t, ok, "a failed transaction leaves the child shard untouched")
}

func TestTransactionChain(t *testing.T) {
	parent, child := newPair(t)
	chain := parent.NewTransactionChain()

	tx1, err := chain.NewReadWriteTransaction()
	require.NoError(t, err)
	require.NoError(t, tx1.Write(path("/a/x"), leaf("x", 1)))
	require.NoError(t, tx1.Write(path("/a/b/y"), leaf("y", 2)))

	_, err = chain.NewReadWriteTransaction()
	assert.ErrorIs(t, err, commit.ErrIllegalState, "allocation before the previous transaction is ready")

	require.NoError(t, tx1.Ready())
	tx2, err := chain.NewReadWriteTransaction()
	require.NoError(t, err)

	// tx2 sees tx1's writes in both shards before anything is committed
	x, ok, err := tx2.Read(path("/a/x"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, x.Value())
	y, ok, err := tx2.Read(path("/a/b/y"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, y.Value())
	_, ok = readLocal(parent, "/a/x")
	assert.False(t, ok)

	require.NoError(t, tx2.Write(path("/a/z"), leaf("z", 3)))
	require.NoError(t, wait(t, tx1.Submit()))
	require.NoError(t, wait(t, tx2.Submit()))

	_, ok = readLocal(parent, "/a/z")
	assert.True(t, ok)
	_, ok = readLocal(child, "/a/b/y")
	assert.True(t, ok)

	require.NoError(t, chain.Close())
	_, err = chain.NewWriteOnlyTransaction()
	assert.ErrorIs(t, err, ErrChainClosed)
}

func TestChainReturnsToCommittedStateAfterClose(t *testing.T) {
	s := newShard(t, "/")
	chain := s.NewTransactionChain()

	tx1, err := chain.NewReadWriteTransaction()
	require.NoError(t, err)
	require.NoError(t, tx1.Write(path("/x"), leaf("x", 1)))
	require.NoError(t, tx1.Ready())
	require.NoError(t, tx1.Close())

	tx2, err := chain.NewReadWriteTransaction()
	require.NoError(t, err)
	_, ok, err := tx2.Read(path("/x"))
	require.NoError(t, err)
	assert.False(t, ok, "abandoned writes are not visible to the next transaction")
}

func TestChainFailsWhenReadyPredecessorIsAbandoned(t *testing.T) {
	s := newShard(t, "/")
	chain := s.NewTransactionChain()

	tx1, err := chain.NewReadWriteTransaction()
	require.NoError(t, err)
	require.NoError(t, tx1.Write(path("/x"), leaf("x", 1)))
	require.NoError(t, tx1.Ready())

	tx2, err := chain.NewReadWriteTransaction()
	require.NoError(t, err)
	_, ok, err := tx2.Read(path("/x"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tx2.Write(path("/y"), leaf("y", 2)))

	require.NoError(t, tx1.Close())

	_, _, err = tx2.Read(path("/x"))
	assert.ErrorIs(t, err, ErrChainFailed)
	err = wait(t, tx2.Submit())
	assert.ErrorIs(t, err, ErrChainFailed)
	_, err = chain.NewReadWriteTransaction()
	assert.ErrorIs(t, err, ErrChainFailed)

	_, ok = readLocal(s, "/x")
	assert.False(t, ok)
	_, ok = readLocal(s, "/y")
	assert.False(t, ok, "writes built on abandoned state are not committed")
}

func TestWriteOnlyTransactionCannotRead(t *testing.T) {
	s := newShard(t, "/")
	_, _, err := s.NewWriteOnlyTransaction().Read(path("/x"))
	assert.ErrorIs(t, err, commit.ErrIllegalState)
}

func TestConcurrentWritesConflict(t *testing.T) {
	s := newShard(t, "/")

	tx1 := s.NewWriteOnlyTransaction()
	tx2 := s.NewWriteOnlyTransaction()
	require.NoError(t, tx1.Write(path("/a/x"), leaf("x", 1)))
	require.NoError(t, tx2.Write(path("/a/x"), leaf("x", 2)))

	require.NoError(t, wait(t, tx1.Submit()))
	err := wait(t, tx2.Submit())
	require.Error(t, err)
	assert.True(t, commit.IsRetryable(err))

	x, _ := readLocal(s, "/a/x")
	assert.Equal(t, 1, x.Value())
}

func TestNotificationScoping(t *testing.T) {
	parent, child := newPair(t)

	local := newRecorder()
	localReg, err := parent.RegisterListener(path("/a"), local)
	require.NoError(t, err)
	inChild := newRecorder()
	reg, err := parent.RegisterListener(path("/a/b"), inChild)
	require.NoError(t, err)
	assert.Equal(t, 1, parent.ListenerCount())
	assert.Equal(t, 2, child.ListenerCount(), "the child holds its own registration and the one followed from /a")

	tx := parent.NewWriteOnlyTransaction()
	require.NoError(t, tx.Write(path("/a/b/y"), leaf("y", 1)))
	require.NoError(t, wait(t, tx.Submit()))
	inChild.wait(t)
	assert.True(t, path("/a/b").Equal(inChild.last()[0].Path))
	local.wait(t)
	assert.True(t, path("/a/b").Equal(local.last()[0].Path), "changes inside the child reach the parent listener")

	tx = parent.NewWriteOnlyTransaction()
	require.NoError(t, tx.Write(path("/a/x"), leaf("x", 2)))
	require.NoError(t, wait(t, tx.Submit()))
	local.wait(t)

	assert.Equal(t, 2, local.count())
	changes := local.last()
	require.NotEmpty(t, changes)
	assert.True(t, path("/a").Equal(changes[0].Path))
	assert.Equal(t, 1, inChild.count(), "local changes stay out of the child's listeners")

	reg.Close()
	assert.Equal(t, 1, child.ListenerCount())
	localReg.Close()
	assert.Equal(t, 0, child.ListenerCount())
	assert.Equal(t, 0, parent.ListenerCount())
}

func TestProducerPrefixes(t *testing.T) {
	s := newShard(t, "/a")

	_, err := s.CreateProducer([]types.Path{path("/b")})
	assert.Error(t, err)

	p, err := s.CreateProducer([]types.Path{path("/a/x")})
	require.NoError(t, err)
	tx, err := p.CreateTransaction()
	require.NoError(t, err)
	_, err = tx.CreateCursor(path("/a/y"))
	assert.Error(t, err)
	c, err := tx.CreateCursor(path("/a/x"))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, tx.Close())
	require.NoError(t, p.Close())
}

func TestPersistentShardSurvivesRestart(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	id := configID("/net")
	s, err := New(Config{ID: id, Store: store})
	require.NoError(t, err)
	require.True(t, s.Persistent())
	s.Start()

	tx := s.NewWriteOnlyTransaction()
	require.NoError(t, tx.Write(path("/net/if=eth0"), types.NewContainer(types.KeyedArg("if", "eth0"), leaf("mtu", 1500))))
	require.NoError(t, wait(t, tx.Submit()))
	s.Stop()

	restored, err := New(Config{ID: id, Store: store})
	require.NoError(t, err)
	mtu, ok, err := restored.Read(path("/net/if=eth0/mtu"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1500, mtu.Value())
}

func TestRejectedCommitIsNotPersisted(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	id := configID("/")
	s, err := New(Config{ID: id, Store: store})
	require.NoError(t, err)
	s.Start()

	ctx := context.Background()
	tx1 := s.NewWriteOnlyTransaction()
	tx2 := s.NewWriteOnlyTransaction()
	require.NoError(t, tx1.Write(path("/x"), leaf("x", 1)))
	require.NoError(t, tx2.Write(path("/y"), leaf("y", 2)))
	for _, tx := range []*WriteTransaction{tx1, tx2} {
		require.NoError(t, tx.Ready())
		require.NoError(t, tx.Validate(ctx))
		require.NoError(t, tx.Prepare(ctx))
	}
	require.NoError(t, tx1.Commit(ctx))
	require.Error(t, tx2.Commit(ctx))
	s.Stop()

	restored, err := New(Config{ID: id, Store: store})
	require.NoError(t, err)
	_, ok, err := restored.Read(path("/x"))
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = restored.Read(path("/y"))
	require.NoError(t, err)
	assert.False(t, ok, "a rejected candidate must not reach the store")
}

func TestTransactionKeepsTopologyItWasAllocatedWith(t *testing.T) {
	tests := []struct {
		name        string
		attached    bool
		change      func(t *testing.T, parent, child *Shard)
		inParent    bool
		inChildTree bool
	}{
		{
			name:     "attach after allocation",
			attached: false,
			change: func(t *testing.T, parent, child *Shard) {
				_, err := parent.Attach(child)
				require.NoError(t, err)
			},
			inParent: true,
		},
		{
			name:     "detach after allocation",
			attached: true,
			change: func(t *testing.T, parent, child *Shard) {
				require.NoError(t, parent.Detach(child.ID()))
			},
			inChildTree: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := newShard(t, "/")
			child := newShard(t, "/a/b")
			if tt.attached {
				_, err := parent.Attach(child)
				require.NoError(t, err)
			}

			tx := parent.NewWriteOnlyTransaction()
			tt.change(t, parent, child)
			require.NoError(t, tx.Write(path("/a/b/y"), leaf("y", 1)))
			require.NoError(t, wait(t, tx.Submit()))

			_, ok := readLocal(parent, "/a/b/y")
			assert.Equal(t, tt.inParent, ok)
			_, ok = readLocal(child, "/a/b/y")
			assert.Equal(t, tt.inChildTree, ok)
		})
	}
}
