package events

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cuemby/canopy/pkg/log"
	"github.com/cuemby/canopy/pkg/metrics"
	"github.com/cuemby/canopy/pkg/tree"
	"github.com/cuemby/canopy/pkg/types"
	"github.com/google/uuid"
	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/rs/zerolog"
)

// ErrOutsideShard is returned for registrations outside the owning shard
var ErrOutsideShard = errors.New("path is outside of the shard")

// Change is the listener-facing view of one modified node
type Change struct {
	Path   types.Path
	Kind   tree.ModificationType
	Before *types.Node
	After  *types.Node
}

// Listener receives every change under its registration path, batched
// into one call per commit
type Listener interface {
	OnDataChanged(changes []Change)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(changes []Change)

// OnDataChanged calls f
func (f ListenerFunc) OnDataChanged(changes []Change) {
	f(changes)
}

// Registrar accepts listener registrations. Shards implement it so that a
// parent can hand registrations under a child boundary to the child.
type Registrar interface {
	RegisterListener(path types.Path, listener Listener) (*Registration, error)
}

// Subshard is a child registrar and the root of the subtree it owns
type Subshard struct {
	Path      types.Path
	Registrar Registrar
}

// Router resolves the child shards of the publisher's shard
type Router interface {
	// ChildFor returns the child owning an absolute path, if any
	ChildFor(path types.Path) (Registrar, bool)
	// ChildrenUnder returns the children rooted strictly below path
	ChildrenUnder(path types.Path) []Subshard
}

// Registration is an active listener subscription
type Registration struct {
	id       string
	path     types.Path
	listener Listener
	closed   atomic.Bool
	onClose  func(*Registration)
	// subshards forward the changes of child shards below path
	subshards []*Registration
}

// ID returns the registration identifier
func (r *Registration) ID() string {
	return r.id
}

// Path returns the absolute root of the subscribed subtree
func (r *Registration) Path() types.Path {
	return r.path
}

// Close removes the registration. Deliveries already in flight for it are
// dropped.
func (r *Registration) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	for _, sub := range r.subshards {
		sub.Close()
	}
	if r.onClose != nil {
		r.onClose(r)
	}
}

// Publisher projects committed candidates onto listener registrations.
// Registrations live in an immutable radix tree keyed by path so the
// delivery loop reads a consistent snapshot without holding a lock while
// registrations come and go.
type Publisher struct {
	prefix types.Path
	router Router

	mu       sync.Mutex
	registry atomic.Pointer[iradix.Tree]

	candidateCh chan *tree.Candidate
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
	logger      zerolog.Logger
}

// NewPublisher creates a publisher for the shard rooted at prefix. router
// may be nil when the shard has no children.
func NewPublisher(prefix types.Path, router Router, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 100
	}
	p := &Publisher{
		prefix:      prefix,
		router:      router,
		candidateCh: make(chan *tree.Candidate, queueSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      log.WithShard("publisher", prefix.String()),
	}
	p.registry.Store(iradix.New())
	return p
}

// Start begins the delivery loop
func (p *Publisher) Start() {
	go p.run()
}

// Stop stops delivery. Candidates still queued are dropped.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// Done is closed when the delivery loop has exited
func (p *Publisher) Done() <-chan struct{} {
	return p.doneCh
}

// key encodes a path so that prefix walks never match a sibling sharing
// a textual prefix ("/a/b/" versus "/a/bc/")
func key(path types.Path) []byte {
	if len(path) == 0 {
		return []byte("/")
	}
	return []byte(path.String() + "/")
}

// RegisterListener subscribes listener to changes at or under path.
// Paths inside a child shard are registered with that child instead. When
// child shards lie below path, listener is also registered at the root of
// each of them, so it sees their changes under their own absolute paths.
// Children attached later are not followed.
func (p *Publisher) RegisterListener(path types.Path, listener Listener) (*Registration, error) {
	if !p.prefix.Contains(path) {
		return nil, fmt.Errorf("%w: %s not under %s", ErrOutsideShard, path, p.prefix)
	}
	if p.router != nil {
		if child, ok := p.router.ChildFor(path); ok {
			return child.RegisterListener(path, listener)
		}
	}

	reg := &Registration{
		id:       uuid.New().String(),
		path:     path.Append(),
		listener: listener,
		onClose:  p.remove,
	}
	if p.router != nil {
		for _, sub := range p.router.ChildrenUnder(path) {
			fwd, err := sub.Registrar.RegisterListener(sub.Path, listener)
			if err != nil {
				for _, r := range reg.subshards {
					r.Close()
				}
				return nil, fmt.Errorf("failed to follow child shard at %s: %w", sub.Path, err)
			}
			reg.subshards = append(reg.subshards, fwd)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	registry := p.registry.Load()
	k := key(path)
	var regs map[string]*Registration
	if existing, ok := registry.Get(k); ok {
		regs = copyRegs(existing.(map[string]*Registration), 1)
	} else {
		regs = make(map[string]*Registration, 1)
	}
	regs[reg.id] = reg
	updated, _, _ := registry.Insert(k, regs)
	p.registry.Store(updated)
	return reg, nil
}

func (p *Publisher) remove(reg *Registration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	registry := p.registry.Load()
	k := key(reg.path)
	existing, ok := registry.Get(k)
	if !ok {
		return
	}
	regs := copyRegs(existing.(map[string]*Registration), 0)
	delete(regs, reg.id)
	var updated *iradix.Tree
	if len(regs) == 0 {
		updated, _, _ = registry.Delete(k)
	} else {
		updated, _, _ = registry.Insert(k, regs)
	}
	p.registry.Store(updated)
}

func copyRegs(in map[string]*Registration, extra int) map[string]*Registration {
	out := make(map[string]*Registration, len(in)+extra)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ListenerCount returns the number of local registrations, including the
// ones parents forward into this shard
func (p *Publisher) ListenerCount() int {
	n := 0
	p.registry.Load().Root().Walk(func(_ []byte, v interface{}) bool {
		n += len(v.(map[string]*Registration))
		return false
	})
	return n
}

// Publish queues a committed candidate for delivery. It blocks only when
// the queue is full.
func (p *Publisher) Publish(candidate *tree.Candidate) {
	if candidate.Root().Kind() == tree.Unmodified {
		return
	}
	select {
	case p.candidateCh <- candidate:
	case <-p.stopCh:
	}
}

func (p *Publisher) run() {
	defer close(p.doneCh)
	for {
		select {
		case candidate := <-p.candidateCh:
			p.deliver(candidate)
		case <-p.stopCh:
			return
		}
	}
}

// deliver walks the candidate from its root, descending only into changed
// children that still have registrations at or below them
func (p *Publisher) deliver(candidate *tree.Candidate) {
	root := p.registry.Load().Root()
	p.walk(root, candidate.RootPath(), candidate.Root())
}

func (p *Publisher) walk(root *iradix.Node, path types.Path, node *tree.CandidateNode) {
	if v, ok := root.Get(key(path)); ok {
		regs := v.(map[string]*Registration)
		if len(regs) > 0 {
			changes := collectChanges(path, node, nil)
			for _, reg := range regs {
				p.notify(reg, changes)
			}
		}
	}

	if !hasRegistrationsBelow(root, path) {
		return
	}
	for _, child := range node.Children() {
		p.walk(root, path.Append(child.Identifier()), child)
	}
}

func hasRegistrationsBelow(root *iradix.Node, path types.Path) bool {
	found := false
	self := string(key(path))
	root.WalkPrefix(key(path), func(k []byte, _ interface{}) bool {
		if string(k) != self {
			found = true
			return true
		}
		return false
	})
	return found
}

// collectChanges lists node and its changed descendants in pre-order. Whole
// writes and deletes are reported once; their subtrees travel in Before
// and After.
func collectChanges(path types.Path, node *tree.CandidateNode, out []Change) []Change {
	out = append(out, Change{
		Path:   path,
		Kind:   node.Kind(),
		Before: node.Before(),
		After:  node.After(),
	})
	if node.Kind() != tree.SubtreeModified {
		return out
	}
	for _, child := range node.Children() {
		out = collectChanges(path.Append(child.Identifier()), child, out)
	}
	return out
}

func (p *Publisher) notify(reg *Registration, changes []Change) {
	if reg.closed.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.NotificationFailures.Inc()
			p.logger.Error().
				Str("registration", reg.id).
				Str("path", reg.path.String()).
				Interface("panic", r).
				Msg("listener panicked")
		}
	}()
	reg.listener.OnDataChanged(changes)
	metrics.NotificationsTotal.Inc()
}
