package feedcache

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"social-feed/server/internal/model"
)

// RelationWriter sends a relation change to the server.
type RelationWriter func(ctx context.Context, key Key, active bool) error

// Notification describes a settled mutation. Err is nil on success.
type Notification struct {
	Kind MutationKind
	Key  Key
	Err  error
}

// Notifier receives settled mutations, typically to show a toast.
type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

// Engine applies relation toggles optimistically: the cache changes before
// the request is sent and is rolled back if the request fails. At most one
// mutation per key is pending; a second Begin on the same key is rejected.
type Engine struct {
	infos    *InfoCache
	write    RelationWriter
	notifier Notifier
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[Key]struct{}
}

func NewEngine(infos *InfoCache, write RelationWriter, notifier Notifier, logger *zap.Logger) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		infos:    infos,
		write:    write,
		notifier: notifier,
		logger:   logger,
		pending:  make(map[Key]struct{}),
	}
}

// Pending is a mutation whose optimistic value is in the cache and whose
// outcome is not yet known. Exactly one of Commit or Rollback takes effect.
type Pending struct {
	Key      Key
	Kind     MutationKind
	Previous model.RelationInfo
	Next     model.RelationInfo

	engine *Engine
	once   sync.Once
}

// Begin cancels reads of key, captures its snapshot as Previous and writes
// the toggled value as Next.
func (e *Engine) Begin(key Key) (*Pending, error) {
	if !key.IsInfo() {
		return nil, fmt.Errorf("feedcache: %s is not a relation key", key)
	}
	if _, ok := e.infos.cache.Viewer(); !ok {
		return nil, ErrUnauthenticated
	}
	e.mu.Lock()
	if _, busy := e.pending[key]; busy {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrMutationInFlight, key)
	}
	e.pending[key] = struct{}{}
	e.mu.Unlock()

	previous, next, err := e.infos.toggle(key)
	if err != nil {
		e.release(key)
		return nil, err
	}
	return &Pending{
		Key:      key,
		Kind:     mutationForScope(key.Scope),
		Previous: previous,
		Next:     next,
		engine:   e,
	}, nil
}

// Commit settles the mutation as successful. The optimistic value already is
// the end state, so the cache is not touched.
func (p *Pending) Commit() {
	p.once.Do(func() {
		p.engine.release(p.Key)
		p.engine.notifier.Notify(Notification{Kind: p.Kind, Key: p.Key})
	})
}

// Rollback restores Previous, unless the entry was dropped meanwhile, and
// reports cause.
func (p *Pending) Rollback(cause error) {
	p.once.Do(func() {
		restored := p.engine.infos.restore(p.Key, p.Previous)
		p.engine.release(p.Key)
		p.engine.logger.Warn("mutation failed",
			zap.Stringer("kind", p.Kind),
			zap.Stringer("key", p.Key),
			zap.Bool("restored", restored),
			zap.Error(cause))
		p.engine.notifier.Notify(Notification{Kind: p.Kind, Key: p.Key, Err: cause})
	})
}

// Toggle runs a whole mutation: Begin, send, then Commit or Rollback. The
// request is not cancelled with ctx, so a caller going away still leaves the
// cache settled. It returns the value the cache holds for key afterwards.
func (e *Engine) Toggle(ctx context.Context, key Key) (model.RelationInfo, error) {
	pending, err := e.Begin(key)
	if err != nil {
		return model.RelationInfo{}, err
	}
	if err := e.write(context.WithoutCancel(ctx), key, pending.Next.Flag); err != nil {
		pending.Rollback(err)
		return pending.Previous, err
	}
	pending.Commit()
	return pending.Next, nil
}

// InFlight reports whether a mutation on key is pending.
func (e *Engine) InFlight(key Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, busy := e.pending[key]
	return busy
}

func (e *Engine) release(key Key) {
	e.mu.Lock()
	delete(e.pending, key)
	e.mu.Unlock()
}
