// Package dispatch runs facade operations against backing connections
// according to their classification.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kasuganosora/shardconn/pkg/capability"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// Call is the per-connection body of an operation.
type Call func(ctx context.Context, conn domain.BackingConn) error

// ResolveFunc returns the current backing connection set. It is invoked at
// the start of every dispatch that needs backing connections.
type ResolveFunc func(ctx context.Context) ([]domain.BackingConn, error)

// NarrowFunc restricts a resolved set, e.g. to the shards a statement routes to.
type NarrowFunc func(ctx context.Context, conns []domain.BackingConn) ([]domain.BackingConn, error)

// Observer is notified once per dispatched operation.
type Observer interface {
	Observe(op capability.Operation, class capability.Classification, targets int, elapsed time.Duration, err error)
}

// Config holds dispatcher options.
type Config struct {
	// Parallel fans AGGREGATE operations out concurrently instead of one
	// connection after another.
	Parallel bool
	// MaxFanout bounds concurrent calls when Parallel is set (0 = unbounded).
	MaxFanout int
	// Timeout returns the best-effort bound applied to backing I/O (0 = none).
	Timeout func() time.Duration
	// Observer receives one notification per operation (optional).
	Observer Observer
}

// Dispatcher executes classified operations.
type Dispatcher struct {
	resolve ResolveFunc
	config  Config
}

// New creates a dispatcher over the given resolver.
func New(resolve ResolveFunc, config Config) *Dispatcher {
	return &Dispatcher{resolve: resolve, config: config}
}

// Option customizes a single Execute call.
type Option func(*request)

type request struct {
	narrow NarrowFunc
}

// Narrow restricts the resolved set before the operation runs.
func Narrow(fn NarrowFunc) Option {
	return func(r *request) { r.narrow = fn }
}

// Execute runs op. For DELEGATE and AGGREGATE operations call is invoked on
// the backing connections; for every other classification it never is.
func (d *Dispatcher) Execute(ctx context.Context, op capability.Operation, call Call, opts ...Option) (err error) {
	class := capability.Classify(op)
	start := time.Now()
	targets := 0
	defer func() {
		if d.config.Observer != nil {
			d.config.Observer.Observe(op, class, targets, time.Since(start), err)
		}
	}()

	switch class {
	case capability.RejectStandard, capability.RejectPolicy:
		return &RejectedError{Operation: op, Classification: class}
	case capability.NoopAccept:
		return nil
	case capability.Delegate, capability.Aggregate:
	default:
		return fmt.Errorf("dispatch: operation %s is not classified", op)
	}

	req := &request{}
	for _, opt := range opts {
		opt(req)
	}

	conns, err := d.targets(ctx, req)
	if err != nil {
		return err
	}
	targets = len(conns)

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if class == capability.Delegate {
		return d.delegate(ctx, op, conns, call)
	}
	return d.aggregate(ctx, op, conns, call)
}

func (d *Dispatcher) targets(ctx context.Context, req *request) ([]domain.BackingConn, error) {
	if d.resolve == nil {
		return nil, nil
	}
	conns, err := d.resolve(ctx)
	if err != nil {
		return nil, &ResolveError{Err: err}
	}
	if req.narrow != nil && len(conns) > 0 {
		conns, err = req.narrow(ctx, conns)
		if err != nil {
			return nil, err
		}
	}
	return conns, nil
}

func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.config.Timeout != nil {
		if timeout := d.config.Timeout(); timeout > 0 {
			return context.WithTimeout(ctx, timeout)
		}
	}
	return context.WithCancel(ctx)
}

// delegate runs call on the canonical (first) connection.
func (d *Dispatcher) delegate(ctx context.Context, op capability.Operation, conns []domain.BackingConn, call Call) error {
	if len(conns) == 0 {
		return ErrNoBackingConnection
	}

	conn := conns[0]
	if err := call(ctx, conn); err != nil {
		return &BackingError{
			Operation: op,
			Shard:     conn.Name(),
			Index:     0,
			Total:     1,
			Err:       err,
		}
	}
	return nil
}

// aggregate runs call on every connection and folds the outcomes. An empty
// set succeeds vacuously.
func (d *Dispatcher) aggregate(ctx context.Context, op capability.Operation, conns []domain.BackingConn, call Call) error {
	var outcomes []Outcome
	if d.config.Parallel && len(conns) > 1 {
		outcomes = d.fanOut(ctx, conns, call)
	} else {
		outcomes = sequential(ctx, conns, call)
	}
	return Fold(op, outcomes, len(conns))
}

// sequential stops at the first failure; later connections are not called.
func sequential(ctx context.Context, conns []domain.BackingConn, call Call) []Outcome {
	outcomes := make([]Outcome, 0, len(conns))
	for i, conn := range conns {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{Index: i, Shard: conn.Name(), Err: err, Skipped: true})
			break
		}

		err := call(ctx, conn)
		outcomes = append(outcomes, Outcome{Index: i, Shard: conn.Name(), Err: err})
		if err != nil {
			break
		}
	}
	return outcomes
}

// fanOut calls every connection concurrently. The first failure cancels the
// shared context so calls that have not started yet are skipped; calls in
// flight are awaited before returning. Outcomes are kept in completion
// order: the failure recorded first is the one that canceled the rest, and
// Fold reports it.
func (d *Dispatcher) fanOut(ctx context.Context, conns []domain.BackingConn, call Call) []Outcome {
	g, gctx := errgroup.WithContext(ctx)
	if d.config.MaxFanout > 0 {
		g.SetLimit(d.config.MaxFanout)
	}

	var mu sync.Mutex
	outcomes := make([]Outcome, 0, len(conns))
	record := func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	for i, conn := range conns {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				record(Outcome{Index: i, Shard: conn.Name(), Err: err, Skipped: true})
				return nil
			}
			err := call(gctx, conn)
			record(Outcome{Index: i, Shard: conn.Name(), Err: err})
			return err
		})
	}
	_ = g.Wait()

	return outcomes
}

// Value runs a value-returning operation. A DELEGATE operation yields the
// canonical connection's value. An AGGREGATE operation collects one value per
// connection and reconciles them with Values: shards that disagree produce a
// DivergenceError and an empty set produces ErrNoBackingConnection. The
// returned Shard is the connection whose answer was recorded first.
func Value[T comparable](ctx context.Context, d *Dispatcher, op capability.Operation, fn func(ctx context.Context, conn domain.BackingConn) (T, error), opts ...Option) (ShardValue[T], error) {
	var (
		mu     sync.Mutex
		values []ShardValue[T]
	)
	err := d.Execute(ctx, op, func(ctx context.Context, conn domain.BackingConn) error {
		v, err := fn(ctx, conn)
		if err != nil {
			return err
		}
		mu.Lock()
		values = append(values, ShardValue[T]{Shard: conn.Name(), Value: v})
		mu.Unlock()
		return nil
	}, opts...)
	if err != nil {
		return ShardValue[T]{}, err
	}
	if _, err := Values(op, values); err != nil {
		return ShardValue[T]{}, err
	}
	return values[0], nil
}
