// Package workers provides the bounded pool that runs blocking store and
// answer-generation calls for the message router.
package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/apversus/sauai/internal/logging"
)

// ErrClosed is returned for work submitted to, or still waiting on, a pool
// that is shutting down.
var ErrClosed = errors.New("worker pool closed")

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Pool runs submitted functions on a fixed number of goroutines.
type Pool struct {
	log  *logging.Logger
	size int

	jobs chan *job
	quit chan struct{}
	once sync.Once

	// base is cancelled when Shutdown gives up waiting, to interrupt in-flight work.
	base   context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	inFlight atomic.Int32
}

// New starts a pool with size workers. size < 1 is treated as 1.
func New(size int, log *logging.Logger) *Pool {
	size = max(size, 1)
	base, cancel := context.WithCancel(context.Background())
	p := &Pool{
		log:    log.Sub("workers"),
		size:   size,
		jobs:   make(chan *job),
		quit:   make(chan struct{}),
		base:   base,
		cancel: cancel,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// InFlight returns the number of jobs currently executing.
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Submit runs fn on a worker and waits for its result. It blocks while all
// workers are busy. If ctx ends first, ctx.Err() is returned and fn, if already
// running, observes the cancellation through its own context.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-p.quit:
		return ErrClosed
	default:
	}

	jctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.base, cancel)
	defer func() {
		stop()
		cancel()
	}()

	j := &job{ctx: jctx, fn: fn, done: make(chan error, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrClosed
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work, fails submitters still waiting for a worker
// with ErrClosed and waits for running jobs. If ctx ends first the running jobs
// are cancelled and ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(func() { close(p.quit) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Debug().Msg("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		p.log.Warn().Int("in_flight", p.InFlight()).Msg("worker pool shutdown timed out, cancelling running jobs")
		return ctx.Err()
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			j.done <- p.run(j)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) run(j *job) (err error) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("job panicked")
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.fn(j.ctx)
}
