package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/lintestor-go/lintestor/pkg/config"
)

// Pool caches live connections keyed by target configuration path, so
// multiple templates aimed at the same target share one session (spec
// §4.1's pool, §5's "only shared mutable state between templates").
type Pool struct {
	mu    sync.Mutex
	opts  Options
	conns map[string]Connection
}

func NewPool(opts Options) *Pool {
	return &Pool{opts: opts, conns: make(map[string]Connection)}
}

// Get returns the live connection for target, creating and setting one up
// if this is the first request for that target path.
func (p *Pool) Get(ctx context.Context, target *config.Target) (Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[target.Path]; ok {
		return c, nil
	}

	c, err := New(target, p.opts)
	if err != nil {
		return nil, err
	}
	if err := c.Setup(ctx); err != nil {
		return nil, fmt.Errorf("connection: setup %s: %w", target.Path, err)
	}
	p.conns[target.Path] = c
	return c, nil
}

// CloseAll tears down and closes every live connection, in no particular
// order. Errors are collected but do not stop the sweep, so one bad
// connection never strands the others' resources.
func (p *Pool) CloseAll(ctx context.Context) []error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for path, c := range p.conns {
		if err := c.Teardown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("teardown %s: %w", path, err))
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	p.conns = make(map[string]Connection)
	return errs
}
