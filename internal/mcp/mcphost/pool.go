// Package mcphost provides the concrete implementation of the [mcp.Host]
// interface.
//
// It launches MCP servers as child processes, speaks to them over stdio using
// the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk), caches
// each server's tool catalogue, routes tool calls with bounded retry, and
// tracks per-tool health through rolling-window percentiles.
//
// Typical usage:
//
//	pool := mcphost.New([]mcp.ServerConfig{
//	    {Name: "users", Command: "uvx", Args: []string{"mcp-server-users"}},
//	}, mcphost.WithLogger(logger))
//	defer pool.ShutdownAll()
//
//	if err := pool.StartAll(ctx); err != nil {
//	    return err
//	}
//	tools, _ := pool.Catalog(ctx)
//	result, err := pool.Dispatch(ctx, "list_users", map[string]any{})
package mcphost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/mcpchat/internal/mcp"
	"github.com/MrWong99/mcpchat/internal/observe"
)

// Pool is the ordered set of server connections of one session.
//
// Connections start in configuration order and are torn down in reverse
// order. The zero value is NOT usable; create instances with [New] or
// [NewPool].
type Pool struct {
	conns   []*Connection
	log     *slog.Logger
	metrics *observe.Metrics

	mu       sync.RWMutex
	started  bool
	catalogs [][]mcp.ToolDescriptor // parallel to conns
}

// Compile-time check: Pool must implement mcp.Host.
var _ mcp.Host = (*Pool)(nil)

// New creates a pool with one unstarted [Connection] per server, in the given
// order. opts apply to the pool and to every connection.
func New(servers []mcp.ServerConfig, opts ...Option) *Pool {
	conns := make([]*Connection, 0, len(servers))
	for _, s := range servers {
		conns = append(conns, NewConnection(s, opts...))
	}
	return NewPool(conns, opts...)
}

// NewPool creates a pool over existing connections. Only the logger and
// metrics options are used.
func NewPool(conns []*Connection, opts ...Option) *Pool {
	o := newOptions(opts)
	return &Pool{
		conns:    conns,
		log:      o.logger,
		metrics:  o.metrics,
		catalogs: make([][]mcp.ToolDescriptor, len(conns)),
	}
}

// Connections returns the pool's connections in configuration order.
func (p *Pool) Connections() []*Connection {
	return append([]*Connection(nil), p.conns...)
}

// StartAll starts every connection sequentially and caches its catalogue. A
// failed discovery counts as a failed start. The first failure stops the
// sequence: every connection started so far is cleaned up in reverse order
// and no later connection is started.
func (p *Pool) StartAll(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("mcphost: pool already started")
	}
	p.started = true
	p.mu.Unlock()

	for i, c := range p.conns {
		err := c.Start(ctx)
		if err == nil {
			var tools []mcp.ToolDescriptor
			tools, err = c.Discover(ctx)
			if err == nil {
				p.mu.Lock()
				p.catalogs[i] = tools
				p.mu.Unlock()
				p.log.Info("server tools loaded", "server", c.Name(), "tools", len(tools))
				continue
			}
		}

		p.log.Error("server startup failed, tearing down", "server", c.Name(), "err", err)
		p.cleanupReverse(p.conns[:i+1])
		return fmt.Errorf("mcphost: start server %q: %w", c.Name(), err)
	}
	p.log.Info("all servers started", "count", len(p.conns))
	return nil
}

// Catalog re-discovers the tools of every ready connection and returns them
// concatenated in pool order. Duplicate names across servers are kept.
func (p *Pool) Catalog(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	var all []mcp.ToolDescriptor
	for i, c := range p.conns {
		if c.State() != mcp.StateReady {
			continue
		}
		tools, err := c.Discover(ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.catalogs[i] = tools
		p.mu.Unlock()
		all = append(all, tools...)
	}
	return all, nil
}

// Dispatch runs tool on the first connection, in pool order, whose cached
// catalogue lists it. When none does, the returned error wraps
// [mcp.ErrToolNotFound] and no server is contacted.
func (p *Pool) Dispatch(ctx context.Context, tool string, args map[string]any) (*mcp.ToolResult, error) {
	conn := p.owner(tool)
	if conn == nil {
		p.log.Warn("no server found with tool", "tool", tool)
		p.metrics.RecordToolCall(ctx, tool, "not_found")
		return nil, fmt.Errorf("mcphost: dispatch %q: %w", tool, mcp.ErrToolNotFound)
	}
	return conn.Invoke(ctx, tool, args)
}

func (p *Pool) owner(tool string) *Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i, tools := range p.catalogs {
		for _, t := range tools {
			if t.Name == tool {
				return p.conns[i]
			}
		}
	}
	return nil
}

// Health returns the per-tool statistics of every connection in pool order.
func (p *Pool) Health() []mcp.ToolHealth {
	var out []mcp.ToolHealth
	for _, c := range p.conns {
		out = append(out, c.Health()...)
	}
	return out
}

// Ready reports nil once StartAll succeeded and every connection is ready.
func (p *Pool) Ready() error {
	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if !started {
		return errors.New("mcphost: servers not started")
	}

	var errs []error
	for _, c := range p.conns {
		if st := c.State(); st != mcp.StateReady {
			errs = append(errs, fmt.Errorf("server %q is %s", c.Name(), st))
		}
	}
	return errors.Join(errs...)
}

// ShutdownAll cleans up every connection in reverse order. It never fails;
// a misbehaving connection does not prevent the others from being released.
func (p *Pool) ShutdownAll() {
	p.cleanupReverse(p.conns)

	p.mu.Lock()
	for i := range p.catalogs {
		p.catalogs[i] = nil
	}
	p.mu.Unlock()
}

func (p *Pool) cleanupReverse(conns []*Connection) {
	for i := len(conns) - 1; i >= 0; i-- {
		p.cleanupOne(conns[i])
	}
}

func (p *Pool) cleanupOne(c *Connection) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic during server cleanup", "server", c.Name(), "panic", r)
		}
	}()
	c.Cleanup()
}
