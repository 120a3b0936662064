// Package plugins implements the bridge's plugin middleware: an ordered chain
// of handlers that observe session events and may veto or rewrite them.
package plugins

import (
	"fmt"

	"github.com/joestump/claude-relay/internal/bridge"
)

// Plugin handles events from the bridge. Handlers run synchronously on the
// session's dispatch path and must return quickly.
type Plugin interface {
	ID() string
	Handle(ev bridge.Event) (bridge.PluginResult, error)
}

// Chain runs plugins in registration order and merges their results.
type Chain struct {
	plugins []Plugin
}

// NewChain builds a chain over the given plugins.
func NewChain(ps ...Plugin) *Chain {
	return &Chain{plugins: ps}
}

// Register appends a plugin to the chain. Not safe to call after the chain is
// handed to a registry.
func (c *Chain) Register(p Plugin) {
	c.plugins = append(c.plugins, p)
}

// Emit delivers the event to every plugin. Insights accumulate across the
// chain; the first permission decision, mutation, block, or abort wins and
// short-circuits the remaining plugins for that concern. A panicking plugin
// fails the whole emit so the bridge takes its default path.
func (c *Chain) Emit(ev bridge.Event) (res bridge.PluginResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = bridge.PluginResult{}
			err = fmt.Errorf("plugin panicked handling %s: %v", ev.Name, r)
		}
	}()

	for _, p := range c.plugins {
		pr, perr := p.Handle(ev)
		if perr != nil {
			return bridge.PluginResult{}, fmt.Errorf("plugin %s: %w", p.ID(), perr)
		}
		res.Insights = append(res.Insights, pr.Insights...)
		if res.Decision == nil && pr.Decision != nil {
			d := *pr.Decision
			if d.PluginID == "" {
				d.PluginID = p.ID()
			}
			res.Decision = &d
		}
		if res.Mutation == nil && pr.Mutation != nil {
			res.Mutation = pr.Mutation
		}
		if pr.Blocked {
			res.Blocked = true
		}
		if pr.Aborted {
			res.Aborted = true
			return res, nil
		}
	}
	return res, nil
}
