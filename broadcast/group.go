// Package broadcast fans a single logical call out across a dynamic set of
// peer endpoints sharing one local function namespace: one FuncTree served
// to every member, member list updated in place, per-member errors
// collected positionally rather than aborting the whole fan-out.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fabregas/xrpc"
)

// Channel names one member of the group: ID is the stable key used to
// diff an UpdateChannels call against the current membership, Config
// supplies that member's transport (Post/Register) and the rest of its
// EndpointConfig. Functions is overwritten with the group's shared
// FuncTree before the member endpoint is constructed, so every member
// exposes the same local namespace regardless of what Config.Functions
// was set to.
type Channel struct {
	ID     string
	Config xrpc.EndpointConfig
}

// Result pairs one member's outcome with the ID of the channel it came
// from, preserving the caller's ability to tell which peer produced
// (or failed to produce) a given slot.
type Result struct {
	ChannelID string
	Value     json.RawMessage
	Err       error
}

type member struct {
	id string
	ep *xrpc.Endpoint
}

// Group holds a shared function tree and a dynamic set of member
// endpoints, each reachable the same way a lone Endpoint is.
type Group struct {
	mu        sync.RWMutex
	functions *xrpc.FuncTree
	members   []*member
}

// NewGroup creates an empty group around a fresh shared FuncTree. Register
// functions on Functions() before or after adding channels: the tree is
// shared by reference, so updates are visible to every current and future
// member immediately.
func NewGroup() *Group {
	return &Group{functions: xrpc.NewFuncTree()}
}

// Functions returns the namespace shared by every member endpoint.
func (g *Group) Functions() *xrpc.FuncTree { return g.functions }

// UpdateChannels replaces the member list: mutator receives a snapshot of
// the current channel descriptors and returns the desired set. Channels
// present before but absent after are closed; channels absent before but
// present after are instantiated (with Functions forced to the group's
// shared tree); channels present in both are left untouched. Returns the
// first construction error, if any, after still having closed every
// removed member.
func (g *Group) UpdateChannels(mutator func(current []Channel) []Channel) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	current := make([]Channel, len(g.members))
	for i, m := range g.members {
		current[i] = Channel{ID: m.id, Config: m.ep.Config()}
	}

	desired := mutator(current)

	wantByID := make(map[string]Channel, len(desired))
	for _, c := range desired {
		wantByID[c.ID] = c
	}

	kept := make([]*member, 0, len(desired))
	for _, m := range g.members {
		if _, ok := wantByID[m.id]; ok {
			kept = append(kept, m)
		} else {
			m.ep.Close(nil)
		}
	}

	haveByID := make(map[string]bool, len(kept))
	for _, m := range kept {
		haveByID[m.id] = true
	}

	var firstErr error
	for _, c := range desired {
		if haveByID[c.ID] {
			continue
		}
		cfg := c.Config
		cfg.Functions = g.functions
		ep, err := xrpc.NewFromConfig(cfg)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		kept = append(kept, &member{id: c.ID, ep: ep})
	}

	g.members = kept
	return firstErr
}

func (g *Group) snapshot() []*member {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*member, len(g.members))
	copy(out, g.members)
	return out
}

// Call invokes path on every current member concurrently and returns one
// Result per member, in membership order, plus an aggregate error: the
// first non-nil member error, or nil if every member succeeded. A single
// slow or failing member never blocks or drops the others from the
// result slice — inspect it, or treat a non-nil aggregate error as the
// whole call failing.
func (g *Group) Call(ctx context.Context, path string, args ...interface{}) ([]Result, error) {
	results := g.fanOut(ctx, path, args, func(ep *xrpc.Endpoint, ctx context.Context, path string, args []interface{}) (json.RawMessage, error) {
		return ep.Call(ctx, path, args...)
	})
	return results, firstError(results)
}

// CallOptional is like Call, except a member that has no function bound
// at path resolves to a JSON null Value and a nil Err instead of a
// not-found error, mirroring CallOptional's single-endpoint tolerance
// across the whole group; a not-found error that still arrives is
// cleared to a nil Value and nil Err, so such members never contribute to
// the aggregate error.
func (g *Group) CallOptional(ctx context.Context, path string, args ...interface{}) ([]Result, error) {
	results := g.fanOut(ctx, path, args, func(ep *xrpc.Endpoint, ctx context.Context, path string, args []interface{}) (json.RawMessage, error) {
		return ep.CallOptional(ctx, path, args...)
	})
	for i := range results {
		if results[i].Err != nil && xrpc.IsNotFound(results[i].Err) {
			results[i].Err = nil
			results[i].Value = nil
		}
	}
	return results, firstError(results)
}

// firstError returns the first non-nil member error, in membership order,
// or nil if every member succeeded.
func firstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// CallEvent posts path as a fire-and-forget call to every current member
// concurrently, returning one error per member (nil on success).
func (g *Group) CallEvent(ctx context.Context, path string, args ...interface{}) []error {
	members := g.snapshot()
	errs := make([]error, len(members))

	var wg sync.WaitGroup
	wg.Add(len(members))
	for i, m := range members {
		i, m := i, m
		go func() {
			defer wg.Done()
			errs[i] = m.ep.CallEvent(ctx, path, args...)
		}()
	}
	wg.Wait()
	return errs
}

func (g *Group) fanOut(ctx context.Context, path string, args []interface{}, invoke func(*xrpc.Endpoint, context.Context, string, []interface{}) (json.RawMessage, error)) []Result {
	members := g.snapshot()
	results := make([]Result, len(members))

	var wg sync.WaitGroup
	wg.Add(len(members))
	for i, m := range members {
		i, m := i, m
		results[i].ChannelID = m.id
		go func() {
			defer wg.Done()
			value, err := invoke(m.ep, ctx, path, args)
			results[i].Value = value
			results[i].Err = err
		}()
	}
	wg.Wait()
	return results
}

// Close closes every current member endpoint with cause and empties the
// membership list.
func (g *Group) Close(cause error) {
	g.mu.Lock()
	members := g.members
	g.members = nil
	g.mu.Unlock()

	for _, m := range members {
		m.ep.Close(cause)
	}
}
