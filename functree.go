package xrpc

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// Func is a callable leaf of a FuncTree. Args are the raw JSON argument
// array from the Request frame; a function unmarshals the arguments it
// expects. The returned value is marshaled into the Response's Result
// field, unless it is a <-chan StreamItem, in which case it is streamed
// (see stream.go).
type Func func(ctx context.Context, args []json.RawMessage) (interface{}, error)

// FuncTree is the local function namespace: an arbitrarily deep mapping
// whose leaves are Func values and whose intermediate nodes are further
// *FuncTree values. It is safe for concurrent read/write; modifications
// are observed on the next lookup, with no caching of resolved handles.
type FuncTree struct {
	mu       sync.RWMutex
	children map[string]*FuncTree
	funcs    map[string]Func
}

// NewFuncTree returns an empty, ready-to-use FuncTree.
func NewFuncTree() *FuncTree {
	return &FuncTree{
		children: make(map[string]*FuncTree),
		funcs:    make(map[string]Func),
	}
}

// Set installs fn at the given dotted path, creating intermediate
// FuncTree nodes as needed.
func (t *FuncTree) Set(path string, fn Func) {
	segs := strings.Split(path, ".")
	node := t
	for _, seg := range segs[:len(segs)-1] {
		node = node.child(seg)
	}
	last := segs[len(segs)-1]
	node.mu.Lock()
	node.funcs[last] = fn
	node.mu.Unlock()
}

// Sub returns (creating if necessary) the nested FuncTree at path, so
// callers can build a tree bottom-up or mount a shared subtree.
func (t *FuncTree) Sub(path string) *FuncTree {
	node := t
	for _, seg := range strings.Split(path, ".") {
		node = node.child(seg)
	}
	return node
}

func (t *FuncTree) child(seg string) *FuncTree {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.children[seg]
	if !ok {
		c = NewFuncTree()
		t.children[seg] = c
	}
	return c
}

// Delete removes whatever function is installed at path, if any.
func (t *FuncTree) Delete(path string) {
	segs := strings.Split(path, ".")
	node := t
	for _, seg := range segs[:len(segs)-1] {
		node.mu.RLock()
		next, ok := node.children[seg]
		node.mu.RUnlock()
		if !ok {
			return
		}
		node = next
	}
	last := segs[len(segs)-1]
	node.mu.Lock()
	delete(node.funcs, last)
	node.mu.Unlock()
}

// resolveDefault walks path segment by segment against the tree.
// Traversal through a missing intermediate node, or a terminal node that
// is not a Func, yields (nil, false): not found.
func (t *FuncTree) resolveDefault(path string) (Func, bool) {
	segs := strings.Split(path, ".")
	node := t
	for _, seg := range segs[:len(segs)-1] {
		node.mu.RLock()
		next, ok := node.children[seg]
		node.mu.RUnlock()
		if !ok {
			return nil, false
		}
		node = next
	}
	last := segs[len(segs)-1]
	node.mu.RLock()
	fn, ok := node.funcs[last]
	node.mu.RUnlock()
	return fn, ok
}

// ResolverFunc is a custom resolver hook: it receives the path and the
// default resolution (which may be nil), and may return a substitute
// Func, the default itself, or nil.
type ResolverFunc func(ctx context.Context, path string, def Func) Func

// resolve applies the optional resolver on top of the tree's default
// resolution, as the nested dispatch component requires.
func (ep *Endpoint) resolve(ctx context.Context, path string) (Func, bool) {
	def, ok := ep.cfg.Functions.resolveDefault(path)
	if ep.cfg.Resolver == nil {
		return def, ok
	}
	fn := ep.cfg.Resolver(ctx, path, def)
	return fn, fn != nil
}
