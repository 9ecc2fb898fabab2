// Package xrpc implements a transport-agnostic, symmetric, bidirectional
// RPC engine. Each side registers a local function namespace (a FuncTree)
// and obtains a handle (*Endpoint) to call the peer's namespace. The core
// never touches a socket directly: transport is injected as a Poster and a
// Registrar, and serialization is injected as a Codec.
package xrpc
