package xrpc

import uuid "github.com/satori/go.uuid"

// newID produces a collision-resistant identifier for in-flight
// correlation: a time-ordered UUIDv1, unique through its 60-bit
// timestamp, 14-bit clock sequence and 48-bit node (hardware address)
// fields rather than through random bits.
func newID() string {
	return uuid.NewV1().String()
}
