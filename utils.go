package xrpc

import "fmt"

// panicToError normalizes a recover() value into an error.
func panicToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
