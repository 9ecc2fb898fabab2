package xrpc

import "sync"

// callResult is what a pendingCall is ultimately resolved with.
type callResult struct {
	frame Frame
	err   error
}

// pendingCall is the bookkeeping entry for one in-flight response-expecting
// call. Invariant: at most one timer of each kind is live at any moment;
// both are cleared before the record is removed from its table.
type pendingCall struct {
	path string
	args []interface{} // captured at call time; ack-timeout handlers see these, not frame contents

	result chan callResult

	mu          sync.Mutex
	ackReceived bool
	ackTimer    *timerHandle
	respTimer   *timerHandle
}

func newPendingCall(path string, args []interface{}) *pendingCall {
	return &pendingCall{path: path, args: args, result: make(chan callResult, 1)}
}

// clearTimers stops both timers. Safe to call more than once.
func (p *pendingCall) clearTimers() {
	p.mu.Lock()
	ack, resp := p.ackTimer, p.respTimer
	p.ackTimer, p.respTimer = nil, nil
	p.mu.Unlock()
	ack.Stop()
	resp.Stop()
}

func (p *pendingCall) setAckTimer(h *timerHandle) {
	p.mu.Lock()
	p.ackTimer = h
	p.mu.Unlock()
}

func (p *pendingCall) setRespTimer(h *timerHandle) {
	p.mu.Lock()
	p.respTimer = h
	p.mu.Unlock()
}

func (p *pendingCall) markAckReceived() (already bool, ackTimer *timerHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	already = p.ackReceived
	p.ackReceived = true
	ackTimer = p.ackTimer
	p.ackTimer = nil
	return
}

// settle delivers the terminal result exactly once. Extra sends are
// dropped since result has capacity 1 and is only read once.
func (p *pendingCall) settle(res callResult) {
	select {
	case p.result <- res:
	default:
	}
}

// correlationTable maps request id -> pending-call record. Owned
// exclusively by its Endpoint.
type correlationTable struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

func newCorrelationTable() *correlationTable {
	return &correlationTable{calls: make(map[string]*pendingCall)}
}

func (t *correlationTable) add(id string, p *pendingCall) {
	t.mu.Lock()
	t.calls[id] = p
	t.mu.Unlock()
}

func (t *correlationTable) get(id string) (*pendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.calls[id]
	return p, ok
}

// remove removes and returns the record for id, if present.
func (t *correlationTable) remove(id string) (*pendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	return p, ok
}

// drain empties the table and returns every record that was present, for
// Close/RejectPendingCalls to terminate.
func (t *correlationTable) drain() []*pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*pendingCall, 0, len(t.calls))
	for id, p := range t.calls {
		out = append(out, p)
		delete(t.calls, id)
	}
	return out
}

func (t *correlationTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
