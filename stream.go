package xrpc

import (
	"encoding/json"
	"sync"
)

// StreamItem is one element of the asynchronous sequence a local function
// returns to stream a reply: either a value, a terminal error, or Done.
type StreamItem struct {
	Value interface{}
	Err   error
	Done  bool
}

// streamRecord is the bookkeeping entry for one in-flight streamed call.
// Once Done or Err is set it is never unset; the consumer drains buffered
// values before observing Done, per the stream record invariant. Like
// pendingCall, it carries independent ack and response timers: at most one
// of each is live at a time, and both are cleared before the record is
// removed from its table.
type streamRecord struct {
	path string
	args []interface{} // captured at call time; timeout handlers see these, not frame contents

	mu          sync.Mutex
	queue       []Frame // buffered StreamNext frames awaiting consumption
	done        bool
	err         error
	wake        chan struct{} // closed to broadcast a wake, then replaced
	ackReceived bool
	ackTimer    *timerHandle
	respTimer   *timerHandle
	released    bool // set on early termination; further pushes are dropped silently
}

func newStreamRecord(path string, args []interface{}) *streamRecord {
	return &streamRecord{path: path, args: args, wake: make(chan struct{})}
}

func (s *streamRecord) setAckTimer(h *timerHandle) {
	s.mu.Lock()
	s.ackTimer = h
	s.mu.Unlock()
}

func (s *streamRecord) setRespTimer(h *timerHandle) {
	s.mu.Lock()
	s.respTimer = h
	s.mu.Unlock()
}

func (s *streamRecord) markAckReceived() (already bool, ackTimer *timerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	already = s.ackReceived
	s.ackReceived = true
	ackTimer = s.ackTimer
	s.ackTimer = nil
	return
}

// clearTimers stops both timers. Safe to call more than once.
func (s *streamRecord) clearTimers() {
	s.mu.Lock()
	ack, resp := s.ackTimer, s.respTimer
	s.ackTimer, s.respTimer = nil, nil
	s.mu.Unlock()
	ack.Stop()
	resp.Stop()
}

func (s *streamRecord) wakeLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// pushNext appends a StreamNext frame's value, waking any waiting
// consumer. No-op if the stream has already terminated or been released.
func (s *streamRecord) pushNext(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.done || s.err != nil {
		return
	}
	s.queue = append(s.queue, f)
	s.wakeLocked()
}

func (s *streamRecord) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.done || s.err != nil {
		return
	}
	s.done = true
	s.wakeLocked()
}

func (s *streamRecord) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.done || s.err != nil {
		return
	}
	s.err = err
	s.wakeLocked()
}

// release marks the record as abandoned: subsequent StreamNext frames are
// dropped silently, and no further wakes are meaningful.
func (s *streamRecord) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
}

// streamTable maps request id -> stream sink. Owned exclusively by its
// Endpoint.
type streamTable struct {
	mu      sync.Mutex
	streams map[string]*streamRecord
}

func newStreamTable() *streamTable {
	return &streamTable{streams: make(map[string]*streamRecord)}
}

func (t *streamTable) add(id string, s *streamRecord) {
	t.mu.Lock()
	t.streams[id] = s
	t.mu.Unlock()
}

func (t *streamTable) get(id string) (*streamRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	return s, ok
}

func (t *streamTable) remove(id string) {
	t.mu.Lock()
	delete(t.streams, id)
	t.mu.Unlock()
}

func (t *streamTable) drain() []*streamRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*streamRecord, 0, len(t.streams))
	for id, s := range t.streams {
		out = append(out, s)
		delete(t.streams, id)
	}
	return out
}

// StreamIter is the lazy, single-pass sequence a caller iterates over the
// result of CallStream. The underlying Request is not posted until the
// first call to Next.
type StreamIter struct {
	ep           *Endpoint
	id           string
	record       *streamRecord
	cursor       int
	closed       bool
	started      bool
	pendingStart func() (string, error)
}

// Next blocks until the next streamed value, a terminal error, or
// completion. ok is false once iteration has ended (whether by StreamEnd
// or with err != nil), and on every call after that. The returned value is the raw JSON
// payload; unmarshal it into whatever type the caller expects.
func (it *StreamIter) Next() (value json.RawMessage, err error, ok bool) {
	if it.closed {
		return nil, nil, false
	}
	if !it.started {
		it.started = true
		id, err := it.pendingStart()
		if err != nil {
			it.closed = true
			return nil, err, false
		}
		it.id = id
		record, _ := it.ep.streams.get(id)
		it.record = record
	}
	for {
		it.record.mu.Lock()
		if it.cursor < len(it.record.queue) {
			f := it.record.queue[it.cursor]
			it.cursor++
			it.record.mu.Unlock()
			return f.Value, nil, true
		}
		if it.record.err != nil {
			err := it.record.err
			it.record.mu.Unlock()
			it.Close()
			return nil, err, false
		}
		if it.record.done {
			it.record.mu.Unlock()
			it.Close()
			return nil, nil, false
		}
		wake := it.record.wake
		it.record.mu.Unlock()
		<-wake
	}
}

// Close abandons the iteration early: the record is released, no further
// StreamNext frames are delivered to it, and their drop is silent.
func (it *StreamIter) Close() {
	if it.closed {
		return
	}
	it.closed = true
	if it.record == nil {
		return
	}
	it.record.release()
	it.record.clearTimers()
	it.ep.streams.remove(it.id)
}
