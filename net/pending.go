package net

import (
	"sync"
	"time"

	"github.com/lcx/fastrpc/log"
	"github.com/lcx/fastrpc/metrics"
	"github.com/lcx/fastrpc/serializer"
)

// Call is one outstanding outgoing invocation. The Done channel is the call's
// future: it receives the call itself once the completion slot is written
// with exactly one of value, remote error, timeout or shutdown, or with the
// local error when the call could not be issued.
type Call struct {
	PacketID uint32
	Api      string

	// Reply is the caller-supplied pointer the decoded return value is
	// written into. Nil when the caller discards the result.
	Reply any

	// Err is the terminal error of the call, nil on success.
	Err error

	// Done receives the call on completion. Must be buffered.
	Done chan *Call

	issuedAt time.Time
	deadline time.Time
}

func (c *Call) finish() {
	select {
	case c.Done <- c:
	default:
		// no room means the caller handed over an exhausted channel;
		// dropping beats blocking the receive path
		log.Error().Uint32("packetID", c.PacketID).Str("api", c.Api).
			Msg("call done channel full, completion dropped")
	}
}

// pendingCalls is the table of outstanding calls keyed by packet id.
// Completion is write-once: removing the call from the map under the mutex is
// the single gate, so every call resolves exactly once across reply arrival,
// remote error, timeout sweep and shutdown. Late or duplicate replies find no
// entry and are dropped silently.
type pendingCalls struct {
	mu    sync.Mutex
	calls map[uint32]*Call
	ser   serializer.Serializer

	stop     chan struct{}
	stopOnce sync.Once
}

// newPendingCalls creates the table and starts the timeout sweeper. The
// sweep interval stays at or below a tenth of the call timeout so expired
// calls resolve promptly.
func newPendingCalls(ser serializer.Serializer, sweepInterval time.Duration) *pendingCalls {
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	t := &pendingCalls{
		calls: make(map[uint32]*Call),
		ser:   ser,
		stop:  make(chan struct{}),
	}
	go t.serveSweep(sweepInterval)
	return t
}

// Park registers a call until a terminal completion arrives.
func (t *pendingCalls) Park(call *Call) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.calls[call.PacketID]; ok {
		return &DuplicateIDError{PacketID: call.PacketID}
	}
	t.calls[call.PacketID] = call
	return nil
}

// take removes and returns the call for id, or nil if no call is parked.
func (t *pendingCalls) take(id uint32) *Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.calls[id]
	if !ok {
		return nil
	}
	delete(t.calls, id)
	return call
}

// CompleteValue resolves the call for id with a value body, decoding it into
// the call's reply target with the table's serializer.
func (t *pendingCalls) CompleteValue(id uint32, body []byte) {
	call := t.take(id)
	if call == nil {
		return
	}
	if call.Reply != nil {
		if err := t.ser.Decode(body, call.Reply); err != nil {
			call.Err = err
		}
	}
	call.finish()
}

// CompleteRemoteError resolves the call for id with the peer's exception
// message.
func (t *pendingCalls) CompleteRemoteError(id uint32, message string) {
	call := t.take(id)
	if call == nil {
		return
	}
	call.Err = &RemoteError{Message: message}
	call.finish()
}

// TakeAll atomically removes and returns every pending call. Used at
// shutdown; the caller resolves each one.
func (t *pendingCalls) TakeAll() []*Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := make([]*Call, 0, len(t.calls))
	for _, call := range t.calls {
		all = append(all, call)
	}
	t.calls = make(map[uint32]*Call)
	return all
}

// Len returns the number of outstanding calls.
func (t *pendingCalls) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Close stops the timeout sweeper.
func (t *pendingCalls) Close() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
}

func (t *pendingCalls) serveSweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			t.sweep(now)
		}
	}
}

func (t *pendingCalls) sweep(now time.Time) {
	var expired []*Call

	t.mu.Lock()
	for id, call := range t.calls {
		if now.After(call.deadline) {
			delete(t.calls, id)
			expired = append(expired, call)
		}
	}
	t.mu.Unlock()

	for _, call := range expired {
		call.Err = ErrTimeout
		call.finish()
	}
	if len(expired) > 0 {
		metrics.IncrCounterWithGroup("rpc", "call_timeout_total", metrics.Value(len(expired)))
	}
}
