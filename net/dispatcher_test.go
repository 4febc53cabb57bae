package net

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lcx/fastrpc/serializer"
)

// packetSink collects packets written by the dispatcher under test.
type packetSink struct {
	mu   sync.Mutex
	pkts []*Packet
	ch   chan *Packet
}

func newPacketSink() *packetSink {
	return &packetSink{ch: make(chan *Packet, 64)}
}

func (s *packetSink) send(p *Packet) error {
	s.mu.Lock()
	s.pkts = append(s.pkts, p)
	s.mu.Unlock()
	s.ch <- p
	return nil
}

func (s *packetSink) wait(t *testing.T) *Packet {
	t.Helper()
	select {
	case p := <-s.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no packet emitted")
		return nil
	}
}

func newTestDispatcher(t *testing.T, reg *ApiRegistry, isClient bool) (*Dispatcher, *pendingCalls, *packetSink) {
	t.Helper()
	ser := &serializer.JSONSerializer{}
	pending := newPendingCalls(ser, time.Hour)
	t.Cleanup(pending.Close)
	sink := newPacketSink()
	reg.Freeze()
	return newDispatcher(NewPacketCodec(0), reg, pending, ser, isClient, sink.send), pending, sink
}

func feed(t *testing.T, d *Dispatcher, pkts ...*Packet) {
	t.Helper()
	buf := NewReadBuffer()
	for _, p := range pkts {
		data, err := d.codec.Encode(p)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		buf.Append(data)
	}
	if err := d.OnRecvBytes(buf); err != nil {
		t.Fatalf("OnRecvBytes() err = %v", err)
	}
}

func TestDispatcherServesRequest(t *testing.T) {
	reg := NewApiRegistry()
	if err := reg.Register("Echo", func(s string) (string, error) { return s, nil }); err != nil {
		t.Fatal(err)
	}
	// server side: isClient=false, incoming requests carry is_from_client=true
	d, _, sink := newTestDispatcher(t, reg, false)

	feed(t, d, &Packet{Api: "Echo", PacketID: 42, IsFromClient: true, Body: []byte(`["hi"]`)})

	reply := sink.wait(t)
	if reply.PacketID != 42 {
		t.Errorf("reply packet_id = %d, want 42 (echo rule)", reply.PacketID)
	}
	if !reply.IsFromClient {
		t.Error("reply must echo is_from_client verbatim")
	}
	if reply.IsException {
		t.Errorf("unexpected exception reply: %s", reply.Body)
	}
	if string(reply.Body) != `"hi"` {
		t.Errorf("reply body = %s, want \"hi\"", reply.Body)
	}
}

func TestDispatcherUnknownApi(t *testing.T) {
	d, _, sink := newTestDispatcher(t, NewApiRegistry(), false)

	var hookMu sync.Mutex
	var hookErrs []error
	d.onException = func(p *Packet, err error) bool {
		hookMu.Lock()
		hookErrs = append(hookErrs, err)
		hookMu.Unlock()
		return true
	}

	feed(t, d, &Packet{Api: "nope", PacketID: 7, IsFromClient: true})

	reply := sink.wait(t)
	if !reply.IsException {
		t.Fatal("want exception reply")
	}
	if string(reply.Body) != "API 'nope' not found" {
		t.Errorf("exception body = %q", reply.Body)
	}
	if reply.PacketID != 7 || !reply.IsFromClient {
		t.Error("exception reply must echo id and direction")
	}

	hookMu.Lock()
	defer hookMu.Unlock()
	if len(hookErrs) != 1 {
		t.Fatalf("hook saw %d errors, want 1", len(hookErrs))
	}
	var notFound *ApiNotFoundError
	if !errors.As(hookErrs[0], &notFound) {
		t.Fatalf("hook error = %T, want *ApiNotFoundError", hookErrs[0])
	}
}

func TestDispatcherHandlerError(t *testing.T) {
	reg := NewApiRegistry()
	if err := reg.Register("Boom", func() (int, error) { return 0, errors.New("kaput") }); err != nil {
		t.Fatal(err)
	}
	d, _, sink := newTestDispatcher(t, reg, false)

	feed(t, d, &Packet{Api: "Boom", PacketID: 9, IsFromClient: true, Body: []byte(`[]`)})

	reply := sink.wait(t)
	if !reply.IsException {
		t.Fatal("want exception reply")
	}
	if !strings.Contains(string(reply.Body), "kaput") {
		t.Errorf("exception body = %q, want handler message inside", reply.Body)
	}
}

func TestDispatcherHandlerPanic(t *testing.T) {
	reg := NewApiRegistry()
	if err := reg.Register("Panic", func() (int, error) { panic("blew up") }); err != nil {
		t.Fatal(err)
	}
	d, _, sink := newTestDispatcher(t, reg, false)

	feed(t, d, &Packet{Api: "Panic", PacketID: 1, IsFromClient: true, Body: []byte(`[]`)})

	reply := sink.wait(t)
	if !reply.IsException || !strings.Contains(string(reply.Body), "blew up") {
		t.Errorf("panic not converted to exception reply: %+v", reply)
	}
}

func TestDispatcherAggregateError(t *testing.T) {
	first := errors.New("first failure")
	second := errors.New("second failure")

	reg := NewApiRegistry()
	err := reg.Register("Multi", func() (int, error) {
		var merr *multierror.Error
		merr = multierror.Append(merr, first, second)
		return 0, merr
	})
	if err != nil {
		t.Fatal(err)
	}
	d, _, sink := newTestDispatcher(t, reg, false)

	hookCh := make(chan error, 4)
	d.onException = func(p *Packet, err error) bool {
		hookCh <- err
		return true
	}

	feed(t, d, &Packet{Api: "Multi", PacketID: 2, IsFromClient: true, Body: []byte(`[]`)})

	reply := sink.wait(t)
	if !reply.IsException {
		t.Fatal("want exception reply")
	}
	if !strings.Contains(string(reply.Body), "first failure") {
		t.Errorf("exception body = %q, want the first inner error", reply.Body)
	}
	if strings.Contains(string(reply.Body), "second failure") {
		t.Errorf("exception body carries more than the first inner error: %q", reply.Body)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-hookCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("hook saw %d errors, want 2", i)
		}
	}
}

func TestDispatcherOneWayNoReply(t *testing.T) {
	invoked := make(chan string, 1)
	reg := NewApiRegistry()
	if err := reg.Register("Notify", func(msg string) error {
		invoked <- msg
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	d, _, sink := newTestDispatcher(t, reg, false)

	feed(t, d, &Packet{Api: "Notify", PacketID: 3, IsFromClient: true, Body: []byte(`["ping"]`)})

	select {
	case msg := <-invoked:
		if msg != "ping" {
			t.Errorf("handler arg = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	select {
	case p := <-sink.ch:
		t.Fatalf("one-way call emitted a reply: %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcherRoutesReplyToPending(t *testing.T) {
	// client side: isClient=true, replies carry is_from_client=true
	d, pending, _ := newTestDispatcher(t, NewApiRegistry(), true)

	var reply string
	call := &Call{
		PacketID: 11,
		Reply:    &reply,
		Done:     make(chan *Call, 1),
		deadline: time.Now().Add(time.Minute),
	}
	if err := pending.Park(call); err != nil {
		t.Fatal(err)
	}

	feed(t, d, &Packet{Api: "Echo", PacketID: 11, IsFromClient: true, Body: []byte(`"pong"`)})

	done := <-call.Done
	if done.Err != nil || reply != "pong" {
		t.Fatalf("reply routing failed: err=%v reply=%q", done.Err, reply)
	}
}

func TestDispatcherRoutesRemoteExceptionToPending(t *testing.T) {
	d, pending, _ := newTestDispatcher(t, NewApiRegistry(), true)

	call := &Call{PacketID: 12, Done: make(chan *Call, 1), deadline: time.Now().Add(time.Minute)}
	if err := pending.Park(call); err != nil {
		t.Fatal(err)
	}

	feed(t, d, &Packet{Api: "X", PacketID: 12, IsFromClient: true, IsException: true, Body: []byte("it broke")})

	done := <-call.Done
	var remote *RemoteError
	if !errors.As(done.Err, &remote) || remote.Message != "it broke" {
		t.Fatalf("Err = %v, want RemoteError(\"it broke\")", done.Err)
	}
}

func TestDispatcherProtocolErrorFatal(t *testing.T) {
	d, _, _ := newTestDispatcher(t, NewApiRegistry(), false)

	buf := NewReadBuffer()
	buf.Append([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	err := d.OnRecvBytes(buf)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("OnRecvBytes() err = %T %v, want *ProtocolError", err, err)
	}
}

func TestDispatcherFilterShortCircuit(t *testing.T) {
	reg := NewApiRegistry()
	invoked := false
	if err := reg.Register("Blocked", func() error { invoked = true; return nil }); err != nil {
		t.Fatal(err)
	}
	d, _, _ := newTestDispatcher(t, reg, false)

	d.RegFilter(func(dd *DispatcherDelivery, f DispatcherFilterHandleFunc) error {
		if dd.Packet.Api == "Blocked" {
			return nil
		}
		return f(dd)
	})

	feed(t, d, &Packet{Api: "Blocked", PacketID: 1, IsFromClient: true, Body: []byte(`[]`)})
	time.Sleep(50 * time.Millisecond)
	if invoked {
		t.Fatal("filter did not short-circuit the request")
	}
}
