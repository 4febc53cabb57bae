package net

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lcx/fastrpc/log"
	"github.com/lcx/fastrpc/metrics"
	"github.com/lcx/fastrpc/serializer"
)

// EndpointConfig carries the per-endpoint RPC settings.
type EndpointConfig struct {
	// TimeoutMs is the per-call deadline for invocations expecting a reply.
	TimeoutMs uint32 `mapstructure:"timeoutMs"`

	// MaxFrameBytes bounds total_length of a frame before the connection is
	// considered broken.
	MaxFrameBytes uint32 `mapstructure:"maxFrameBytes"`

	// RecvRateLimit throttles inbound requests per second. 0 disables the
	// limiter.
	RecvRateLimit int `mapstructure:"recvRateLimit"`

	// TokenBurst is the token bucket burst of the receive limiter.
	TokenBurst int `mapstructure:"tokenBurst"`

	// RecvLimiterKind selects the limiter algorithm: RecvLimiterToken
	// (default) or RecvLimiterFunnel.
	RecvLimiterKind string `mapstructure:"recvLimiterKind"`
}

// GetName returns the configuration name for EndpointConfig.
func (c *EndpointConfig) GetName() string {
	return "endpoint"
}

// Validate validates the EndpointConfig parameters.
func (c *EndpointConfig) Validate() error {
	if c.RecvRateLimit < 0 {
		return fmt.Errorf("RecvRateLimit must be non-negative")
	}
	switch c.RecvLimiterKind {
	case "", RecvLimiterToken:
		if c.RecvRateLimit > 0 && c.TokenBurst <= 0 {
			return fmt.Errorf("TokenBurst must be positive when RecvRateLimit is set")
		}
	case RecvLimiterFunnel:
	default:
		return fmt.Errorf("unknown RecvLimiterKind %q", c.RecvLimiterKind)
	}
	return nil
}

const _defaultTimeout = 30 * time.Second

func (c *EndpointConfig) timeout() time.Duration {
	if c == nil || c.TimeoutMs == 0 {
		return _defaultTimeout
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// SendBytesFunc hands an encoded frame to the transport. The transport must
// keep concurrent frames from interleaving on the wire.
type SendBytesFunc func(data []byte) error

// Endpoint is one peer of an RPC connection. Both sides are symmetric: each
// serves the APIs in its registry and may invoke the peer's APIs. The
// endpoint owns its packet-id source, pending-call table and receive buffer;
// the transport drives it through OnReceive and OnDisconnect.
type Endpoint struct {
	cfg      *EndpointConfig
	isClient bool
	timeout  time.Duration

	ids      PacketIDSource
	registry *ApiRegistry
	pending  *pendingCalls
	codec    *PacketCodec
	ser      serializer.Serializer

	dispatcher *Dispatcher
	sendBytes  SendBytesFunc
	buf        *ReadBuffer
	connected  atomic.Bool
}

// NewEndpoint wires an endpoint over a transport send function. isClient
// states this endpoint's role on the connection: true for the dialing side,
// false for the accepting side. The registry is frozen here; register every
// API first.
func NewEndpoint(cfg *EndpointConfig, registry *ApiRegistry, ser serializer.Serializer,
	isClient bool, sendBytes SendBytesFunc) *Endpoint {
	if cfg == nil {
		cfg = &EndpointConfig{}
	}
	if registry == nil {
		registry = NewApiRegistry()
	}
	if ser == nil {
		ser = serializer.Default()
	}
	registry.Freeze()

	timeout := cfg.timeout()
	e := &Endpoint{
		cfg:       cfg,
		isClient:  isClient,
		timeout:   timeout,
		registry:  registry,
		pending:   newPendingCalls(ser, timeout/10),
		codec:     NewPacketCodec(cfg.MaxFrameBytes),
		ser:       ser,
		sendBytes: sendBytes,
		buf:       NewReadBuffer(),
	}
	e.dispatcher = newDispatcher(e.codec, registry, e.pending, ser, isClient, e.sendPacket)

	if cfg.RecvRateLimit > 0 {
		e.dispatcher.RegFilter(newRecvLimiterFilter(cfg))
	}

	e.connected.Store(true)
	return e
}

// SetExceptionHook installs the user hook observing dispatch failures. Set it
// before traffic flows.
func (e *Endpoint) SetExceptionHook(hook ExceptionHook) {
	e.dispatcher.onException = hook
}

// RegFilter appends a dispatcher filter to the inbound request chain. Set
// filters before traffic flows.
func (e *Endpoint) RegFilter(f DispatcherFilter) {
	e.dispatcher.RegFilter(f)
}

// Connected reports whether the endpoint still has its connection.
func (e *Endpoint) Connected() bool {
	return e.connected.Load()
}

// PendingCalls returns the number of outstanding invocations.
func (e *Endpoint) PendingCalls() int {
	return e.pending.Len()
}

// Go issues an invocation expecting a reply and returns its Call immediately.
// The decoded return value lands in reply, which must be a pointer (or nil to
// discard the value). done receives the call on completion; nil allocates a
// fresh channel. Once issued, the call resolves exactly once: with the value,
// a RemoteError, ErrTimeout or ErrShutdown. It also fails with the local
// error when the arguments cannot be encoded, the reply cannot be decoded,
// the packet id is already pending, or the frame cannot be sent.
func (e *Endpoint) Go(api string, reply any, done chan *Call, args ...any) *Call {
	if done == nil {
		done = make(chan *Call, 1)
	} else if cap(done) == 0 {
		log.Fatal().Str("api", api).Msg("done channel is unbuffered")
	}

	now := time.Now()
	call := &Call{
		Api:      api,
		Reply:    reply,
		Done:     done,
		issuedAt: now,
		deadline: now.Add(e.timeout),
	}

	if !e.connected.Load() {
		call.Err = ErrShutdown
		call.finish()
		return call
	}

	body, err := e.ser.EncodeArgs(args)
	if err != nil {
		call.Err = err
		call.finish()
		return call
	}

	call.PacketID = e.ids.Next()

	// park before the frame leaves, the reply may race the send returning
	if err := e.pending.Park(call); err != nil {
		call.Err = err
		call.finish()
		return call
	}

	p := NewRequestPacket(api, call.PacketID, e.isClient, body)
	if err := e.sendPacket(p); err != nil {
		if c := e.pending.take(call.PacketID); c != nil {
			c.Err = err
			c.finish()
		}
		return call
	}

	metrics.IncrCounterWithGroup("rpc", "invoke_total", 1)
	return call
}

// Invoke issues an invocation and blocks until its terminal completion.
func (e *Endpoint) Invoke(api string, reply any, args ...any) error {
	call := <-e.Go(api, reply, nil, args...).Done
	return call.Err
}

// InvokeOneWay sends a request without expecting a reply. It returns once
// the frame is handed to the transport.
func (e *Endpoint) InvokeOneWay(api string, args ...any) error {
	if !e.connected.Load() {
		return ErrShutdown
	}

	body, err := e.ser.EncodeArgs(args)
	if err != nil {
		return err
	}

	p := NewRequestPacket(api, e.ids.Next(), e.isClient, body)
	if err := e.sendPacket(p); err != nil {
		return err
	}

	metrics.IncrCounterWithGroup("rpc", "invoke_oneway_total", 1)
	return nil
}

// OnReceive is the transport's bytes-received callback. It must be driven by
// a single reader goroutine. A *ProtocolError return is fatal; the transport
// closes the connection, which in turn shuts down every pending call.
func (e *Endpoint) OnReceive(data []byte) error {
	if !e.connected.Load() {
		return ErrShutdown
	}
	e.buf.Append(data)
	return e.dispatcher.OnRecvBytes(e.buf)
}

// OnDisconnect is the transport's teardown callback. All pending calls
// resolve with ErrShutdown; the table ends empty. Safe to call more than
// once.
func (e *Endpoint) OnDisconnect() {
	if !e.connected.CompareAndSwap(true, false) {
		return
	}

	e.pending.Close()
	calls := e.pending.TakeAll()
	for _, call := range calls {
		call.Err = ErrShutdown
		call.finish()
	}

	if len(calls) > 0 {
		log.Info().Int("calls", len(calls)).Bool("isClient", e.isClient).
			Msg("connection down, pending calls shut down")
	}
	metrics.UpdateGaugeWithGroup("rpc", "pending_calls", 0)
}

// sendPacket encodes and hands one frame to the transport.
func (e *Endpoint) sendPacket(p *Packet) error {
	if !e.connected.Load() {
		return ErrShutdown
	}
	data, err := e.codec.Encode(p)
	if err != nil {
		return err
	}
	return e.sendBytes(data)
}
