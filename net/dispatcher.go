package net

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/lcx/fastrpc/log"
	"github.com/lcx/fastrpc/metrics"
	"github.com/lcx/fastrpc/serializer"
)

// SendPacketFunc writes one packet to the connection.
type SendPacketFunc func(p *Packet) error

// ExceptionHook observes server-side dispatch failures (registry miss,
// handler error). Returning true marks the error handled; an unhandled error
// is logged and the connection continues.
type ExceptionHook func(p *Packet, err error) bool

// Dispatcher consumes inbound packets for one endpoint and routes each to
// the pending-call table (replies and remote exceptions to calls we
// originated) or to the API registry (requests from the peer).
//
// The registry, pending table and serializer are owned by the endpoint; the
// dispatcher borrows them during packet handling. Decode and routing run on
// the connection reader in arrival order; handler bodies run on their own
// goroutines, so reply ordering does not follow request ordering.
type Dispatcher struct {
	codec    *PacketCodec
	registry *ApiRegistry
	pending  *pendingCalls
	ser      serializer.Serializer
	isClient bool
	send     SendPacketFunc

	filters     DispatcherFilterChain
	onException ExceptionHook
}

func newDispatcher(codec *PacketCodec, registry *ApiRegistry, pending *pendingCalls,
	ser serializer.Serializer, isClient bool, send SendPacketFunc) *Dispatcher {
	return &Dispatcher{
		codec:    codec,
		registry: registry,
		pending:  pending,
		ser:      ser,
		isClient: isClient,
		send:     send,
	}
}

// RegFilter appends a filter to the inbound request chain. Not safe to call
// once traffic is flowing.
func (d *Dispatcher) RegFilter(f DispatcherFilter) {
	d.filters = append(d.filters, f)
}

// OnRecvBytes drains every complete frame currently buffered. A returned
// *ProtocolError is fatal; the transport must close the connection.
func (d *Dispatcher) OnRecvBytes(buf *ReadBuffer) error {
	for {
		p, err := d.codec.Decode(buf)
		if err != nil {
			metrics.IncrCounterWithGroup("rpc", "protocol_error_total", 1)
			return err
		}
		if p == nil {
			return nil
		}
		if err := d.route(p); err != nil {
			// local failure, connection survives
			log.Error().Str("api", p.Api).Uint32("packetID", p.PacketID).Err(err).
				Msg("packet routing failed")
		}
	}
}

// route applies the direction rule: a packet whose is_from_client flag equals
// our own role is a reply or remote exception to a call we originated;
// anything else is an incoming request.
func (d *Dispatcher) route(p *Packet) error {
	if p.IsFromClient == d.isClient {
		if p.IsException {
			d.pending.CompleteRemoteError(p.PacketID, string(p.Body))
		} else {
			d.pending.CompleteValue(p.PacketID, p.Body)
		}
		return nil
	}

	dd := &DispatcherDelivery{Packet: p, SendBack: d.send}
	return d.filters.Handle(dd, d.handleRequest)
}

// handleRequest resolves the target API and spawns the invocation. Handlers
// run in parallel; only decode and lookup stay on the reader.
func (d *Dispatcher) handleRequest(dd *DispatcherDelivery) error {
	p := dd.Packet
	desc := d.registry.TryGet(p.Api)
	if desc == nil {
		notFound := &ApiNotFoundError{Api: p.Api}
		d.sendException(p, notFound.Error())
		d.raiseException(p, notFound)
		return nil
	}

	go d.invoke(desc, p)
	return nil
}

func (d *Dispatcher) invoke(desc *ApiDescriptor, p *Packet) {
	args, err := d.ser.DecodeArgs(p.Body, desc.ParamTypes)
	if err != nil {
		execErr := &ApiExecutionError{Api: p.Api, Err: err}
		d.sendException(p, execErr.Error())
		d.raiseException(p, execErr)
		return
	}

	result, err := d.safeInvoke(desc, args)
	if err != nil {
		d.replyException(p, err)
		return
	}

	if desc.ReturnType == nil {
		// one-way, no reply frame
		return
	}

	body, err := d.ser.Encode(result)
	if err != nil {
		execErr := &ApiExecutionError{Api: p.Api, Err: err}
		d.sendException(p, execErr.Error())
		d.raiseException(p, execErr)
		return
	}

	if err := d.send(NewReplyPacket(p, body)); err != nil {
		log.Warn().Str("api", p.Api).Uint32("packetID", p.PacketID).Err(err).
			Msg("reply dropped, connection down")
	}
}

// replyException converts a handler failure into an exception reply. When the
// handler raised an aggregate error the first inner error builds the reply
// and every inner error is fed to the exception hook individually.
func (d *Dispatcher) replyException(p *Packet, err error) {
	inner := []error{err}
	var merr *multierror.Error
	if errors.As(err, &merr) && len(merr.Errors) > 0 {
		inner = merr.Errors
	}

	first := &ApiExecutionError{Api: p.Api, Err: inner[0]}
	d.sendException(p, first.Error())
	for _, e := range inner {
		d.raiseException(p, &ApiExecutionError{Api: p.Api, Err: e})
	}
}

func (d *Dispatcher) safeInvoke(desc *ApiDescriptor, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return desc.Invoke(args)
}

// sendException echoes the request's id and direction with is_exception set.
func (d *Dispatcher) sendException(req *Packet, message string) {
	metrics.IncrCounterWithDimGroup("rpc", "exception_reply_total", 1,
		map[string]string{"api": req.Api})
	if err := d.send(NewExceptionPacket(req, message)); err != nil {
		log.Warn().Str("api", req.Api).Uint32("packetID", req.PacketID).Err(err).
			Msg("exception reply dropped, connection down")
	}
}

// raiseException runs the user exception hook. Unhandled errors are logged
// and the connection continues; crashing the reader over a handler failure
// is never worth it.
func (d *Dispatcher) raiseException(p *Packet, err error) {
	if d.onException != nil && d.onException(p, err) {
		return
	}
	log.Error().Str("api", p.Api).Uint32("packetID", p.PacketID).Err(err).
		Msg("unhandled dispatch exception")
}
