// Package net implements the fastrpc runtime: a framed, bidirectional RPC
// layer over a reliable byte stream. Either peer of a connection may both
// serve named APIs and invoke the other peer's APIs; requests are correlated
// to replies by packet id so many calls share one connection concurrently.
package net

// Packet is the atomic wire unit.
//
// The (PacketID, IsFromClient) pair is unique across the outstanding calls
// originated by one side. Replies echo both fields of their request verbatim
// so the originator recognizes its own reply.
type Packet struct {
	// Api names the target procedure. Non-empty, at most 65535 bytes of UTF-8.
	Api string

	// PacketID correlates a request with its reply. 0 is reserved.
	PacketID uint32

	// IsFromClient is set by the originator of a request; the reply carries
	// the same value.
	IsFromClient bool

	// IsException marks a reply whose body is a UTF-8 error message instead
	// of a serialized result value.
	IsException bool

	// Body carries the serializer's encoding of the argument vector (request)
	// or of the single return value (reply). May be empty.
	Body []byte
}

// NewRequestPacket builds a request frame.
func NewRequestPacket(api string, packetID uint32, fromClient bool, body []byte) *Packet {
	return &Packet{
		Api:          api,
		PacketID:     packetID,
		IsFromClient: fromClient,
		Body:         body,
	}
}

// NewReplyPacket builds a value reply for req, echoing its id and direction.
func NewReplyPacket(req *Packet, body []byte) *Packet {
	return &Packet{
		Api:          req.Api,
		PacketID:     req.PacketID,
		IsFromClient: req.IsFromClient,
		Body:         body,
	}
}

// NewExceptionPacket builds an exception reply for req carrying the error
// message as its body.
func NewExceptionPacket(req *Packet, message string) *Packet {
	return &Packet{
		Api:          req.Api,
		PacketID:     req.PacketID,
		IsFromClient: req.IsFromClient,
		IsException:  true,
		Body:         []byte(message),
	}
}
