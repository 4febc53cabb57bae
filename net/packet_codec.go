package net

import (
	"encoding/binary"
	"unicode/utf8"
)

// Wire format, big-endian:
//
//	offset  size  field
//	0       4     total_length  (counts the bytes that follow)
//	4       2     api_name_len
//	6       N     api_name      (UTF-8)
//	6+N     4     packet_id
//	10+N    1     is_from_client (0|1)
//	11+N    1     is_exception   (0|1)
//	12+N    rest  body           (total_length - 8 - N bytes)
const (
	// LEN_PREFIX_SIZE 长度前缀.
	LEN_PREFIX_SIZE = 4

	// PACKET_FIXED_SIZE is the per-frame overhead after the length prefix:
	// name length, packet id and the two flag bytes.
	PACKET_FIXED_SIZE = 8

	// DefaultMaxFrameBytes bounds total_length before the decoder gives up on
	// the connection.
	DefaultMaxFrameBytes = 10 << 20

	// MaxApiNameBytes is the wire limit of the encoded API name.
	MaxApiNameBytes = 65535
)

// PacketCodec encodes a Packet to bytes and decodes one Packet from a
// ReadBuffer. Decoding is incremental: a short buffer yields (nil, nil) and
// leaves the buffered bytes in place.
type PacketCodec struct {
	maxFrameBytes uint32
}

// NewPacketCodec creates a codec. maxFrameBytes == 0 selects
// DefaultMaxFrameBytes.
func NewPacketCodec(maxFrameBytes uint32) *PacketCodec {
	if maxFrameBytes == 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &PacketCodec{maxFrameBytes: maxFrameBytes}
}

// Encode serializes p into a single frame.
func (c *PacketCodec) Encode(p *Packet) ([]byte, error) {
	nameLen := len(p.Api)
	if nameLen == 0 {
		return nil, protocolErrorf("empty api name")
	}
	if nameLen > MaxApiNameBytes {
		return nil, protocolErrorf("api name length %d exceeds %d", nameLen, MaxApiNameBytes)
	}

	total := PACKET_FIXED_SIZE + nameLen + len(p.Body)
	if uint64(total) > uint64(c.maxFrameBytes) {
		return nil, protocolErrorf("frame length %d exceeds limit %d", total, c.maxFrameBytes)
	}

	buf := make([]byte, LEN_PREFIX_SIZE+total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	binary.BigEndian.PutUint16(buf[4:6], uint16(nameLen))
	copy(buf[6:], p.Api)

	off := 6 + nameLen
	binary.BigEndian.PutUint32(buf[off:], p.PacketID)
	buf[off+4] = boolByte(p.IsFromClient)
	buf[off+5] = boolByte(p.IsException)
	copy(buf[off+6:], p.Body)
	return buf, nil
}

// Decode parses one Packet from buf, consuming its bytes, or returns
// (nil, nil) when the buffer does not yet hold a complete frame. A
// *ProtocolError return is fatal to the connection.
func (c *PacketCodec) Decode(buf *ReadBuffer) (*Packet, error) {
	if buf.Len() < LEN_PREFIX_SIZE {
		return nil, nil
	}

	total32, err := buf.Uint32At(0)
	if err != nil {
		return nil, protocolErrorf("length prefix: %v", err)
	}
	if total32 > c.maxFrameBytes {
		return nil, protocolErrorf("frame length %d exceeds limit %d", total32, c.maxFrameBytes)
	}
	total := int(total32)
	if total < PACKET_FIXED_SIZE {
		return nil, protocolErrorf("frame length %d below fixed size %d", total, PACKET_FIXED_SIZE)
	}

	if buf.Len() < LEN_PREFIX_SIZE+total {
		return nil, nil
	}

	nameLen16, err := buf.Uint16At(4)
	if err != nil {
		return nil, protocolErrorf("name length: %v", err)
	}
	nameLen := int(nameLen16)
	if nameLen == 0 {
		return nil, protocolErrorf("empty api name")
	}
	if PACKET_FIXED_SIZE+nameLen > total {
		return nil, protocolErrorf("api name length %d exceeds frame length %d", nameLen, total)
	}

	nameBytes, err := buf.Range(6, nameLen)
	if err != nil {
		return nil, protocolErrorf("api name: %v", err)
	}
	if !utf8.Valid(nameBytes) {
		return nil, protocolErrorf("api name is not valid UTF-8")
	}
	api := string(nameBytes)

	off := 6 + nameLen
	packetID, err := buf.Uint32At(off)
	if err != nil {
		return nil, protocolErrorf("packet id: %v", err)
	}

	fromClient, err := c.flagAt(buf, off+4, "is_from_client")
	if err != nil {
		return nil, err
	}
	exception, err := c.flagAt(buf, off+5, "is_exception")
	if err != nil {
		return nil, err
	}

	bodyLen := total - PACKET_FIXED_SIZE - nameLen
	var body []byte
	if bodyLen > 0 {
		raw, err := buf.Range(off+6, bodyLen)
		if err != nil {
			return nil, protocolErrorf("body: %v", err)
		}
		body = make([]byte, bodyLen)
		copy(body, raw)
	}

	buf.Consume(LEN_PREFIX_SIZE + total)

	return &Packet{
		Api:          api,
		PacketID:     packetID,
		IsFromClient: fromClient,
		IsException:  exception,
		Body:         body,
	}, nil
}

func (c *PacketCodec) flagAt(buf *ReadBuffer, off int, field string) (bool, error) {
	v, err := buf.Uint8At(off)
	if err != nil {
		return false, protocolErrorf("%s: %v", field, err)
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, protocolErrorf("%s byte is %d, want 0 or 1", field, v)
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
