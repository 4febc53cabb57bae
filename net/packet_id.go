package net

import "sync/atomic"

// PacketIDSource hands out packet ids for one endpoint. Ids start at 1,
// increment atomically and wrap modulo 2^32, skipping 0 which is reserved
// for "no id".
type PacketIDSource struct {
	counter atomic.Uint32
}

// Next returns a fresh packet id.
func (s *PacketIDSource) Next() uint32 {
	for {
		id := s.counter.Add(1)
		if id != 0 {
			return id
		}
	}
}
