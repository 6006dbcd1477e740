package domain

import (
	"errors"
	"fmt"
)

// PacketType identifies a notification packet on the run feed.
type PacketType string

// Notification packet types.
const (
	PacketStart  PacketType = "start"
	PacketData   PacketType = "data"
	PacketError  PacketType = "error"
	PacketCancel PacketType = "cancel"
	PacketEnd    PacketType = "end"
)

// ErrMalformedPacket is returned by Packet.Validate for packets missing
// required fields. The consumer treats a malformed packet on a live run as a
// run failure.
var ErrMalformedPacket = errors.New("malformed packet")

// Packet is one inbound notification from the run feed. The feed delivers a
// finite, ordered sequence per run, terminated by error, cancel or end.
type Packet struct {
	Type     PacketType `json:"type"`
	ResultID string     `json:"result_id,omitempty"`

	// Progress is the run completion percentage, data packets only.
	Progress float64 `json:"progress,omitempty"`

	// CurrentTime is the simulation clock position in unix ms, data packets
	// only. It drives the results watermark.
	CurrentTime int64 `json:"current_time,omitempty"`

	// Message carries the human-readable reason for error/cancel packets.
	Message string `json:"message,omitempty"`
}

// Validate checks required fields per packet type.
func (p *Packet) Validate() error {
	switch p.Type {
	case PacketStart, PacketEnd, PacketError, PacketCancel:
		return nil
	case PacketData:
		if p.CurrentTime < 0 {
			return fmt.Errorf("%w: negative current_time %d", ErrMalformedPacket, p.CurrentTime)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedPacket, p.Type)
	}
}

// Terminal reports whether the packet ends the run.
func (p *Packet) Terminal() bool {
	return p.Type == PacketError || p.Type == PacketCancel || p.Type == PacketEnd
}
