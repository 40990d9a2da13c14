package protocol

import (
	"encoding/binary"
	"fmt"
)

// DMRDPacket represents a DMR voice/data packet
type DMRDPacket struct {
	Sequence      byte   // Sequence number (wraps)
	SourceID      uint32 // Source subscriber ID (24-bit)
	DestinationID uint32 // Destination ID - talkgroup or subscriber (24-bit)
	RepeaterID    uint32 // Repeater/Peer ID
	Timeslot      int    // 1 or 2
	CallType      int    // 0=group, 1=private
	FrameType     byte   // Frame type (voice, voice-sync, data-sync)
	DataType      byte   // Data type / voice sequence (lower 4 bits)
	StreamID      uint32 // Stream identifier
	Payload       []byte // 33 bytes of voice/data payload
}

// Parse parses a DMRD packet from raw bytes. Bytes past the minimum length
// are ignored.
func (p *DMRDPacket) Parse(data []byte) error {
	if len(data) < DMRDPacketMinSize {
		return fmt.Errorf("invalid DMRD packet size: %d (expected >= %d)",
			len(data), DMRDPacketMinSize)
	}

	if string(data[0:4]) != PacketTypeDMRD {
		return fmt.Errorf("invalid DMRD signature: %s", string(data[0:4]))
	}

	p.Sequence = data[DMRDOffsetSeq]

	// 24-bit IDs, big-endian
	p.SourceID = uint32(data[DMRDOffsetSrcID])<<16 |
		uint32(data[DMRDOffsetSrcID+1])<<8 |
		uint32(data[DMRDOffsetSrcID+2])

	p.DestinationID = uint32(data[DMRDOffsetDstID])<<16 |
		uint32(data[DMRDOffsetDstID+1])<<8 |
		uint32(data[DMRDOffsetDstID+2])

	p.RepeaterID = binary.BigEndian.Uint32(data[DMRDOffsetRptID : DMRDOffsetRptID+4])

	slotByte := data[DMRDOffsetSlot]

	if slotByte&SlotTimeslotMask != 0 {
		p.Timeslot = Timeslot2
	} else {
		p.Timeslot = Timeslot1
	}

	if slotByte&SlotCallTypeMask != 0 {
		p.CallType = CallTypePrivate
	} else {
		p.CallType = CallTypeGroup
	}

	p.FrameType = (slotByte & SlotFrameTypeMask) >> 4
	p.DataType = slotByte & SlotDataTypeMask

	p.StreamID = binary.BigEndian.Uint32(data[DMRDOffsetStreamID : DMRDOffsetStreamID+4])

	p.Payload = make([]byte, 33)
	copy(p.Payload, data[DMRDOffsetPayload:DMRDOffsetPayload+33])

	return nil
}

// Encode encodes the DMRD packet to raw bytes
func (p *DMRDPacket) Encode() ([]byte, error) {
	data := make([]byte, DMRDPacketMinSize)

	copy(data[0:4], []byte(PacketTypeDMRD))
	data[DMRDOffsetSeq] = p.Sequence

	data[DMRDOffsetSrcID] = byte(p.SourceID >> 16)
	data[DMRDOffsetSrcID+1] = byte(p.SourceID >> 8)
	data[DMRDOffsetSrcID+2] = byte(p.SourceID)

	data[DMRDOffsetDstID] = byte(p.DestinationID >> 16)
	data[DMRDOffsetDstID+1] = byte(p.DestinationID >> 8)
	data[DMRDOffsetDstID+2] = byte(p.DestinationID)

	binary.BigEndian.PutUint32(data[DMRDOffsetRptID:DMRDOffsetRptID+4], p.RepeaterID)

	var slotByte byte
	if p.Timeslot == Timeslot2 {
		slotByte |= SlotTimeslotMask
	}
	if p.CallType == CallTypePrivate {
		slotByte |= SlotCallTypeMask
	}
	slotByte |= (p.FrameType << 4) & SlotFrameTypeMask
	slotByte |= p.DataType & SlotDataTypeMask
	data[DMRDOffsetSlot] = slotByte

	binary.BigEndian.PutUint32(data[DMRDOffsetStreamID:DMRDOffsetStreamID+4], p.StreamID)

	if len(p.Payload) >= 33 {
		copy(data[DMRDOffsetPayload:DMRDOffsetPayload+33], p.Payload[:33])
	} else {
		copy(data[DMRDOffsetPayload:], p.Payload)
	}

	return data, nil
}

// IsTerminator reports whether this frame ends its stream. The HBP slot byte
// flags a voice terminator as a data-sync frame carrying data type 2, which
// gives ~60ms end detection without waiting for an inactivity timeout.
func (p *DMRDPacket) IsTerminator() bool {
	return p.FrameType == FrameTypeDataSync && p.DataType == DataTypeVoiceTerminator
}

// ParseDMRD parses a DMRD packet from raw bytes
func ParseDMRD(data []byte) (*DMRDPacket, error) {
	p := &DMRDPacket{}
	err := p.Parse(data)
	return p, err
}
