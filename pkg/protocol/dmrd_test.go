package protocol

import (
	"bytes"
	"testing"
)

func TestDMRDPacket_Parse(t *testing.T) {
	data := make([]byte, DMRDPacketMinSize)
	copy(data[0:4], []byte("DMRD"))
	data[4] = 0x01 // Sequence
	data[5] = 0x31
	data[6] = 0x20
	data[7] = 0x01 // Source ID: 3219457
	data[8] = 0x00
	data[9] = 0x0C
	data[10] = 0x1C // Destination ID: 3100
	// Repeater ID: 312000
	data[11] = 0x00
	data[12] = 0x04
	data[13] = 0xC2
	data[14] = 0xC0
	data[15] = 0x00 // Slot byte (TS1, group call)
	data[16] = 0x00
	data[17] = 0x00
	data[18] = 0x00
	data[19] = 0x01 // Stream ID

	packet := &DMRDPacket{}
	if err := packet.Parse(data); err != nil {
		t.Fatalf("Failed to parse DMRD packet: %v", err)
	}

	if packet.Sequence != 0x01 {
		t.Errorf("Expected sequence 0x01, got 0x%02X", packet.Sequence)
	}
	if packet.SourceID != 3219457 {
		t.Errorf("Expected source ID 3219457, got %d", packet.SourceID)
	}
	if packet.DestinationID != 3100 {
		t.Errorf("Expected destination ID 3100, got %d", packet.DestinationID)
	}
	if packet.RepeaterID != 312000 {
		t.Errorf("Expected repeater ID 312000, got %d", packet.RepeaterID)
	}
	if packet.Timeslot != Timeslot1 {
		t.Errorf("Expected timeslot 1, got %d", packet.Timeslot)
	}
	if packet.CallType != CallTypeGroup {
		t.Errorf("Expected group call type, got %d", packet.CallType)
	}
	if packet.StreamID != 1 {
		t.Errorf("Expected stream ID 1, got %d", packet.StreamID)
	}
	if len(packet.Payload) != 33 {
		t.Errorf("Expected payload length 33, got %d", len(packet.Payload))
	}
}

func TestDMRDPacket_Parse_TrailingBytesIgnored(t *testing.T) {
	data := make([]byte, DMRDPacketMinSize+18)
	copy(data[0:4], []byte("DMRD"))

	packet := &DMRDPacket{}
	if err := packet.Parse(data); err != nil {
		t.Fatalf("Expected oversized DMRD to parse, got error: %v", err)
	}
}

func TestDMRDPacket_Parse_InvalidSize(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"Too small", 10},
		{"Just under minimum", DMRDPacketMinSize - 1},
		{"Empty", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			packet := &DMRDPacket{}
			if err := packet.Parse(data); err == nil {
				t.Error("Expected error for invalid packet size")
			}
		})
	}
}

func TestDMRDPacket_Parse_InvalidSignature(t *testing.T) {
	data := make([]byte, DMRDPacketMinSize)
	copy(data[0:4], []byte("XXXX"))

	packet := &DMRDPacket{}
	if err := packet.Parse(data); err == nil {
		t.Error("Expected error for invalid signature")
	}
}

func TestDMRDPacket_RoundTrip(t *testing.T) {
	original := &DMRDPacket{
		Sequence:      0x42,
		SourceID:      1234567,
		DestinationID: 9876,
		RepeaterID:    312999,
		Timeslot:      Timeslot1,
		CallType:      CallTypePrivate,
		FrameType:     FrameTypeVoiceSync,
		StreamID:      0xABCDEF01,
		Payload:       []byte("test payload data here 123456789!"),
	}

	data, err := original.Encode()
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	parsed := &DMRDPacket{}
	if err := parsed.Parse(data); err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	if parsed.Sequence != original.Sequence {
		t.Errorf("Sequence mismatch: got %d, want %d", parsed.Sequence, original.Sequence)
	}
	if parsed.SourceID != original.SourceID {
		t.Errorf("SourceID mismatch: got %d, want %d", parsed.SourceID, original.SourceID)
	}
	if parsed.DestinationID != original.DestinationID {
		t.Errorf("DestinationID mismatch: got %d, want %d", parsed.DestinationID, original.DestinationID)
	}
	if parsed.RepeaterID != original.RepeaterID {
		t.Errorf("RepeaterID mismatch: got %d, want %d", parsed.RepeaterID, original.RepeaterID)
	}
	if parsed.Timeslot != original.Timeslot {
		t.Errorf("Timeslot mismatch: got %d, want %d", parsed.Timeslot, original.Timeslot)
	}
	if parsed.CallType != original.CallType {
		t.Errorf("CallType mismatch: got %d, want %d", parsed.CallType, original.CallType)
	}
	if parsed.FrameType != original.FrameType {
		t.Errorf("FrameType mismatch: got %d, want %d", parsed.FrameType, original.FrameType)
	}
	if parsed.StreamID != original.StreamID {
		t.Errorf("StreamID mismatch: got %d, want %d", parsed.StreamID, original.StreamID)
	}
	if !bytes.Equal(parsed.Payload, original.Payload) {
		t.Error("Payload mismatch")
	}
}

func TestDMRDPacket_SlotBits(t *testing.T) {
	tests := []struct {
		name       string
		slotByte   byte
		expectTS   int
		expectCall int
	}{
		{"TS1 group", 0x00, Timeslot1, CallTypeGroup},
		{"TS2 group", 0x80, Timeslot2, CallTypeGroup},
		{"TS1 private", 0x40, Timeslot1, CallTypePrivate},
		{"TS2 private", 0xC0, Timeslot2, CallTypePrivate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, DMRDPacketMinSize)
			copy(data[0:4], []byte("DMRD"))
			data[15] = tt.slotByte

			packet := &DMRDPacket{}
			if err := packet.Parse(data); err != nil {
				t.Fatalf("Parse failed: %v", err)
			}

			if packet.Timeslot != tt.expectTS {
				t.Errorf("Expected timeslot %d, got %d", tt.expectTS, packet.Timeslot)
			}
			if packet.CallType != tt.expectCall {
				t.Errorf("Expected call type %d, got %d", tt.expectCall, packet.CallType)
			}
		})
	}
}

func TestDMRDPacket_IsTerminator(t *testing.T) {
	tests := []struct {
		name     string
		slotByte byte
		want     bool
	}{
		{"Voice burst", 0x00, false},
		{"Voice sync", 0x10, false},
		{"Voice header", 0x21, false},
		{"Voice terminator", 0x22, true},
		{"Terminator on TS2", 0xA2, true},
		{"Data sync, other data type", 0x26, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, DMRDPacketMinSize)
			copy(data[0:4], []byte("DMRD"))
			data[15] = tt.slotByte

			packet := &DMRDPacket{}
			if err := packet.Parse(data); err != nil {
				t.Fatalf("Parse failed: %v", err)
			}

			if packet.IsTerminator() != tt.want {
				t.Errorf("IsTerminator() = %v, want %v", packet.IsTerminator(), tt.want)
			}
		})
	}
}

func TestIdentifyPacket(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"DMRD", "DMRD\x00\x00\x00", PacketTypeDMRD},
		{"RPTL", "RPTL\x00\x00\x00\x00", PacketTypeRPTL},
		{"RPTC", "RPTC\x00\x00\x00\x00", PacketTypeRPTC},
		{"RPTCL wins over RPTC", "RPTCL\x00\x00\x00\x00", PacketTypeRPTCL},
		{"RPTPING wins over RPTP", "RPTPING\x00\x00\x00\x00", PacketTypeRPTPING},
		{"RPTP short ping", "RPTP\x00\x00\x00\x00", PacketTypeRPTP},
		{"MSTNAK wins over MSTN", "MSTNAK\x00\x00\x00\x00", PacketTypeMSTNAK},
		{"MSTCL wins over MSTC", "MSTCL\x00\x00\x00\x00", PacketTypeMSTCL},
		{"RPTACK", "RPTACK\x00\x00\x00\x00", PacketTypeRPTACK},
		{"MSTPONG", "MSTPONG\x00\x00\x00\x00", PacketTypeMSTPONG},
		{"Unknown", "XXXX\x00\x00\x00\x00", ""},
		{"Too short", "DM", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IdentifyPacket([]byte(tt.data))
			if got != tt.want {
				t.Errorf("IdentifyPacket(%q) = %q, want %q", tt.data, got, tt.want)
			}
		})
	}
}
