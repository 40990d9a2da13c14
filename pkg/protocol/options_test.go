package protocol

import (
	"reflect"
	"testing"
)

func buildRPTO(repeaterID uint32, body string) []byte {
	data := make([]byte, RPTOPacketMinSize+len(body))
	copy(data[0:4], []byte(PacketTypeRPTO))
	data[4] = byte(repeaterID >> 24)
	data[5] = byte(repeaterID >> 16)
	data[6] = byte(repeaterID >> 8)
	data[7] = byte(repeaterID)
	copy(data[8:], body)
	return data
}

func TestRPTOPacket_Parse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantTS1 []uint32
		wantTS2 []uint32
		hasTS1  bool
		hasTS2  bool
	}{
		{
			name:    "both slots",
			body:    "TS1=3100,3120;TS2=31201",
			wantTS1: []uint32{3100, 3120},
			wantTS2: []uint32{31201},
			hasTS1:  true,
			hasTS2:  true,
		},
		{
			name:    "ts2 only",
			body:    "TS2=91",
			wantTS2: []uint32{91},
			hasTS2:  true,
		},
		{
			name:    "empty value clears slot",
			body:    "TS1=;TS2=3100",
			wantTS1: []uint32{},
			wantTS2: []uint32{3100},
			hasTS1:  true,
			hasTS2:  true,
		},
		{
			name: "empty body",
			body: "",
		},
		{
			name:    "lowercase keys and spaces",
			body:    "ts1= 1, 2 ;ts2=3",
			wantTS1: []uint32{1, 2},
			wantTS2: []uint32{3},
			hasTS1:  true,
			hasTS2:  true,
		},
		{
			name:    "nul padded body",
			body:    "TS1=3100\x00\x00\x00",
			wantTS1: []uint32{3100},
			hasTS1:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseRPTO(buildRPTO(312100, tt.body))
			if err != nil {
				t.Fatalf("Failed to parse RPTO: %v", err)
			}
			if parsed.RepeaterID != 312100 {
				t.Errorf("Expected repeater ID 312100, got %d", parsed.RepeaterID)
			}
			if parsed.HasTS1 != tt.hasTS1 || parsed.HasTS2 != tt.hasTS2 {
				t.Errorf("Presence flags: got TS1=%v TS2=%v, want TS1=%v TS2=%v",
					parsed.HasTS1, parsed.HasTS2, tt.hasTS1, tt.hasTS2)
			}
			if tt.hasTS1 && !reflect.DeepEqual(parsed.TS1, tt.wantTS1) {
				t.Errorf("TS1: got %v, want %v", parsed.TS1, tt.wantTS1)
			}
			if tt.hasTS2 && !reflect.DeepEqual(parsed.TS2, tt.wantTS2) {
				t.Errorf("TS2: got %v, want %v", parsed.TS2, tt.wantTS2)
			}
		})
	}
}

func TestRPTOPacket_Parse_InvalidTalkgroup(t *testing.T) {
	if _, err := ParseRPTO(buildRPTO(1, "TS1=abc")); err == nil {
		t.Error("Expected error for non-numeric talkgroup ID")
	}
}

func TestRPTOPacket_Parse_InvalidSize(t *testing.T) {
	if _, err := ParseRPTO([]byte("RPTO")); err == nil {
		t.Error("Expected error for truncated RPTO")
	}
}

func TestRPTOPacket_RoundTrip(t *testing.T) {
	original := &RPTOPacket{
		RepeaterID: 312100,
		TS1:        []uint32{3100, 3120},
		TS2:        []uint32{31201},
		HasTS1:     true,
		HasTS2:     true,
	}

	data, err := original.Encode()
	if err != nil {
		t.Fatalf("Failed to encode RPTO: %v", err)
	}

	parsed, err := ParseRPTO(data)
	if err != nil {
		t.Fatalf("Failed to parse encoded RPTO: %v", err)
	}
	if !reflect.DeepEqual(parsed, original) {
		t.Errorf("Round trip mismatch:\n got %+v\nwant %+v", parsed, original)
	}
}
