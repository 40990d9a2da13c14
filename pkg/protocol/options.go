package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// RPTOPacket represents a talkgroup options packet. The body is an ASCII
// query-like string: TS1=<csv>;TS2=<csv>. Either key may be absent or empty,
// which leaves the corresponding slot untouched.
type RPTOPacket struct {
	RepeaterID uint32
	TS1        []uint32
	TS2        []uint32
	HasTS1     bool
	HasTS2     bool
}

// Parse parses an RPTO packet from raw bytes
func (p *RPTOPacket) Parse(data []byte) error {
	if len(data) < RPTOPacketMinSize {
		return fmt.Errorf("invalid RPTO packet size: %d (expected >= %d)", len(data), RPTOPacketMinSize)
	}

	if string(data[0:4]) != PacketTypeRPTO {
		return fmt.Errorf("invalid RPTO signature: %s", string(data[0:4]))
	}

	p.RepeaterID = binary.BigEndian.Uint32(data[4:8])

	body := strings.Trim(string(data[8:]), "\x00")
	for _, pair := range strings.Split(body, ";") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.ToUpper(strings.TrimSpace(parts[0]))
		value := strings.Trim(strings.TrimSpace(parts[1]), "\x00")

		switch key {
		case "TS1":
			tgs, err := parseTalkgroupList(value)
			if err != nil {
				return fmt.Errorf("invalid TS1 value: %w", err)
			}
			p.TS1 = tgs
			p.HasTS1 = true
		case "TS2":
			tgs, err := parseTalkgroupList(value)
			if err != nil {
				return fmt.Errorf("invalid TS2 value: %w", err)
			}
			p.TS2 = tgs
			p.HasTS2 = true
		}
	}

	return nil
}

// Encode encodes the RPTO packet to raw bytes
func (p *RPTOPacket) Encode() ([]byte, error) {
	var parts []string
	if p.HasTS1 {
		parts = append(parts, "TS1="+formatTalkgroupList(p.TS1))
	}
	if p.HasTS2 {
		parts = append(parts, "TS2="+formatTalkgroupList(p.TS2))
	}

	body := strings.Join(parts, ";")
	data := make([]byte, RPTOPacketMinSize+len(body))
	copy(data[0:4], []byte(PacketTypeRPTO))
	binary.BigEndian.PutUint32(data[4:8], p.RepeaterID)
	copy(data[8:], body)
	return data, nil
}

// ParseRPTO parses an RPTO packet from raw bytes
func ParseRPTO(data []byte) (*RPTOPacket, error) {
	p := &RPTOPacket{}
	err := p.Parse(data)
	return p, err
}

// parseTalkgroupList parses a comma-separated list of talkgroup IDs
func parseTalkgroupList(input string) ([]uint32, error) {
	input = strings.Trim(input, "\x00")
	if input == "" {
		return []uint32{}, nil
	}

	parts := strings.Split(input, ",")
	result := make([]uint32, 0, len(parts))

	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), "\x00")
		if part == "" {
			continue
		}

		tgid, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid talkgroup ID '%s': %w", part, err)
		}

		result = append(result, uint32(tgid))
	}

	return result, nil
}

func formatTalkgroupList(tgs []uint32) string {
	parts := make([]string, len(tgs))
	for i, tg := range tgs {
		parts[i] = strconv.FormatUint(uint64(tg), 10)
	}
	return strings.Join(parts, ",")
}
