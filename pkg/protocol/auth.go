package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// RPTLPacket represents a login request from a peer
type RPTLPacket struct {
	RepeaterID uint32
}

// Parse parses an RPTL packet from raw bytes
func (p *RPTLPacket) Parse(data []byte) error {
	if len(data) != RPTLPacketSize {
		return fmt.Errorf("invalid RPTL packet size: %d (expected %d)", len(data), RPTLPacketSize)
	}

	if string(data[0:4]) != PacketTypeRPTL {
		return fmt.Errorf("invalid RPTL signature: %s", string(data[0:4]))
	}

	p.RepeaterID = binary.BigEndian.Uint32(data[4:8])
	return nil
}

// Encode encodes the RPTL packet to raw bytes
func (p *RPTLPacket) Encode() ([]byte, error) {
	data := make([]byte, RPTLPacketSize)
	copy(data[0:4], []byte(PacketTypeRPTL))
	binary.BigEndian.PutUint32(data[4:8], p.RepeaterID)
	return data, nil
}

// RPTKPacket represents a key exchange packet. The hash is
// sha256(salt || passphrase); peers send it either as 32 raw bytes or as the
// 64-byte hex-ASCII rendering, and Parse normalizes both to 32 raw bytes.
type RPTKPacket struct {
	RepeaterID uint32
	Hash       []byte // 32 bytes, normalized
}

// Parse parses an RPTK packet from raw bytes
func (p *RPTKPacket) Parse(data []byte) error {
	if len(data) != RPTKPacketSize && len(data) != RPTKPacketHexSize {
		return fmt.Errorf("invalid RPTK packet size: %d (expected %d or %d)",
			len(data), RPTKPacketSize, RPTKPacketHexSize)
	}

	if string(data[0:4]) != PacketTypeRPTK {
		return fmt.Errorf("invalid RPTK signature: %s", string(data[0:4]))
	}

	p.RepeaterID = binary.BigEndian.Uint32(data[4:8])

	if len(data) == RPTKPacketSize {
		p.Hash = make([]byte, HashLength)
		copy(p.Hash, data[8:8+HashLength])
		return nil
	}

	decoded, err := hex.DecodeString(string(data[8 : 8+2*HashLength]))
	if err != nil {
		return fmt.Errorf("invalid RPTK hex hash: %w", err)
	}
	p.Hash = decoded
	return nil
}

// Encode encodes the RPTK packet in the binary form
func (p *RPTKPacket) Encode() ([]byte, error) {
	data := make([]byte, RPTKPacketSize)
	copy(data[0:4], []byte(PacketTypeRPTK))
	binary.BigEndian.PutUint32(data[4:8], p.RepeaterID)

	if len(p.Hash) >= HashLength {
		copy(data[8:8+HashLength], p.Hash[:HashLength])
	} else {
		copy(data[8:], p.Hash)
	}

	return data, nil
}

// RPTCPacket represents a configuration packet from a peer
type RPTCPacket struct {
	RepeaterID  uint32
	Callsign    string
	RXFreq      string
	TXFreq      string
	TXPower     string
	ColorCode   string
	Latitude    string
	Longitude   string
	Height      string
	Location    string
	Description string
	Slots       string
	URL         string
	SoftwareID  string
	PackageID   string
}

// Parse parses an RPTC packet from raw bytes
func (p *RPTCPacket) Parse(data []byte) error {
	if len(data) != RPTCPacketSize {
		return fmt.Errorf("invalid RPTC packet size: %d (expected %d)", len(data), RPTCPacketSize)
	}

	if string(data[0:4]) != PacketTypeRPTC {
		return fmt.Errorf("invalid RPTC signature: %s", string(data[0:4]))
	}

	p.RepeaterID = binary.BigEndian.Uint32(data[4:8])

	// Fixed-offset fields, space/NUL padded ASCII
	p.Callsign = trimField(data[8:16])
	p.RXFreq = trimField(data[16:25])
	p.TXFreq = trimField(data[25:34])
	p.TXPower = trimField(data[34:36])
	p.ColorCode = trimField(data[36:38])
	p.Latitude = trimField(data[38:46])
	p.Longitude = trimField(data[46:55])
	p.Height = trimField(data[55:58])
	p.Location = trimField(data[58:78])
	p.Description = trimField(data[78:97])
	p.Slots = trimField(data[97:98])
	p.URL = trimField(data[98:222])
	p.SoftwareID = trimField(data[222:262])
	p.PackageID = trimField(data[262:302])

	return nil
}

func trimField(b []byte) string {
	return strings.Trim(string(b), " \x00")
}

// Encode encodes the RPTC packet to raw bytes
func (p *RPTCPacket) Encode() ([]byte, error) {
	data := make([]byte, RPTCPacketSize)
	copy(data[0:4], []byte(PacketTypeRPTC))
	binary.BigEndian.PutUint32(data[4:8], p.RepeaterID)

	copyField := func(dst []byte, src string) {
		for i := range dst {
			if i < len(src) {
				dst[i] = src[i]
			} else {
				dst[i] = ' '
			}
		}
	}

	copyField(data[8:16], p.Callsign)
	copyField(data[16:25], p.RXFreq)
	copyField(data[25:34], p.TXFreq)
	copyField(data[34:36], p.TXPower)
	copyField(data[36:38], p.ColorCode)
	copyField(data[38:46], p.Latitude)
	copyField(data[46:55], p.Longitude)
	copyField(data[55:58], p.Height)
	copyField(data[58:78], p.Location)
	copyField(data[78:97], p.Description)
	copyField(data[97:98], p.Slots)
	copyField(data[98:222], p.URL)
	copyField(data[222:262], p.SoftwareID)
	copyField(data[262:302], p.PackageID)

	return data, nil
}

// RPTACKPacket represents an acknowledgement from master. The 4-byte payload
// is the peer's radio ID, except for the ack answering RPTL which carries the
// login salt instead.
type RPTACKPacket struct {
	Payload [4]byte
}

// Parse parses an RPTACK packet from raw bytes
func (p *RPTACKPacket) Parse(data []byte) error {
	if len(data) != RPTACKPacketSize {
		return fmt.Errorf("invalid RPTACK packet size: %d (expected %d)", len(data), RPTACKPacketSize)
	}

	if string(data[0:6]) != PacketTypeRPTACK {
		return fmt.Errorf("invalid RPTACK signature: %s", string(data[0:6]))
	}

	copy(p.Payload[:], data[6:10])
	return nil
}

// Encode encodes the RPTACK packet to raw bytes
func (p *RPTACKPacket) Encode() ([]byte, error) {
	data := make([]byte, RPTACKPacketSize)
	copy(data[0:6], []byte(PacketTypeRPTACK))
	copy(data[6:10], p.Payload[:])
	return data, nil
}

// RepeaterID returns the payload interpreted as a radio ID
func (p *RPTACKPacket) RepeaterID() uint32 {
	return binary.BigEndian.Uint32(p.Payload[:])
}

// EncodeRPTACK builds an RPTACK carrying a radio ID
func EncodeRPTACK(repeaterID uint32) []byte {
	p := &RPTACKPacket{}
	binary.BigEndian.PutUint32(p.Payload[:], repeaterID)
	data, _ := p.Encode()
	return data
}

// EncodeRPTACKSalt builds the login RPTACK carrying the 4-byte salt
func EncodeRPTACKSalt(salt [4]byte) []byte {
	p := &RPTACKPacket{Payload: salt}
	data, _ := p.Encode()
	return data
}

// EncodeMSTNAK builds a negative acknowledgement for a radio ID
func EncodeMSTNAK(repeaterID uint32) []byte {
	data := make([]byte, MSTNAKPacketSize)
	copy(data[0:6], []byte(PacketTypeMSTNAK))
	binary.BigEndian.PutUint32(data[6:10], repeaterID)
	return data
}

// EncodeMSTPONG builds a keepalive pong for a radio ID
func EncodeMSTPONG(repeaterID uint32) []byte {
	data := make([]byte, MSTPONGPacketSize)
	copy(data[0:7], []byte(PacketTypeMSTPONG))
	binary.BigEndian.PutUint32(data[7:11], repeaterID)
	return data
}

// EncodeMSTCL builds a master-initiated close for a radio ID
func EncodeMSTCL(repeaterID uint32) []byte {
	data := make([]byte, MSTCLPacketSize)
	copy(data[0:5], []byte(PacketTypeMSTCL))
	binary.BigEndian.PutUint32(data[5:9], repeaterID)
	return data
}

// EncodeRPTPING builds a keepalive ping for a radio ID
func EncodeRPTPING(repeaterID uint32) []byte {
	data := make([]byte, RPTPINGPacketSize)
	copy(data[0:7], []byte(PacketTypeRPTPING))
	binary.BigEndian.PutUint32(data[7:11], repeaterID)
	return data
}

// EncodeRPTCL builds a peer-initiated close for a radio ID
func EncodeRPTCL(repeaterID uint32) []byte {
	data := make([]byte, RPTCLPacketSize)
	copy(data[0:5], []byte(PacketTypeRPTCL))
	binary.BigEndian.PutUint32(data[5:9], repeaterID)
	return data
}

// ParsePingID extracts the radio ID from an RPTPING or the short RPTP
// keepalive variant.
func ParsePingID(data []byte) (uint32, error) {
	if len(data) >= RPTPINGPacketSize && string(data[0:7]) == PacketTypeRPTPING {
		return binary.BigEndian.Uint32(data[7:11]), nil
	}
	if len(data) >= RPTPPacketSize && string(data[0:4]) == PacketTypeRPTP {
		return binary.BigEndian.Uint32(data[4:8]), nil
	}
	return 0, fmt.Errorf("invalid keepalive packet (%d bytes)", len(data))
}

// ParseCloseID extracts the radio ID from an RPTCL or MSTCL packet
func ParseCloseID(data []byte) (uint32, error) {
	if len(data) >= RPTCLPacketSize &&
		(string(data[0:5]) == PacketTypeRPTCL || string(data[0:5]) == PacketTypeMSTCL) {
		return binary.BigEndian.Uint32(data[5:9]), nil
	}
	return 0, fmt.Errorf("invalid close packet (%d bytes)", len(data))
}

// ParseSaltFromAck extracts the 4-byte salt from a login challenge reply.
// Masters answer RPTL with either RPTACK+salt or MSTCL+salt depending on the
// implementation; both are accepted.
func ParseSaltFromAck(data []byte) ([4]byte, bool) {
	var salt [4]byte
	if len(data) >= RPTACKPacketSize && string(data[0:6]) == PacketTypeRPTACK {
		copy(salt[:], data[6:10])
		return salt, true
	}
	if len(data) >= MSTCLPacketSize && string(data[0:5]) == PacketTypeMSTCL {
		copy(salt[:], data[5:9])
		return salt, true
	}
	return salt, false
}

// Helper functions for parsing packets

// ParseRPTL parses an RPTL packet from raw bytes
func ParseRPTL(data []byte) (*RPTLPacket, error) {
	p := &RPTLPacket{}
	err := p.Parse(data)
	return p, err
}

// ParseRPTK parses an RPTK packet from raw bytes
func ParseRPTK(data []byte) (*RPTKPacket, error) {
	p := &RPTKPacket{}
	err := p.Parse(data)
	return p, err
}

// ParseRPTC parses an RPTC packet from raw bytes
func ParseRPTC(data []byte) (*RPTCPacket, error) {
	p := &RPTCPacket{}
	err := p.Parse(data)
	return p, err
}

// ParseRPTACK parses an RPTACK packet from raw bytes
func ParseRPTACK(data []byte) (*RPTACKPacket, error) {
	p := &RPTACKPacket{}
	err := p.Parse(data)
	return p, err
}
