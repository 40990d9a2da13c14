package protocol

// Packet type identifiers (4-7 byte ASCII strings)
const (
	PacketTypeDMRD    = "DMRD"
	PacketTypeRPTL    = "RPTL"
	PacketTypeRPTK    = "RPTK"
	PacketTypeRPTC    = "RPTC"
	PacketTypeRPTO    = "RPTO"  // OPTIONS packet
	PacketTypeRPTCL   = "RPTCL" // Peer-initiated disconnect
	PacketTypeRPTP    = "RPTP"  // Short keepalive variant
	PacketTypeRPTACK  = "RPTACK"
	PacketTypeRPTA    = "RPTA" // Short ack variant
	PacketTypeRPTPING = "RPTPING"
	PacketTypeMSTPONG = "MSTPONG"
	PacketTypeMSTNAK  = "MSTNAK"
	PacketTypeMSTN    = "MSTN" // Short NAK variant
	PacketTypeMSTCL   = "MSTCL"
	PacketTypeMSTC    = "MSTC" // Short close variant
)

// Packet size constants (in bytes)
const (
	DMRDPacketMinSize = 55  // DMRD header + payload + BER/RSSI; longer packets carry trailing data
	RPTLPacketSize    = 8   // Login request (RPTL + 4 byte repeater ID)
	RPTKPacketSize    = 40  // Key exchange, binary SHA-256 form
	RPTKPacketHexSize = 72  // Key exchange, hex-ASCII SHA-256 form
	RPTCPacketSize    = 302 // Configuration packet
	RPTCLPacketSize   = 9   // Close from peer (RPTCL + 4 byte repeater ID)
	RPTOPacketMinSize = 8   // Options (RPTO + 4 byte repeater ID + body)
	RPTACKPacketSize  = 10  // Acknowledgement (RPTACK + 4 byte payload)
	RPTPINGPacketSize = 11  // Ping from peer (RPTPING + 4 byte repeater ID)
	RPTPPacketSize    = 8   // Short ping (RPTP + 4 byte repeater ID)
	MSTPONGPacketSize = 11  // Pong from master (MSTPONG + 4 byte repeater ID)
	MSTNAKPacketSize  = 10  // Negative acknowledgement (MSTNAK + 4 byte repeater ID)
	MSTCLPacketSize   = 9   // Close connection (MSTCL + 4 byte repeater ID)
)

// Slot byte (byte 15) bit masks - DMR slot information encoding
const (
	SlotTimeslotMask  = 0x80 // Bit 7: Timeslot (0=TS1, 1=TS2)
	SlotCallTypeMask  = 0x40 // Bit 6: Call type (0=group, 1=unit/private)
	SlotFrameTypeMask = 0x30 // Bits 4-5: Frame type
	SlotDataTypeMask  = 0x0F // Bits 0-3: Data type / Voice sequence
)

// Frame types (extracted from bits 4-5 of slot byte)
const (
	FrameTypeVoice     = 0x00 // Voice burst (B-F frames)
	FrameTypeVoiceSync = 0x01 // Voice burst with sync (A frame)
	FrameTypeDataSync  = 0x02 // Data synchronization (headers, terminators)
)

// Data types carried in a data-sync frame
const (
	DataTypeVoiceHeader     = 0x01
	DataTypeVoiceTerminator = 0x02
)

// DMRD packet field offsets
const (
	DMRDOffsetSignature = 0  // 4 bytes: "DMRD"
	DMRDOffsetSeq       = 4  // 1 byte: Sequence number
	DMRDOffsetSrcID     = 5  // 3 bytes: Source subscriber ID
	DMRDOffsetDstID     = 8  // 3 bytes: Destination ID (talkgroup or subscriber)
	DMRDOffsetRptID     = 11 // 4 bytes: Repeater/Peer ID
	DMRDOffsetSlot      = 15 // 1 byte: Slot/Call type bits
	DMRDOffsetStreamID  = 16 // 4 bytes: Stream ID
	DMRDOffsetPayload   = 20 // 33 bytes: Voice/Data payload
)

// Authentication constants
const (
	SaltLength = 4  // Login challenge salt
	HashLength = 32 // SHA-256 digest
)

// Timeslot values
const (
	Timeslot1 = 1
	Timeslot2 = 2
)

// Call type values
const (
	CallTypeGroup   = 0 // Group/talkgroup call
	CallTypePrivate = 1 // Unit-to-unit/private call
)

// IdentifyPacket returns the packet type identifier for a raw datagram, or an
// empty string when the tag is not recognized. Tags are matched longest first
// so RPTCL is not mistaken for RPTC, MSTNAK for MSTN, and so on.
func IdentifyPacket(data []byte) string {
	if len(data) >= 7 {
		switch string(data[0:7]) {
		case PacketTypeRPTPING, PacketTypeMSTPONG:
			return string(data[0:7])
		}
	}
	if len(data) >= 6 {
		switch string(data[0:6]) {
		case PacketTypeRPTACK, PacketTypeMSTNAK:
			return string(data[0:6])
		}
	}
	if len(data) >= 5 {
		switch string(data[0:5]) {
		case PacketTypeRPTCL, PacketTypeMSTCL:
			return string(data[0:5])
		}
	}
	if len(data) >= 4 {
		switch string(data[0:4]) {
		case PacketTypeDMRD, PacketTypeRPTL, PacketTypeRPTK, PacketTypeRPTC,
			PacketTypeRPTO, PacketTypeRPTP, PacketTypeRPTA, PacketTypeMSTN, PacketTypeMSTC:
			return string(data[0:4])
		}
	}
	return ""
}
