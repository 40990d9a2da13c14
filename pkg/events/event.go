package events

import (
	"time"
)

// Event types pushed to the observer
const (
	TypeRepeaterConnected      = "repeater_connected"
	TypeRepeaterKeepalive      = "repeater_keepalive"
	TypeRepeaterDisconnected   = "repeater_disconnected"
	TypeRepeaterDetails        = "repeater_details"
	TypeRepeaterOptionsUpdated = "repeater_options_updated"
	TypeStreamStart            = "stream_start"
	TypeStreamUpdate           = "stream_update"
	TypeStreamEnd              = "stream_end"
	TypeHangTimeExpired        = "hang_time_expired"
	TypeOutboundConnecting     = "outbound_connecting"
	TypeOutboundConnected      = "outbound_connected"
	TypeOutboundDisconnected   = "outbound_disconnected"
	TypeOutboundError          = "outbound_error"

	// TypeSyncRequest is the one frame an observer may send us
	TypeSyncRequest = "sync_request"
)

// Event is one frame on the observer stream
type Event struct {
	Type      string                 `json:"type"`
	Timestamp float64                `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// newEvent stamps an event with the current wall-clock time
func newEvent(eventType string, data map[string]interface{}) Event {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Event{
		Type:      eventType,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Data:      data,
	}
}

// RepeaterConnected announces a peer reaching the connected state
func RepeaterConnected(peerID uint32, callsign, connectionType, address string) Event {
	return newEvent(TypeRepeaterConnected, map[string]interface{}{
		"peer_id":         peerID,
		"callsign":        callsign,
		"connection_type": connectionType,
		"address":         address,
	})
}

// RepeaterDetails carries the decoded RPTC configuration and traffic stats
func RepeaterDetails(peerID uint32, details map[string]interface{}) Event {
	data := map[string]interface{}{"peer_id": peerID}
	for k, v := range details {
		data[k] = v
	}
	return newEvent(TypeRepeaterDetails, data)
}

// RepeaterKeepalive reports an accepted ping
func RepeaterKeepalive(peerID uint32, missedPings int) Event {
	return newEvent(TypeRepeaterKeepalive, map[string]interface{}{
		"peer_id":      peerID,
		"missed_pings": missedPings,
	})
}

// RepeaterDisconnected announces a peer leaving, with the reason
// ("rptcl", "timeout", "shutdown", "auth_failure", ...)
func RepeaterDisconnected(peerID uint32, callsign, reason string) Event {
	return newEvent(TypeRepeaterDisconnected, map[string]interface{}{
		"peer_id":  peerID,
		"callsign": callsign,
		"reason":   reason,
	})
}

// RepeaterOptionsUpdated reports the effective talkgroup sets after RPTO.
// A nil slice means the slot is unrestricted.
func RepeaterOptionsUpdated(peerID uint32, slot1, slot2 []uint32) Event {
	return newEvent(TypeRepeaterOptionsUpdated, map[string]interface{}{
		"peer_id":   peerID,
		"slot1_tgs": slot1,
		"slot2_tgs": slot2,
	})
}

// StreamStart announces a newly admitted stream and its routing targets
func StreamStart(peerID uint32, slot int, rfSrc, dstID, streamID uint32, callType string, targets []uint32) Event {
	return newEvent(TypeStreamStart, map[string]interface{}{
		"peer_id":   peerID,
		"slot":      slot,
		"rf_src":    rfSrc,
		"dst_id":    dstID,
		"stream_id": streamID,
		"call_type": callType,
		"targets":   targets,
	})
}

// StreamUpdate is the periodic in-flight progress report
func StreamUpdate(peerID uint32, slot int, streamID uint32, packets uint64) Event {
	return newEvent(TypeStreamUpdate, map[string]interface{}{
		"peer_id":   peerID,
		"slot":      slot,
		"stream_id": streamID,
		"packets":   packets,
	})
}

// StreamEnd reports a finished stream; the slot stays reserved for hangTime
func StreamEnd(peerID uint32, slot int, streamID uint32, endReason string, duration float64, packets uint64, hangTime float64) Event {
	return newEvent(TypeStreamEnd, map[string]interface{}{
		"peer_id":    peerID,
		"slot":       slot,
		"stream_id":  streamID,
		"end_reason": endReason,
		"duration":   duration,
		"packets":    packets,
		"hang_time":  hangTime,
	})
}

// HangTimeExpired reports a slot reservation being released
func HangTimeExpired(peerID uint32, slot int, streamID uint32) Event {
	return newEvent(TypeHangTimeExpired, map[string]interface{}{
		"peer_id":   peerID,
		"slot":      slot,
		"stream_id": streamID,
	})
}

// OutboundConnecting reports an upstream connection attempt
func OutboundConnecting(name, address string) Event {
	return newEvent(TypeOutboundConnecting, map[string]interface{}{
		"name":    name,
		"address": address,
	})
}

// OutboundConnected reports a completed upstream handshake
func OutboundConnected(name string, peerID uint32, address string) Event {
	return newEvent(TypeOutboundConnected, map[string]interface{}{
		"name":    name,
		"peer_id": peerID,
		"address": address,
	})
}

// OutboundDisconnected reports an upstream session ending
func OutboundDisconnected(name, reason string) Event {
	return newEvent(TypeOutboundDisconnected, map[string]interface{}{
		"name":   name,
		"reason": reason,
	})
}

// OutboundError reports an upstream failure that triggers a reconnect
func OutboundError(name, message string) Event {
	return newEvent(TypeOutboundError, map[string]interface{}{
		"name":  name,
		"error": message,
	})
}
