package peer

import "strings"

// ConnectionType classifies what kind of HBP client a peer is
type ConnectionType string

const (
	TypeRepeater ConnectionType = "repeater"
	TypeHotspot  ConnectionType = "hotspot"
	TypeNetwork  ConnectionType = "network"
	TypeUnknown  ConnectionType = "unknown"
)

// DetectionRules holds the software/package substrings that identify each
// connection type. Matching is case-insensitive against both software_id and
// package_id, hotspot first (hotspot firmware often embeds repeater strings).
type DetectionRules struct {
	HotspotPackages  []string
	NetworkPackages  []string
	RepeaterPackages []string
}

// DefaultDetectionRules covers the common MMDVM ecosystem identifiers
func DefaultDetectionRules() DetectionRules {
	return DetectionRules{
		HotspotPackages:  []string{"MMDVM_MMDVM_HS", "MMDVM_Pi-Star", "MMDVM_DVMega", "MMDVM_ZUMspot", "MMDVM_Nano"},
		NetworkPackages:  []string{"HBlink", "FreeDMR", "IPSC2", "DMRGateway", "XLX"},
		RepeaterPackages: []string{"MMDVM_MMDVM", "MMDVM_Repeater", "Hytera", "Motorola"},
	}
}

// Detect classifies a peer from its RPTC software and package identifiers
func (r DetectionRules) Detect(softwareID, packageID string) ConnectionType {
	haystack := strings.ToLower(softwareID + " " + packageID)

	contains := func(needles []string) bool {
		for _, n := range needles {
			if n != "" && strings.Contains(haystack, strings.ToLower(n)) {
				return true
			}
		}
		return false
	}

	switch {
	case contains(r.HotspotPackages):
		return TypeHotspot
	case contains(r.NetworkPackages):
		return TypeNetwork
	case contains(r.RepeaterPackages):
		return TypeRepeater
	default:
		return TypeUnknown
	}
}
