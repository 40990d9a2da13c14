package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// IDRange is an inclusive range of radio IDs
type IDRange struct {
	Start uint32
	End   uint32
}

// MatchSpec describes how a rule matches peer identity. A rule matches when
// ANY of its present kinds matches (OR across kinds): the radio ID is in IDs,
// or inside one of Ranges, or the callsign matches one of the Callsigns globs.
type MatchSpec struct {
	IDs       []uint32
	Ranges    []IDRange
	Callsigns []string // globs over [A-Za-z0-9*], '*' matches any run
}

// PeerConfig is the per-peer configuration selected by the matcher
type PeerConfig struct {
	Passphrase string
	Slot1TGs   *TalkgroupSet
	Slot2TGs   *TalkgroupSet
}

// PatternRule binds a match spec to a peer configuration
type PatternRule struct {
	Name   string
	Match  MatchSpec
	Config PeerConfig
}

// BlacklistRule rejects matching peers before any session is created
type BlacklistRule struct {
	Name   string
	Match  MatchSpec
	Reason string
}

// Rejection describes why a peer was refused
type Rejection struct {
	Rule   string
	Reason string
}

// Match kind specificity classes, most specific first
const (
	kindSpecificID = iota
	kindIDRange
	kindCallsign
)

var callsignGlobPattern = regexp.MustCompile(`^[A-Za-z0-9*]+$`)

type compiledMatch struct {
	ids       map[uint32]struct{}
	ranges    []IDRange
	callsigns []*regexp.Regexp
}

func (m *compiledMatch) matches(radioID uint32, callsign string) bool {
	if _, ok := m.ids[radioID]; ok {
		return true
	}
	for _, r := range m.ranges {
		if radioID >= r.Start && radioID <= r.End {
			return true
		}
	}
	if callsign != "" {
		for _, re := range m.callsigns {
			if re.MatchString(callsign) {
				return true
			}
		}
	}
	return false
}

// specificity returns the class of the most specific kind present
func (m *compiledMatch) specificity() int {
	if len(m.ids) > 0 {
		return kindSpecificID
	}
	if len(m.ranges) > 0 {
		return kindIDRange
	}
	return kindCallsign
}

type compiledPattern struct {
	name   string
	match  compiledMatch
	config PeerConfig
}

type compiledBlacklist struct {
	name   string
	match  compiledMatch
	reason string
}

// Matcher maps peer identity to a configuration or a blacklist rejection.
// Rules are checked in specificity order: specific IDs, then ID ranges, then
// callsign globs; first match wins, falling through to the default config.
type Matcher struct {
	blacklist []compiledBlacklist
	patterns  []compiledPattern
	def       PeerConfig
}

// NewMatcher compiles and validates the rule sets. Validation errors name the
// offending field relative to the rule lists, e.g.
// "patterns[2].match.ranges[0]: start 100 > end 50".
func NewMatcher(blacklist []BlacklistRule, patterns []PatternRule, def PeerConfig) (*Matcher, error) {
	m := &Matcher{def: normalizeConfig(def)}

	for i, rule := range blacklist {
		compiled, err := compileMatch(rule.Match, fmt.Sprintf("blacklist[%d].match", i))
		if err != nil {
			return nil, err
		}
		m.blacklist = append(m.blacklist, compiledBlacklist{
			name:   rule.Name,
			match:  compiled,
			reason: rule.Reason,
		})
	}

	for i, rule := range patterns {
		compiled, err := compileMatch(rule.Match, fmt.Sprintf("patterns[%d].match", i))
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, compiledPattern{
			name:   rule.Name,
			match:  compiled,
			config: normalizeConfig(rule.Config),
		})
	}

	// Pre-sort by specificity class; stable, so config order breaks ties
	sort.SliceStable(m.patterns, func(i, j int) bool {
		return m.patterns[i].match.specificity() < m.patterns[j].match.specificity()
	})

	return m, nil
}

func compileMatch(spec MatchSpec, path string) (compiledMatch, error) {
	cm := compiledMatch{}

	if len(spec.IDs) == 0 && len(spec.Ranges) == 0 && len(spec.Callsigns) == 0 {
		return cm, fmt.Errorf("%s: rule matches nothing (no ids, ranges, or callsigns)", path)
	}

	if len(spec.IDs) > 0 {
		cm.ids = make(map[uint32]struct{}, len(spec.IDs))
		for _, id := range spec.IDs {
			cm.ids[id] = struct{}{}
		}
	}

	for j, r := range spec.Ranges {
		if r.Start > r.End {
			return cm, fmt.Errorf("%s.ranges[%d]: start %d > end %d", path, j, r.Start, r.End)
		}
		cm.ranges = append(cm.ranges, r)
	}

	for j, glob := range spec.Callsigns {
		if !callsignGlobPattern.MatchString(glob) {
			return cm, fmt.Errorf("%s.callsigns[%d]: invalid glob %q (allowed: letters, digits, '*')", path, j, glob)
		}
		re, err := regexp.Compile("(?i)^" + strings.ReplaceAll(glob, "*", ".*") + "$")
		if err != nil {
			return cm, fmt.Errorf("%s.callsigns[%d]: %w", path, j, err)
		}
		cm.callsigns = append(cm.callsigns, re)
	}

	return cm, nil
}

func normalizeConfig(c PeerConfig) PeerConfig {
	if c.Slot1TGs == nil {
		c.Slot1TGs = Unrestricted()
	}
	if c.Slot2TGs == nil {
		c.Slot2TGs = Unrestricted()
	}
	return c
}

// Blacklisted checks the blacklist for the given identity. Callsign may be
// empty when the check runs before configuration exchange.
func (m *Matcher) Blacklisted(radioID uint32, callsign string) (Rejection, bool) {
	for _, rule := range m.blacklist {
		if rule.match.matches(radioID, callsign) {
			return Rejection{Rule: rule.name, Reason: rule.reason}, true
		}
	}
	return Rejection{}, false
}

// Match returns the configuration for the given identity and the name of the
// matching rule ("default" on fallthrough). The blacklist is not consulted;
// callers check Blacklisted first.
func (m *Matcher) Match(radioID uint32, callsign string) (PeerConfig, string) {
	for _, rule := range m.patterns {
		if rule.match.matches(radioID, callsign) {
			return rule.config, rule.name
		}
	}
	return m.def, "default"
}

// Default returns the fallthrough configuration
func (m *Matcher) Default() PeerConfig {
	return m.def
}
