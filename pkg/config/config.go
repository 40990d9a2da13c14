package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/dbehnke/hbp-server/pkg/events"
	"github.com/dbehnke/hbp-server/pkg/peer"
	"github.com/dbehnke/hbp-server/pkg/policy"
)

// ErrInvalid marks configuration validation failures; main exits 1 on it
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Global       GlobalConfig     `mapstructure:"global"`
	Blacklist    BlacklistConfig  `mapstructure:"blacklist"`
	Repeaters    RepeatersConfig  `mapstructure:"repeater_configurations"`
	Outbound     []OutboundConfig `mapstructure:"outbound_connections"`
	Detection    DetectionConfig  `mapstructure:"connection_type_detection"`
	EventEmitter EmitterConfig    `mapstructure:"event_emitter"`
}

// GlobalConfig holds server-wide settings
type GlobalConfig struct {
	BindIPv4         string  `mapstructure:"bind_ipv4"`
	BindPort         int     `mapstructure:"bind_port"`
	LogLevel         string  `mapstructure:"log_level"`
	LogFile          string  `mapstructure:"log_file"`
	PingTime         int     `mapstructure:"ping_time"`          // seconds between keepalives
	MaxMissedPings   int     `mapstructure:"max_missed_pings"`   // misses before a peer is dead
	StreamTimeout    float64 `mapstructure:"stream_timeout"`     // seconds of silence ending a stream
	HangTime         float64 `mapstructure:"hang_time"`          // seconds a slot stays reserved
	UserCacheTimeout int     `mapstructure:"user_cache_timeout"` // seconds before a user entry expires
	CountersFile     string  `mapstructure:"counters_file"`
}

// MatchConfig selects peers by ID, ID range, or callsign glob. A rule matches
// when any present kind matches.
type MatchConfig struct {
	IDs       []uint32   `mapstructure:"ids"`
	Ranges    [][]uint32 `mapstructure:"ranges"` // [start, end] pairs, inclusive
	Callsigns []string   `mapstructure:"callsigns"`
}

// BlacklistPattern rejects matching peers before login
type BlacklistPattern struct {
	Name   string      `mapstructure:"name"`
	Match  MatchConfig `mapstructure:"match"`
	Reason string      `mapstructure:"reason"`
}

// BlacklistConfig holds the ordered blacklist
type BlacklistConfig struct {
	Patterns []BlacklistPattern `mapstructure:"patterns"`
}

// RepeaterConfig is the per-peer configuration a pattern selects. A nil
// talkgroup list leaves the slot unrestricted; an empty list blocks it.
// `password` is accepted as a synonym for `passphrase`; passphrase wins when
// both are set.
type RepeaterConfig struct {
	Passphrase string    `mapstructure:"passphrase"`
	Password   string    `mapstructure:"password"`
	Slot1TGs   *[]uint32 `mapstructure:"slot1_talkgroups"`
	Slot2TGs   *[]uint32 `mapstructure:"slot2_talkgroups"`
}

// RepeaterPattern binds a match to a repeater configuration
type RepeaterPattern struct {
	Name   string         `mapstructure:"name"`
	Match  MatchConfig    `mapstructure:"match"`
	Config RepeaterConfig `mapstructure:"config"`
}

// RepeatersConfig holds the pattern list and the fallthrough default
type RepeatersConfig struct {
	Patterns []RepeaterPattern `mapstructure:"patterns"`
	Default  RepeaterConfig    `mapstructure:"default"`
}

// OutboundConfig describes one upstream server we connect to
type OutboundConfig struct {
	Name       string `mapstructure:"name"`
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	RadioID    uint32 `mapstructure:"radio_id"`
	Passphrase string `mapstructure:"passphrase"`
	Password   string `mapstructure:"password"`
	Callsign   string `mapstructure:"callsign"`

	// RPTC metadata sent upstream
	RXFreq      string `mapstructure:"rx_freq"`
	TXFreq      string `mapstructure:"tx_freq"`
	TXPower     string `mapstructure:"tx_power"`
	ColorCode   string `mapstructure:"color_code"`
	Latitude    string `mapstructure:"latitude"`
	Longitude   string `mapstructure:"longitude"`
	Height      string `mapstructure:"height"`
	Location    string `mapstructure:"location"`
	Description string `mapstructure:"description"`
	URL         string `mapstructure:"url"`
	SoftwareID  string `mapstructure:"software_id"`
	PackageID   string `mapstructure:"package_id"`

	// Talkgroups requested via RPTO after connecting; nil sends no RPTO
	TS1Talkgroups []uint32 `mapstructure:"ts1_talkgroups"`
	TS2Talkgroups []uint32 `mapstructure:"ts2_talkgroups"`
}

// EffectivePassphrase resolves the passphrase/password synonym
func (o OutboundConfig) EffectivePassphrase() string {
	if o.Passphrase != "" {
		return o.Passphrase
	}
	return o.Password
}

// DetectionConfig holds connection-type detection substrings
type DetectionConfig struct {
	HotspotPackages  []string `mapstructure:"hotspot_packages"`
	NetworkPackages  []string `mapstructure:"network_packages"`
	RepeaterPackages []string `mapstructure:"repeater_packages"`
}

// EmitterConfig holds event emitter configuration
type EmitterConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Transport  string `mapstructure:"transport"` // "unix" or "tcp"
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	UnixSocket string `mapstructure:"unix_socket"`
	IPv4Only   bool   `mapstructure:"ipv4_only"`
	QueueSize  int    `mapstructure:"queue_size"`
}

// Load reads, defaults, and validates the JSON configuration file
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configFile)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.bind_ipv4", "0.0.0.0")
	v.SetDefault("global.bind_port", 62031)
	v.SetDefault("global.log_level", "info")
	v.SetDefault("global.ping_time", 5)
	v.SetDefault("global.max_missed_pings", 3)
	v.SetDefault("global.stream_timeout", 2.0)
	v.SetDefault("global.hang_time", 10.0)
	v.SetDefault("global.user_cache_timeout", 600)
	v.SetDefault("global.counters_file", "counters.json")

	v.SetDefault("event_emitter.enabled", false)
	v.SetDefault("event_emitter.transport", "unix")
	v.SetDefault("event_emitter.host", "127.0.0.1")
	v.SetDefault("event_emitter.port", 62032)
	v.SetDefault("event_emitter.unix_socket", "/tmp/hbp-events.sock")
	v.SetDefault("event_emitter.queue_size", events.DefaultQueueSize)
}

// Duration helpers

// PingDuration returns the keepalive interval
func (g GlobalConfig) PingDuration() time.Duration {
	return time.Duration(g.PingTime) * time.Second
}

// StreamTimeoutDuration returns the stream silence timeout
func (g GlobalConfig) StreamTimeoutDuration() time.Duration {
	return time.Duration(g.StreamTimeout * float64(time.Second))
}

// HangTimeDuration returns the post-stream slot reservation window
func (g GlobalConfig) HangTimeDuration() time.Duration {
	return time.Duration(g.HangTime * float64(time.Second))
}

// UserCacheTTL returns the user routing cache entry lifetime
func (g GlobalConfig) UserCacheTTL() time.Duration {
	return time.Duration(g.UserCacheTimeout) * time.Second
}

// Matcher builds the access-control matcher from the blacklist and repeater
// configuration sections.
func (c *Config) Matcher() (*policy.Matcher, error) {
	blacklist := make([]policy.BlacklistRule, 0, len(c.Blacklist.Patterns))
	for _, p := range c.Blacklist.Patterns {
		spec, err := p.Match.toSpec()
		if err != nil {
			return nil, fmt.Errorf("%w: blacklist: %v", ErrInvalid, err)
		}
		blacklist = append(blacklist, policy.BlacklistRule{
			Name:   p.Name,
			Match:  spec,
			Reason: p.Reason,
		})
	}

	patterns := make([]policy.PatternRule, 0, len(c.Repeaters.Patterns))
	for _, p := range c.Repeaters.Patterns {
		spec, err := p.Match.toSpec()
		if err != nil {
			return nil, fmt.Errorf("%w: repeater_configurations: %v", ErrInvalid, err)
		}
		patterns = append(patterns, policy.PatternRule{
			Name:   p.Name,
			Match:  spec,
			Config: p.Config.toPeerConfig(),
		})
	}

	m, err := policy.NewMatcher(blacklist, patterns, c.Repeaters.Default.toPeerConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return m, nil
}

func (m MatchConfig) toSpec() (policy.MatchSpec, error) {
	spec := policy.MatchSpec{
		IDs:       m.IDs,
		Callsigns: m.Callsigns,
	}
	for i, r := range m.Ranges {
		if len(r) != 2 {
			return spec, fmt.Errorf("ranges[%d] must be a [start, end] pair", i)
		}
		spec.Ranges = append(spec.Ranges, policy.IDRange{Start: r[0], End: r[1]})
	}
	return spec, nil
}

func (r RepeaterConfig) toPeerConfig() policy.PeerConfig {
	cfg := policy.PeerConfig{Passphrase: r.Passphrase}
	if cfg.Passphrase == "" {
		cfg.Passphrase = r.Password
	}
	if r.Slot1TGs != nil {
		cfg.Slot1TGs = policy.NewTalkgroupSet(*r.Slot1TGs)
	}
	if r.Slot2TGs != nil {
		cfg.Slot2TGs = policy.NewTalkgroupSet(*r.Slot2TGs)
	}
	return cfg
}

// DetectionRules builds the connection-type detector, falling back to the
// built-in MMDVM defaults for any empty list.
func (c *Config) DetectionRules() peer.DetectionRules {
	rules := peer.DefaultDetectionRules()
	if len(c.Detection.HotspotPackages) > 0 {
		rules.HotspotPackages = c.Detection.HotspotPackages
	}
	if len(c.Detection.NetworkPackages) > 0 {
		rules.NetworkPackages = c.Detection.NetworkPackages
	}
	if len(c.Detection.RepeaterPackages) > 0 {
		rules.RepeaterPackages = c.Detection.RepeaterPackages
	}
	return rules
}

// EmitterOptions converts the event_emitter section for the events package
func (c *Config) EmitterOptions() events.Config {
	return events.Config{
		Enabled:    c.EventEmitter.Enabled,
		Transport:  c.EventEmitter.Transport,
		Host:       c.EventEmitter.Host,
		Port:       c.EventEmitter.Port,
		UnixSocket: c.EventEmitter.UnixSocket,
		IPv4Only:   c.EventEmitter.IPv4Only,
		QueueSize:  c.EventEmitter.QueueSize,
	}
}
