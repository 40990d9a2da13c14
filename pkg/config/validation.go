package config

import (
	"fmt"
)

// validate checks the configuration, naming the offending field on failure.
// All errors wrap ErrInvalid so main can exit with the config-error code.
func validate(cfg *Config) error {
	g := cfg.Global
	if g.BindPort <= 0 || g.BindPort > 65535 {
		return fmt.Errorf("%w: global.bind_port must be between 1 and 65535", ErrInvalid)
	}
	if g.PingTime <= 0 {
		return fmt.Errorf("%w: global.ping_time must be positive", ErrInvalid)
	}
	if g.MaxMissedPings <= 0 {
		return fmt.Errorf("%w: global.max_missed_pings must be positive", ErrInvalid)
	}
	if g.StreamTimeout <= 0 {
		return fmt.Errorf("%w: global.stream_timeout must be positive", ErrInvalid)
	}
	if g.HangTime < 0 {
		return fmt.Errorf("%w: global.hang_time must not be negative", ErrInvalid)
	}
	if g.UserCacheTimeout <= 0 {
		return fmt.Errorf("%w: global.user_cache_timeout must be positive", ErrInvalid)
	}
	if g.CountersFile == "" {
		return fmt.Errorf("%w: global.counters_file must not be empty", ErrInvalid)
	}

	def := cfg.Repeaters.Default
	if def.Passphrase == "" && def.Password == "" {
		return fmt.Errorf("%w: repeater_configurations.default.passphrase is required", ErrInvalid)
	}

	// The matcher compiles and validates all blacklist and pattern rules
	if _, err := cfg.Matcher(); err != nil {
		return err
	}

	for i, o := range cfg.Outbound {
		if !o.Enabled {
			continue
		}
		prefix := fmt.Sprintf("outbound_connections[%d]", i)
		if o.Name == "" {
			return fmt.Errorf("%w: %s.name is required", ErrInvalid, prefix)
		}
		if o.Host == "" {
			return fmt.Errorf("%w: %s.host is required", ErrInvalid, prefix)
		}
		if o.Port <= 0 || o.Port > 65535 {
			return fmt.Errorf("%w: %s.port must be between 1 and 65535", ErrInvalid, prefix)
		}
		if o.RadioID == 0 {
			return fmt.Errorf("%w: %s.radio_id is required", ErrInvalid, prefix)
		}
		if o.EffectivePassphrase() == "" {
			return fmt.Errorf("%w: %s.passphrase is required", ErrInvalid, prefix)
		}
		if o.Callsign == "" {
			return fmt.Errorf("%w: %s.callsign is required", ErrInvalid, prefix)
		}
	}

	e := cfg.EventEmitter
	if e.Enabled {
		switch e.Transport {
		case "unix":
			if e.UnixSocket == "" {
				return fmt.Errorf("%w: event_emitter.unix_socket is required for unix transport", ErrInvalid)
			}
		case "tcp":
			if e.Port <= 0 || e.Port > 65535 {
				return fmt.Errorf("%w: event_emitter.port must be between 1 and 65535", ErrInvalid)
			}
		default:
			return fmt.Errorf("%w: event_emitter.transport must be \"unix\" or \"tcp\"", ErrInvalid)
		}
	}

	return nil
}
