package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: provider and
// server wiring changes require a restart and are ignored here.
type ConfigDiff struct {
	// LogLevelChanged is true when the server log level changed.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// BusinessChanged is true when any spoken text changed: instructions,
	// greeting, repeat prompt, or menu prompts. New calls pick these up;
	// active calls keep what they started with.
	BusinessChanged bool

	// VADChanged is true when any detection tunable changed. Applies to new
	// calls only; an active call's detector keeps its thresholds.
	VADChanged bool

	// TurnChanged is true when dialogue or turn tunables changed.
	TurnChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.BusinessChanged || d.VADChanged || d.TurnChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Business != new.Business {
		d.BusinessChanged = true
	}

	if old.VAD != new.VAD {
		d.VADChanged = true
	}

	if old.Turn != new.Turn {
		d.TurnChanged = true
	}

	return d
}
