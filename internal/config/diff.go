package config

import "reflect"

// ChangedSections names the top-level sections that differ between two
// configs, in file order. Used for reload log lines.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	if oldCfg.Queue != newCfg.Queue {
		changed = append(changed, "queue")
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if oldCfg.Trigger != newCfg.Trigger {
		changed = append(changed, "trigger")
	}
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
	}
	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		changed = append(changed, "jobs")
	}
	return changed
}
