package logic

import "fmt"

// MaxCronLength bounds a zone's cron expression so it fits the persisted record.
const MaxCronLength = 64

// ConfigError is returned for a zone configuration that cannot be applied.
// The prior configuration is kept.
type ConfigError struct {
	Payload string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid zone config %q: %s", e.Payload, e.Reason)
}
