package notify

import (
	"log"
	"time"

	"github.com/yourusername/account-backup-manager/internal/config"
)

// Kind enumerates the dispatchable event kinds
type Kind string

const (
	KindBackupStart    Kind = "backup_start"
	KindBackupSuccess  Kind = "backup_success"
	KindBackupFailure  Kind = "backup_failure"
	KindRestoreStart   Kind = "restore_start"
	KindRestoreSuccess Kind = "restore_success"
	KindRestoreFailure Kind = "restore_failure"
)

// Event is a structured notification
type Event struct {
	Kind      Kind                   `json:"kind"`
	User      string                 `json:"user"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Channel delivers events; delivery transports are the channel's concern
type Channel interface {
	Name() string
	Send(event *Event) error
}

// PreferenceSource resolves per-user notification preferences
type PreferenceSource interface {
	PreferencesFor(user string) config.UserPreferences
}

// ConfigPreferences serves preferences straight from the loaded config
type ConfigPreferences struct {
	Preferences map[string]config.UserPreferences
}

// PreferencesFor returns the preferences for a user; unknown users get
// failure notifications only.
func (cp *ConfigPreferences) PreferencesFor(user string) config.UserPreferences {
	if prefs, ok := cp.Preferences[user]; ok {
		return prefs
	}
	return config.UserPreferences{BackupFailure: true, RestoreFailure: true}
}

// Dispatcher fans events out to all configured channels, gated by the
// target user's preferences.
type Dispatcher struct {
	channels []Channel
	prefs    PreferenceSource
}

// NewDispatcher creates a dispatcher over the given channels
func NewDispatcher(prefs PreferenceSource, channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, prefs: prefs}
}

// Dispatch sends an event to every channel if the user's preference for
// its kind is enabled. Delivery errors are logged, never propagated: a
// failed notification must not fail the job.
func (d *Dispatcher) Dispatch(kind Kind, user string, context map[string]interface{}) {
	if !d.enabled(kind, user) {
		return
	}

	event := &Event{
		Kind:      kind,
		User:      user,
		Timestamp: time.Now(),
		Context:   context,
	}

	for _, channel := range d.channels {
		if err := channel.Send(event); err != nil {
			log.Printf("[Notify] Failed to deliver %s via %s: %v", kind, channel.Name(), err)
		}
	}
}

func (d *Dispatcher) enabled(kind Kind, user string) bool {
	prefs := d.prefs.PreferencesFor(user)

	switch kind {
	case KindBackupStart:
		return prefs.BackupStart
	case KindBackupSuccess:
		return prefs.BackupSuccess
	case KindBackupFailure:
		return prefs.BackupFailure
	case KindRestoreStart:
		return prefs.RestoreStart
	case KindRestoreSuccess:
		return prefs.RestoreSuccess
	case KindRestoreFailure:
		return prefs.RestoreFailure
	default:
		return false
	}
}
