// Package notify decides whether a newly created alert should emit an
// outward notification event. Delivery itself happens through event
// subscribers (Slack, UI); this package only evaluates thresholds.
package notify

import (
	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/integration"
)

// Notification is the payload of an alert-notification event.
type Notification struct {
	Alert       *alert.Alert   `json:"alert"`
	Integration string         `json:"integration"`
	Severity    alert.Severity `json:"severity"`
	Channels    []string       `json:"channels,omitempty"`
}

// ShouldNotify reports whether a newly created alert crosses the
// integration's notification threshold. An integration notifies when
// notifications are enabled, a threshold is configured for the alert's
// severity, and the alert's priority meets it. Updates to existing alerts
// never notify.
func ShouldNotify(a *alert.Alert, in *integration.Integration) bool {
	n := in.Settings.Notifications
	if !n.Enabled {
		return false
	}
	threshold, ok := n.Thresholds[a.Severity]
	if !ok {
		return false
	}
	return a.Priority >= threshold
}
