package provision

import (
	"time"

	"github.com/google/uuid"
)

// EventType names what happened.
type EventType string

const (
	// EventAPModeEntered is emitted when the controller gives up on the
	// saved network and raises the access point, before the portal starts.
	EventAPModeEntered EventType = "ap_mode_entered"
	// EventCredentialsSubmitted is emitted when /wifisave hands over new
	// credentials.
	EventCredentialsSubmitted EventType = "credentials_submitted"
	// EventSaveConfig is emitted once when the portal loop ends after a
	// submission: on a successful connection, or on any outcome when
	// break-after-config is set.
	EventSaveConfig EventType = "save_config"
	// EventPortalTimeout is emitted when the portal times out.
	EventPortalTimeout EventType = "portal_timeout"
	// EventStateChanged accompanies every state transition.
	EventStateChanged EventType = "state_changed"
)

// Event is a notification from the controller.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	State    string `json:"state,omitempty"`
	Previous string `json:"previous,omitempty"`

	PortalSSID string `json:"portal_ssid,omitempty"`
	SSID       string `json:"ssid,omitempty"`
	Connected  bool   `json:"connected,omitempty"`
}

// Listener receives events on the controller goroutine. It must not block
// and must not call back into the controller.
type Listener func(Event)

// SubscriptionID identifies a registered listener.
type SubscriptionID uint64

type listenerEntry struct {
	id SubscriptionID
	fn Listener
}

func newEvent(t EventType, now time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: now.UTC(),
	}
}
