package portal

import (
	"time"

	"github.com/google/uuid"

	"github.com/pluvion/provision/internal/radio"
)

// Credentials is what /wifisave hands to the controller.
type Credentials struct {
	SSID          string
	Passphrase    string
	StationStatic radio.IPConfig
}

// Session is the state of one portal run. It is created by Start and
// dropped by Stop. Handlers write it and the controller reads it, both on
// the goroutine that calls Tick, so it needs no locking.
type Session struct {
	ID         uuid.UUID
	APName     string
	APPassword string
	APStatic   radio.IPConfig
	StartedAt  time.Time

	submitted   bool
	credentials Credentials
	rebootAt    time.Time
}

func newSession(apName, apPassword string, apStatic, stationStatic radio.IPConfig, now time.Time) *Session {
	return &Session{
		ID:          uuid.New(),
		APName:      apName,
		APPassword:  apPassword,
		APStatic:    apStatic,
		StartedAt:   now,
		credentials: Credentials{StationStatic: stationStatic},
	}
}

// Submitted reports whether credentials are waiting to be used.
func (s *Session) Submitted() bool {
	return s.submitted
}

// Credentials returns the latest submission.
func (s *Session) Credentials() Credentials {
	return s.credentials
}

// ClearSubmitted marks the submission as consumed.
func (s *Session) ClearSubmitted() {
	s.submitted = false
}

func (s *Session) submit(c Credentials) {
	s.credentials = c
	s.submitted = true
}

// Elapsed returns how long the portal has been running.
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// RebootPending reports whether /r scheduled a reboot.
func (s *Session) RebootPending() bool {
	return !s.rebootAt.IsZero()
}
