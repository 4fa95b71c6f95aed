// Package panel defines the contract shared by the Nexecur backend clients:
// the arming state model, the Client interface the rest of the daemon programs
// against, and the error taxonomy callers match with errors.Is.
package panel

import (
	"context"
	"errors"
)

// ArmState is the arming state of the alarm panel.
type ArmState string

const (
	Disarmed ArmState = "disarmed"
	Home     ArmState = "home"
	Away     ArmState = "away"
)

// Capabilities reports which arming modes a panel supports.
type Capabilities struct {
	Home bool `json:"home"`
	Away bool `json:"away"`
}

// State is a value snapshot of the panel produced by Status. It is never
// mutated after creation; Raw carries the vendor response for diagnostics.
type State struct {
	Status       ArmState       `json:"status"`
	Capabilities Capabilities   `json:"capabilities"`
	Raw          map[string]any `json:"raw,omitempty"`
}

// CameraDevice is a camera attached to the panel. Stream URLs are short lived
// and must be re-fetched through Client.StreamURL on each access.
type CameraDevice struct {
	Serial string `json:"serial"`
	Name   string `json:"name,omitempty"`
}

// Client is the backend-neutral panel contract. Implementations hold a single
// in-memory session and perform a lazy login when a call finds no valid
// session. Calls on one Client must be serialized by the caller; the poll
// loop owns that.
type Client interface {
	// Login establishes a session. Most callers never call it directly:
	// Status and the arm calls log in lazily when no session is held.
	Login(ctx context.Context) error
	// Status fetches a fresh panel snapshot.
	Status(ctx context.Context) (State, error)
	// ArmHome arms the panel in home/stay mode.
	ArmHome(ctx context.Context) error
	// ArmAway arms the panel in away mode.
	ArmAway(ctx context.Context) error
	// SetArmed arms (away) or disarms the panel.
	SetArmed(ctx context.Context, armed bool) error
	// Disarm disarms the panel.
	Disarm(ctx context.Context) error
	// StreamURL returns a short-lived stream URL for a camera serial, or
	// empty when the backend has no stream support.
	StreamURL(ctx context.Context, serial string) (string, error)
	// DeviceID returns the backend device identifier, for diagnostics.
	DeviceID() string
	// Token returns the current session token, for diagnostics.
	Token() string
}

// Error taxonomy. Client methods wrap these sentinels so callers can
// classify failures without knowing the backend.
var (
	// ErrAuth means the backend rejected the credentials or the login
	// flow produced no usable session. Fatal, surfaced to the user.
	ErrAuth = errors.New("authentication failed")
	// ErrProtocol means a malformed or non-success vendor response.
	// Fatal per call; the poll loop retries on its next tick.
	ErrProtocol = errors.New("unexpected panel response")
	// ErrTimeout means a command stayed pending past the polling ceiling.
	ErrTimeout = errors.New("panel command timed out")
)
