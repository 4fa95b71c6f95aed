// Package nexecur provides a public facade re-exporting core types
// for external consumers of this module.
package nexecur

import (
	"github.com/trymwestin/nexecur/internal/core/hikvision"
	"github.com/trymwestin/nexecur/internal/core/panel"
	"github.com/trymwestin/nexecur/internal/core/state"
	"github.com/trymwestin/nexecur/internal/core/videofied"
)

// Re-export core types for external use.
type (
	// Client is the backend-neutral panel contract.
	Client = panel.Client
	// ArmState is the arming state of the panel.
	ArmState = panel.ArmState
	// State is a panel snapshot.
	State = panel.State
	// Capabilities reports supported arming modes.
	Capabilities = panel.Capabilities
	// CameraDevice is a camera attached to the panel.
	CameraDevice = panel.CameraDevice
	// Snapshot is the daemon's cached panel view.
	Snapshot = state.Snapshot
	// Event represents a state change event.
	Event = state.Event
	// EventType identifies event categories.
	EventType = state.EventType
	// VideofiedClient speaks the legacy Videofied protocol.
	VideofiedClient = videofied.Client
	// VideofiedConfig configures a Videofied client.
	VideofiedConfig = videofied.Config
	// HikvisionClient speaks the GuardingVision cloud-relay protocol.
	HikvisionClient = hikvision.Client
	// HikvisionConfig configures a Hikvision client.
	HikvisionConfig = hikvision.Config
)

// Arming state constants.
const (
	Disarmed = panel.Disarmed
	Home     = panel.Home
	Away     = panel.Away
)

// Error taxonomy sentinels, matched with errors.Is.
var (
	ErrAuth     = panel.ErrAuth
	ErrProtocol = panel.ErrProtocol
	ErrTimeout  = panel.ErrTimeout
)

// Constructors.
var (
	NewVideofied = videofied.New
	NewHikvision = hikvision.New
)
