// Package mqtt provides MQTT publishing for Home Assistant integration.
// It defines the Publisher interface and includes both a StubPublisher
// (no-op) and a full HAPublisher that connects to an MQTT broker, publishes
// HA auto-discovery configs, relays arm/disarm commands to the panel, and
// forwards state updates from the EventBus.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/trymwestin/nexecur/internal/core/panel"
	"github.com/trymwestin/nexecur/internal/core/state"
)

// ---------------------------------------------------------------------------
// Publisher interface
// ---------------------------------------------------------------------------

// Publisher sends events and state to an MQTT broker.
type Publisher interface {
	// Start begins publishing events from the event bus.
	Start(ctx context.Context) error
	// Stop shuts down the publisher.
	Stop(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// StubPublisher (no-op, used when MQTT is disabled)
// ---------------------------------------------------------------------------

// StubPublisher is a no-op publisher for when MQTT is not configured.
type StubPublisher struct {
	log *slog.Logger
}

// NewStubPublisher creates a no-op MQTT publisher.
func NewStubPublisher(log *slog.Logger) *StubPublisher {
	return &StubPublisher{log: log}
}

// Start is a no-op.
func (s *StubPublisher) Start(_ context.Context) error {
	s.log.Info("MQTT publisher disabled (stub)")
	return nil
}

// Stop is a no-op.
func (s *StubPublisher) Stop(_ context.Context) error {
	return nil
}

// Ensure StubPublisher implements Publisher.
var _ Publisher = (*StubPublisher)(nil)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	DeviceID    string `yaml:"device_id"`
	SiteName    string `yaml:"site_name"`
}

// ---------------------------------------------------------------------------
// PanelCommander – abstraction over panel control methods
// ---------------------------------------------------------------------------

// PanelCommander sends commands to the panel without importing the poll
// package directly.
type PanelCommander interface {
	ArmHome(ctx context.Context) error
	ArmAway(ctx context.Context) error
	Disarm(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// HAPublisher – full Home Assistant MQTT implementation
// ---------------------------------------------------------------------------

// Ensure HAPublisher implements Publisher at compile time.
var _ Publisher = (*HAPublisher)(nil)

// HAPublisher publishes Home Assistant auto-discovery configs, subscribes to
// the alarm command topic and relays commands to the panel, and forwards
// state updates from the EventBus.
type HAPublisher struct {
	cfg   MQTTConfig
	cmd   PanelCommander
	store state.Reader
	bus   *state.EventBus
	log   *slog.Logger

	client pahomqtt.Client

	unsub func() // EventBus unsubscribe
	stopC chan struct{}
	wg    sync.WaitGroup
}

// NewHAPublisher creates a new Home Assistant MQTT publisher.
func NewHAPublisher(cfg MQTTConfig, cmd PanelCommander, store state.Reader, bus *state.EventBus, log *slog.Logger) *HAPublisher {
	return &HAPublisher{
		cfg:   cfg,
		cmd:   cmd,
		store: store,
		bus:   bus,
		log:   log,
		stopC: make(chan struct{}),
	}
}

// Start connects to the MQTT broker, publishes discovery configs, subscribes
// to the command topic, publishes initial state, and starts listening on the
// EventBus for real-time updates.
func (p *HAPublisher) Start(_ context.Context) error {
	availTopic := p.topic("status")

	opts := pahomqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(fmt.Sprintf("nexecur-%s", p.cfg.DeviceID)).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(availTopic, "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.log.Info("MQTT connected, publishing discovery and state")
			p.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.log.Warn("MQTT connection lost", "error", err)
		})

	p.client = pahomqtt.NewClient(opts)

	token := p.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	// Subscribe to EventBus.
	evtCh, unsub := p.bus.Subscribe(128)
	p.unsub = unsub

	p.wg.Add(1)
	go p.eventLoop(evtCh)

	p.log.Info("MQTT publisher started", "broker", p.cfg.Broker)
	return nil
}

// Stop gracefully disconnects from the MQTT broker and stops the event loop.
func (p *HAPublisher) Stop(_ context.Context) error {
	p.log.Info("MQTT publisher stopping")

	close(p.stopC)

	if p.unsub != nil {
		p.unsub()
	}

	p.wg.Wait()

	if p.client != nil && p.client.IsConnected() {
		// Publish offline before disconnecting.
		p.publish(p.topic("status"), "offline", true)
		p.client.Disconnect(1000)
	}
	p.log.Info("MQTT publisher stopped")
	return nil
}

// ---------------------------------------------------------------------------
// onConnect – called on every (re)connect
// ---------------------------------------------------------------------------

func (p *HAPublisher) onConnect() {
	// 1. Publish online availability (retained).
	p.publish(p.topic("status"), "online", true)

	// 2. Publish all discovery configs.
	p.publishDiscovery()

	// 3. Subscribe to the alarm command topic.
	p.subscribeCommands()

	// 4. Subscribe to HA birth topic for re-discovery.
	p.client.Subscribe("homeassistant/status", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if string(msg.Payload()) == "online" {
			p.log.Info("Home Assistant came online, re-publishing discovery")
			p.publishDiscovery()
			p.publishFullState()
		}
	})

	// 5. Publish initial state snapshot.
	p.publishFullState()
}

// ---------------------------------------------------------------------------
// Discovery configs
// ---------------------------------------------------------------------------

// deviceInfo returns the shared HA device block.
func (p *HAPublisher) deviceInfo() map[string]any {
	return map[string]any{
		"identifiers":  []string{p.cfg.DeviceID},
		"name":         p.cfg.SiteName,
		"manufacturer": "Nexecur",
		"model":        "Alarm Panel",
	}
}

// discoveryTopic builds the HA auto-discovery topic.
func discoveryTopic(component, deviceID, objectID string) string {
	return fmt.Sprintf("homeassistant/%s/%s_%s/config", component, deviceID, objectID)
}

func (p *HAPublisher) publishDiscovery() {
	dev := p.deviceInfo()
	avail := map[string]any{
		"topic": p.topic("status"),
	}
	id := p.cfg.DeviceID

	snap := p.store.Snapshot()
	modes := []string{}
	if snap.Capabilities.Home {
		modes = append(modes, "arm_home")
	}
	if snap.Capabilities.Away {
		modes = append(modes, "arm_away")
	}
	if len(modes) == 0 {
		// Capabilities unknown until the first poll lands; advertise both.
		modes = []string{"arm_home", "arm_away"}
	}

	p.publishDiscoveryConfig("alarm_control_panel", "panel", map[string]any{
		"name":               p.cfg.SiteName,
		"unique_id":          fmt.Sprintf("%s_panel", id),
		"state_topic":        p.topic("panel/state"),
		"command_topic":      p.topic("panel/set"),
		"payload_arm_home":   "ARM_HOME",
		"payload_arm_away":   "ARM_AWAY",
		"payload_disarm":     "DISARM",
		"supported_features": modes,
		"code_arm_required":  false,
		"code_disarm_required": false,
		"device":             dev,
		"availability":       avail,
	})

	p.publishDiscoveryConfig("binary_sensor", "connection", map[string]any{
		"name":         fmt.Sprintf("%s Connection", p.cfg.SiteName),
		"unique_id":    fmt.Sprintf("%s_connection", id),
		"state_topic":  p.topic("connection/state"),
		"device_class": "connectivity",
		"payload_on":   "ON",
		"payload_off":  "OFF",
		"device":       dev,
		"availability": avail,
	})

	p.publishDiscoveryConfig("binary_sensor", "stale", map[string]any{
		"name":            fmt.Sprintf("%s Data Stale", p.cfg.SiteName),
		"unique_id":       fmt.Sprintf("%s_stale", id),
		"state_topic":     p.topic("stale/state"),
		"device_class":    "problem",
		"payload_on":      "ON",
		"payload_off":     "OFF",
		"entity_category": "diagnostic",
		"device":          dev,
		"availability":    avail,
	})

	p.publishDiscoveryConfig("sensor", "cameras", map[string]any{
		"name":            fmt.Sprintf("%s Cameras", p.cfg.SiteName),
		"unique_id":       fmt.Sprintf("%s_cameras", id),
		"state_topic":     p.topic("cameras/state"),
		"icon":            "mdi:cctv",
		"entity_category": "diagnostic",
		"device":          dev,
		"availability":    avail,
	})
}

func (p *HAPublisher) publishDiscoveryConfig(component, objectID string, payload map[string]any) {
	topic := discoveryTopic(component, p.cfg.DeviceID, objectID)
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("failed to marshal discovery config", "component", component, "object_id", objectID, "error", err)
		return
	}
	p.publish(topic, string(data), true)
}

// ---------------------------------------------------------------------------
// Command subscription
// ---------------------------------------------------------------------------

func (p *HAPublisher) subscribeCommands() {
	t := p.topic("panel/set")
	token := p.client.Subscribe(t, 1, p.handlePanelCmd)
	token.Wait()
	if err := token.Error(); err != nil {
		p.log.Error("failed to subscribe to command topic", "topic", t, "error", err)
	}
}

func (p *HAPublisher) handlePanelCmd(_ pahomqtt.Client, msg pahomqtt.Message) {
	cmd := strings.ToUpper(strings.TrimSpace(string(msg.Payload())))
	p.log.Info("MQTT command", "command", cmd)

	// Arm/disarm may ride out a pending order on the panel side, so the
	// timeout covers the full completion poll.
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	var err error
	switch cmd {
	case "ARM_HOME":
		err = p.cmd.ArmHome(ctx)
	case "ARM_AWAY":
		err = p.cmd.ArmAway(ctx)
	case "DISARM":
		err = p.cmd.Disarm(ctx)
	default:
		p.log.Warn("unknown panel command", "command", cmd)
		return
	}
	if err != nil {
		p.log.Error("panel command failed", "command", cmd, "error", err)
	}
}

// ---------------------------------------------------------------------------
// State publishing
// ---------------------------------------------------------------------------

// publishFullState publishes the complete state snapshot.
func (p *HAPublisher) publishFullState() {
	snap := p.store.Snapshot()
	p.publishPanelState(snap)
	p.publish(p.topic("connection/state"), boolToOnOff(snap.Connected), true)
}

func (p *HAPublisher) publishPanelState(snap state.Snapshot) {
	p.publish(p.topic("panel/state"), armStatePayload(snap.Alarm), true)
	p.publish(p.topic("stale/state"), boolToOnOff(snap.Stale), true)
	p.publish(p.topic("cameras/state"), fmt.Sprint(len(snap.Devices)), true)
}

// ---------------------------------------------------------------------------
// EventBus loop
// ---------------------------------------------------------------------------

func (p *HAPublisher) eventLoop(ch <-chan state.Event) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopC:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			p.handleEvent(evt)
		}
	}
}

func (p *HAPublisher) handleEvent(evt state.Event) {
	switch evt.Type {
	case state.EventPanelUpdate:
		snap, ok := evt.Data.(state.Snapshot)
		if !ok {
			p.log.Warn("unexpected data type for panel_update")
			return
		}
		p.publishPanelState(snap)

	case state.EventDeviceUpdate:
		devices, ok := evt.Data.([]panel.CameraDevice)
		if !ok {
			p.log.Warn("unexpected data type for device_update")
			return
		}
		p.publish(p.topic("cameras/state"), fmt.Sprint(len(devices)), true)

	case state.EventConnected:
		p.publish(p.topic("connection/state"), "ON", true)

	case state.EventDisconnected:
		p.publish(p.topic("connection/state"), "OFF", true)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// topic builds a full topic path: {prefix}/{device_id}/{suffix}.
func (p *HAPublisher) topic(suffix string) string {
	return fmt.Sprintf("%s/%s/%s", p.cfg.TopicPrefix, p.cfg.DeviceID, suffix)
}

// publish is a convenience wrapper that publishes a message and logs errors.
func (p *HAPublisher) publish(topic, payload string, retained bool) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(topic, 1, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		p.log.Error("mqtt publish failed", "topic", topic, "error", err)
	}
}

// armStatePayload maps the panel state onto HA's MQTT alarm payloads.
func armStatePayload(s panel.ArmState) string {
	switch s {
	case panel.Home:
		return "armed_home"
	case panel.Away:
		return "armed_away"
	default:
		return "disarmed"
	}
}

func boolToOnOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
