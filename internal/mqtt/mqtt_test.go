package mqtt

import (
	"context"
	"log/slog"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/trymwestin/nexecur/internal/core/panel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }

func TestArmStatePayload(t *testing.T) {
	cases := []struct {
		in   panel.ArmState
		want string
	}{
		{panel.Home, "armed_home"},
		{panel.Away, "armed_away"},
		{panel.Disarmed, "disarmed"},
		{panel.ArmState("unknown"), "disarmed"},
	}
	for _, tc := range cases {
		if got := armStatePayload(tc.in); got != tc.want {
			t.Errorf("armStatePayload(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTopics(t *testing.T) {
	p := &HAPublisher{cfg: MQTTConfig{TopicPrefix: "nexecur", DeviceID: "panel01"}}
	if got := p.topic("panel/state"); got != "nexecur/panel01/panel/state" {
		t.Errorf("topic = %q", got)
	}
	if got := discoveryTopic("alarm_control_panel", "panel01", "panel"); got != "homeassistant/alarm_control_panel/panel01_panel/config" {
		t.Errorf("discovery topic = %q", got)
	}
}

type fakeCommander struct {
	calls []string
}

func (f *fakeCommander) ArmHome(context.Context) error { f.calls = append(f.calls, "home"); return nil }
func (f *fakeCommander) ArmAway(context.Context) error { f.calls = append(f.calls, "away"); return nil }
func (f *fakeCommander) Disarm(context.Context) error {
	f.calls = append(f.calls, "disarm")
	return nil
}

// fakeMessage implements just enough of pahomqtt.Message for command handling.
type fakeMessage struct {
	payload string
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return "nexecur/panel01/panel/set" }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return []byte(m.payload) }
func (m *fakeMessage) Ack()              {}

var _ pahomqtt.Message = (*fakeMessage)(nil)

func TestHandlePanelCmd(t *testing.T) {
	cases := []struct {
		payload string
		want    []string
	}{
		{"ARM_HOME", []string{"home"}},
		{"ARM_AWAY", []string{"away"}},
		{"DISARM", []string{"disarm"}},
		{" disarm \n", []string{"disarm"}}, // trimmed and case-folded
		{"SELF_DESTRUCT", nil},
	}

	for _, tc := range cases {
		cmd := &fakeCommander{}
		p := &HAPublisher{cmd: cmd, log: testLogger()}
		p.handlePanelCmd(nil, &fakeMessage{payload: tc.payload})

		if len(cmd.calls) != len(tc.want) {
			t.Errorf("payload %q: calls = %v, want %v", tc.payload, cmd.calls, tc.want)
			continue
		}
		for i := range tc.want {
			if cmd.calls[i] != tc.want[i] {
				t.Errorf("payload %q: calls = %v, want %v", tc.payload, cmd.calls, tc.want)
			}
		}
	}
}

func TestStubPublisher(t *testing.T) {
	s := NewStubPublisher(testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
