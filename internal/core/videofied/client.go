// Package videofied implements the legacy Videofied cloud protocol for
// Nexecur alarm panels: salted challenge-response login, site polling, and
// the asynchronous arm/disarm completion poll.
package videofied

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf16"

	"github.com/go-resty/resty/v2"

	"github.com/trymwestin/nexecur/internal/core/panel"
)

// DefaultBaseURL is the production Videofied cloud host.
const DefaultBaseURL = "https://monnexecur-prd.nexecur.fr"

const (
	saltURI        = "/webservices/salt"
	siteURI        = "/webservices/site"
	registerURI    = "/webservices/register"
	panelStatusURI = "/webservices/panel-status"
	checkStatusURI = "/webservices/check-panel-status"
	streamURI      = "/webservices/stream"
)

// Pending-poll cadence. The panel acknowledges arm/disarm as "pending" and
// must be polled until it resolves; the ceiling is a hard limit.
const (
	defaultPollInterval = 2 * time.Second
	defaultPollCeiling  = 60 * time.Second
)

// Config holds the Videofied client settings.
type Config struct {
	// BaseURL overrides the vendor host, used by tests.
	BaseURL string
	// SiteID is the Nexecur site identifier.
	SiteID string
	// Password is the account PIN/password. The vendor API conflates the
	// two: the same secret is sent as both fields.
	Password string
	// DeviceName is the name this client registers itself under.
	DeviceName string
	// HTTPClient optionally supplies a shared transport. The caller that
	// created it owns closing its idle connections.
	HTTPClient *http.Client
}

// Client speaks the Videofied cloud protocol. It holds one in-memory session
// (token + device id) and performs a lazy login when a call finds none.
// Calls must be serialized by the caller.
type Client struct {
	http       *resty.Client
	siteID     string
	password   string
	deviceName string
	log        *slog.Logger

	token    string
	deviceID string

	pollInterval time.Duration
	pollCeiling  time.Duration
}

// New creates a Videofied client.
func New(cfg Config, log *slog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	name := cfg.DeviceName
	if name == "" {
		name = "Home Assistant"
	}

	var r *resty.Client
	if cfg.HTTPClient != nil {
		r = resty.NewWithClient(cfg.HTTPClient)
	} else {
		r = resty.New()
	}
	r.SetBaseURL(base)

	return &Client{
		http:         r,
		siteID:       cfg.SiteID,
		password:     cfg.Password,
		deviceName:   name,
		log:          log,
		pollInterval: defaultPollInterval,
		pollCeiling:  defaultPollCeiling,
	}
}

// DeviceID returns the registered device identifier.
func (c *Client) DeviceID() string { return c.deviceID }

// Token returns the current session token.
func (c *Client) Token() string { return c.token }

// Login performs the full login/registration sequence if no token is held.
func (c *Client) Login(ctx context.Context) error {
	return c.ensureSession(ctx)
}

// Status re-derives the salted hashes (the salt rotates server-side per
// request) and reissues the site call, returning a fresh panel snapshot.
func (c *Client) Status(ctx context.Context) (panel.State, error) {
	if err := c.ensureSession(ctx); err != nil {
		return panel.State{}, err
	}

	salt, err := c.getSalt(ctx)
	if err != nil {
		return panel.State{}, err
	}
	pwdHash, pinHash := computeHashes(c.password, salt)
	res, raw, err := c.site(ctx, pwdHash, pinHash)
	if err != nil {
		return panel.State{}, err
	}

	status := panel.Disarmed
	if res.PanelStatus != 0 {
		status = panel.Away
	}
	return panel.State{
		Status:       status,
		Capabilities: panel.Capabilities{Home: false, Away: true},
		Raw:          raw,
	}, nil
}

// SetArmed arms (1) or disarms (0) the panel, waiting out a pending order.
func (c *Client) SetArmed(ctx context.Context, armed bool) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	order := 0
	if armed {
		order = 1
	}
	return c.panelStatus(ctx, order)
}

// ArmAway arms the panel. Videofied panels have a single armed mode.
func (c *Client) ArmAway(ctx context.Context) error {
	return c.SetArmed(ctx, true)
}

// ArmHome is not available on Videofied panels.
func (c *Client) ArmHome(ctx context.Context) error {
	return fmt.Errorf("videofied: home arming not supported by this panel: %w", panel.ErrProtocol)
}

// Disarm disarms the panel.
func (c *Client) Disarm(ctx context.Context) error {
	return c.SetArmed(ctx, false)
}

// StreamURL fetches a short-lived RTSP URL for the given camera serial.
// The URL expires server-side within seconds; it is never cached here.
func (c *Client) StreamURL(ctx context.Context, serial string) (string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}

	var res streamResponse
	if _, err := c.postJSON(ctx, streamURI, map[string]any{"serial": serial}, &res); err != nil {
		return "", err
	}
	if res.Message != "OK" || res.Status != 0 {
		return "", fmt.Errorf("videofied: stream request for %s rejected (status %d, message %q): %w",
			serial, res.Status, res.Message, panel.ErrProtocol)
	}
	if res.URI == "" {
		return "", fmt.Errorf("videofied: no URI in stream response for %s: %w", serial, panel.ErrProtocol)
	}
	return res.URI, nil
}

var _ panel.Client = (*Client)(nil)

// --- Login sequence ---

// ensureSession performs the full device registration when no token is held.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.token != "" {
		return nil
	}

	salt, err := c.getSalt(ctx)
	if err != nil {
		return err
	}
	pwdHash, pinHash := computeHashes(c.password, salt)
	res, _, err := c.site(ctx, pwdHash, pinHash)
	if err != nil {
		return err
	}
	if res.Token == "" {
		return fmt.Errorf("videofied: no token returned by site API: %w", panel.ErrAuth)
	}
	c.token = res.Token

	reg, _, err := c.register(ctx)
	if err != nil {
		return err
	}
	id := stringify(reg.IDDevice)
	if id == "" {
		id = stringify(res.IDDevice)
	}
	if id == "" {
		return fmt.Errorf("videofied: unable to register device (no id_device): %w", panel.ErrAuth)
	}
	c.deviceID = id
	c.log.Info("videofied login complete", "id_site", c.siteID, "id_device", c.deviceID)
	return nil
}

func (c *Client) getSalt(ctx context.Context) (string, error) {
	// The salt request carries the plaintext secret in both fields; the
	// hashes only appear on the follow-up site call.
	body := map[string]any{
		"id_site":   c.siteID,
		"password":  c.password,
		"id_device": c.deviceID,
		"partage":   "1",
		"pin":       c.password,
	}

	var res saltResponse
	if _, err := c.postJSON(ctx, saltURI, body, &res); err != nil {
		return "", err
	}
	if res.Message != "OK" || res.Status != 0 {
		return "", fmt.Errorf("videofied: salt request rejected (status %d, message %q): %w",
			res.Status, res.Message, panel.ErrAuth)
	}
	if res.Salt == "" {
		return "", fmt.Errorf("videofied: no salt in response: %w", panel.ErrAuth)
	}
	return res.Salt, nil
}

func (c *Client) site(ctx context.Context, pwdHash, pinHash string) (siteResponse, map[string]any, error) {
	body := map[string]any{
		"id_site":   c.siteID,
		"password":  pwdHash,
		"id_device": c.deviceID,
		"partage":   "1",
		"pin":       pinHash,
	}

	var res siteResponse
	raw, err := c.postJSON(ctx, siteURI, body, &res)
	if err != nil {
		return siteResponse{}, nil, err
	}
	if res.Token != "" {
		c.token = res.Token
	}
	return res, raw, nil
}

func (c *Client) register(ctx context.Context) (registerResponse, map[string]any, error) {
	body := map[string]any{
		"alert":          "enabled",
		"appname":        "Mon+Nexecur",
		"nom":            "",
		"badge":          "enabled",
		"options":        []int{1},
		"sound":          "enabled",
		"id_device":      c.deviceID,
		"actif":          1,
		"plateforme":     "gcm",
		"app_version":    "1.15 (30)",
		"device_model":   "HomeAssistant",
		"device_name":    c.deviceName,
		"device_version": "2025.0",
	}

	var res registerResponse
	raw, err := c.postJSON(ctx, registerURI, body, &res)
	if err != nil {
		return registerResponse{}, nil, err
	}
	if res.Status != 0 {
		c.log.Debug("videofied register returned non-zero status", "status", res.Status, "message", res.Message)
	}
	return res, raw, nil
}

// --- Arm/disarm pending poll ---

func (c *Client) panelStatus(ctx context.Context, order int) error {
	var res panelStatusResponse
	if _, err := c.postJSON(ctx, panelStatusURI, map[string]any{"status": order}, &res); err != nil {
		return err
	}
	if res.Message != "OK" || res.Status != 0 {
		return fmt.Errorf("videofied: panel order %d rejected (status %d, message %q): %w",
			order, res.Status, res.Message, panel.ErrProtocol)
	}
	if res.Pending != 0 {
		return c.waitPanelDone(ctx)
	}
	return nil
}

// waitPanelDone polls the check endpoint until the order resolves or the
// ceiling elapses. The check runs first so a fast panel costs one call.
func (c *Client) waitPanelDone(ctx context.Context) error {
	attempts := int(c.pollCeiling / c.pollInterval)
	for i := 0; i < attempts; i++ {
		var res checkStatusResponse
		if _, err := c.postJSON(ctx, checkStatusURI, nil, &res); err != nil {
			return err
		}
		if res.StillPending == 0 {
			return nil
		}
		c.log.Debug("videofied order still pending", "attempt", i+1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return fmt.Errorf("videofied: order still pending after %s: %w", c.pollCeiling, panel.ErrTimeout)
}

// --- Transport ---

// postJSON posts a JSON body and decodes the response both into out and into
// a generic map for Raw passthrough. The vendor expects JSON bodies under a
// form-urlencoded content type, so the body is marshalled by hand.
func (c *Client) postJSON(ctx context.Context, path string, body any, out any) (map[string]any, error) {
	if body == nil {
		body = map[string]any{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("videofied: marshal %s body: %w", path, err)
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(payload)
	if c.token != "" {
		req.SetHeader("X-Auth-Token", c.token)
	}

	resp, err := req.Post(path)
	if err != nil {
		return nil, fmt.Errorf("videofied: post %s: %v: %w", path, err, panel.ErrProtocol)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("videofied: post %s: HTTP %d: %w", path, resp.StatusCode(), panel.ErrProtocol)
	}

	data := resp.Body()
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("videofied: decode %s response: %v: %w", path, err, panel.ErrProtocol)
		}
	}
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("videofied: decode %s response: %v: %w", path, err, panel.ErrProtocol)
	}
	return raw, nil
}

// computeHashes derives the per-request credential pair from the plaintext
// password and the base64 salt: the password is encoded as UTF-16LE, the
// decoded salt bytes are prepended, and the concatenation is hashed with
// SHA-1 (pin) and SHA-256 (password), both base64-encoded. The salt is
// single use, so the pair is recomputed on every site call.
func computeHashes(password, saltB64 string) (pwdHash, pinHash string) {
	units := utf16.Encode([]rune(password))
	utf16le := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(utf16le[2*i:], u)
	}

	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		// A malformed salt yields hashes over the password alone; the
		// server rejects them and the caller surfaces that error.
		salt = nil
	}

	combined := append(append([]byte{}, salt...), utf16le...)
	sum1 := sha1.Sum(combined)
	sum256 := sha256.Sum256(combined)
	return base64.StdEncoding.EncodeToString(sum256[:]), base64.StdEncoding.EncodeToString(sum1[:])
}

// stringify renders the loosely-typed id_device field, which the vendor
// returns as either a string or a number.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
