// Package hikvision implements the Hikvision/GuardingVision cloud-relay
// protocol used by current Nexecur panels: account login, device discovery,
// and ISAPI commands tunneled through the cloud with per-command digest
// authentication.
package hikvision

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/trymwestin/nexecur/internal/core/panel"
)

// DefaultBaseURL is the European GuardingVision API host. Login may rebind
// the client to a regional domain named by the server.
const DefaultBaseURL = "https://apiieu.guardingvision.com"

const (
	loginURI    = "/v3/users/login/v2"
	pagelistURI = "/v3/userdevices/v1/devices/pagelist"
	tunnelURI   = "/v3/userdevices/v1/isapi"
)

// Inner ISAPI paths carried through the tunnel.
const (
	isapiHostStatus = "/ISAPI/SecurityCP/status/host?format=json"
	isapiArm        = "/ISAPI/SecurityCP/ArmAndsystemFault?format=json"
	isapiDisarm     = "/ISAPI/SecurityCP/control/disarm?format=json"
	isapiUserInfo   = "/ISAPI/Security/CloudUserManage/users/byType?format=json"
)

// Config holds the Hikvision client settings.
type Config struct {
	// BaseURL overrides the vendor host, used by tests.
	BaseURL string
	// Account is a phone number or an email address.
	Account string
	// Password is the cloud account password.
	Password string
	// CountryCode prefixes phone accounts; French numbers keep their
	// leading zero after the code. Defaults to "33".
	CountryCode string
	// SSID is the WiFi network name reported in request headers.
	SSID string
	// DeviceName is the client name reported to the cloud.
	DeviceName string
	// HTTPClient optionally supplies a shared transport.
	HTTPClient *http.Client
}

// Client speaks the GuardingVision cloud protocol. It holds one in-memory
// session (session id, user metadata, device list) and recovers transparently
// from session expiry with a single re-login retry. Calls must be serialized
// by the caller.
type Client struct {
	http        *resty.Client
	account     string
	password    string
	ssid        string
	deviceName  string
	featureCode string
	log         *slog.Logger

	sessionID     string
	userInfo      loginUser
	devices       []DeviceInfo
	currentSerial string
	lastState     *panel.State
}

// New creates a Hikvision client.
func New(cfg Config, log *slog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	code := cfg.CountryCode
	if code == "" {
		code = "33"
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
		http:        r,
		account:     formatAccount(code, cfg.Account),
		password:    cfg.Password,
		ssid:        cfg.SSID,
		deviceName:  name,
		featureCode: generateFeatureCode(),
		log:         log,
	}
}

// DeviceID returns the serial of the current (first discovered) device.
func (c *Client) DeviceID() string { return c.currentSerial }

// Token returns the cloud session id.
func (c *Client) Token() string { return c.sessionID }

// Devices returns the discovered device list.
func (c *Client) Devices() []DeviceInfo { return c.devices }

// Login authenticates against the cloud, follows a regional redirect if the
// server names one, and pins the first discovered device as current.
func (c *Client) Login(ctx context.Context) error {
	form := map[string]string{
		"account":          c.account,
		"password":         md5hex(c.password),
		"featureCode":      c.featureCode,
		"cuName":           "aVBob25l", // base64 "iPhone"
		"pushExtJson":      "{\n  \"language\" : \"zh\"\n}",
		"pushRegisterJson": "[]",
		"bizType":          "",
		"imageCode":        "",
		"latitude":         "",
		"longitude":        "",
		"redirect":         "",
		"smsCode":          "",
		"smsToken":         "",
	}

	c.log.Debug("logging in to Hikvision cloud", "account", c.account)

	var res loginResponse
	resp, err := c.request(ctx).
		SetFormData(form).
		SetResult(&res).
		Post(loginURI)
	if err != nil {
		return fmt.Errorf("hikvision: login: %v: %w", err, panel.ErrAuth)
	}
	if resp.IsError() {
		return fmt.Errorf("hikvision: login: HTTP %d: %w", resp.StatusCode(), panel.ErrAuth)
	}
	if res.Meta.code() != "200" {
		return fmt.Errorf("hikvision: login rejected: %s: %w", res.Meta.Message, panel.ErrAuth)
	}

	c.sessionID = res.LoginSession.SessionID
	c.userInfo = res.LoginUser

	if domain := res.LoginArea.APIDomain; domain != "" {
		if !strings.HasPrefix(domain, "http") {
			domain = "https://" + domain
		}
		c.http.SetBaseURL(domain)
		c.log.Info("rebound to regional API domain", "domain", domain)
	}

	c.log.Info("Hikvision login successful", "username", c.userInfo.Username)
	return c.fetchDevices(ctx)
}

// fetchDevices loads the account device page list and pins the first serial.
func (c *Client) fetchDevices(ctx context.Context) error {
	var res pagelistResponse
	resp, err := c.request(ctx).
		SetQueryParams(map[string]string{
			"groupId": "-1",
			"limit":   "20",
			"offset":  "0",
			"filter":  "CLOUD,TIME_PLAN,CONNECTION,SWITCH,STATUS,WIFI,STATUS_EXT,NODISTURB,P2P,TTS,KMS,HIDDNS",
		}).
		SetResult(&res).
		Get(pagelistURI)
	if err != nil {
		return fmt.Errorf("hikvision: fetch devices: %v: %w", err, panel.ErrProtocol)
	}
	if resp.IsError() {
		return fmt.Errorf("hikvision: fetch devices: HTTP %d: %w", resp.StatusCode(), panel.ErrProtocol)
	}

	c.devices = res.DeviceInfos
	if len(c.devices) == 0 {
		c.log.Warn("no devices found in account")
		return nil
	}
	c.currentSerial = c.devices[0].DeviceSerial
	c.log.Info("device list fetched", "count", len(c.devices), "primary", c.currentSerial)
	return nil
}

// Status fetches the alarm host status through the tunnel. Transient tunnel
// or parse failures degrade to the last known state with an api_error flag;
// only the first call ever, with nothing cached, surfaces the failure.
func (c *Client) Status(ctx context.Context) (panel.State, error) {
	if c.sessionID == "" {
		if err := c.Login(ctx); err != nil {
			return panel.State{}, err
		}
	}
	if c.currentSerial == "" {
		if c.lastState != nil {
			c.log.Debug("no device serial, returning last known state")
			return *c.lastState, nil
		}
		return panel.State{}, fmt.Errorf("hikvision: no device serial and no previous state: %w", panel.ErrProtocol)
	}

	payload := map[string]any{
		"AlarmHostStatusCond": map[string]any{
			"communiStatus": true,
			"subSys":        true,
			"hostStatus":    true,
			"battery":       true,
		},
	}

	inner, err := c.executeISAPI(ctx, http.MethodPost, isapiHostStatus, payload)
	if err != nil {
		c.log.Warn("status fetch failed, falling back to last known state", "error", err)
		if st, ok := c.staleState(); ok {
			return st, nil
		}
		return panel.State{}, fmt.Errorf("hikvision: get status: %v: %w", err, panel.ErrProtocol)
	}

	doc, body, perr := parseHostStatus(inner)
	if perr != nil {
		c.log.Warn("could not parse status response", "error", perr)
		if c.lastState != nil {
			return *c.lastState, nil
		}
		return panel.State{}, fmt.Errorf("hikvision: parse status: %v: %w", perr, panel.ErrProtocol)
	}

	// First subsystem reporting away/stay wins; disarm only tentatively
	// sets the status and a later subsystem may override it.
	status := panel.Disarmed
	for _, sub := range doc.AlarmHostStatus.SubSysList {
		switch sub.SubSys.Arming {
		case "away":
			status = panel.Away
		case "stay":
			status = panel.Home
		case "disarm":
			status = panel.Disarmed
			continue
		default:
			continue
		}
		break
	}

	raw := map[string]any{
		"devices":         c.devicesRaw(),
		"status_response": body,
	}
	st := panel.State{
		Status:       status,
		Capabilities: panel.Capabilities{Home: true, Away: true},
		Raw:          raw,
	}
	c.lastState = &st
	return st, nil
}

// staleState returns the cached state annotated with an api_error flag.
func (c *Client) staleState() (panel.State, bool) {
	if c.lastState == nil {
		return panel.State{}, false
	}
	raw := make(map[string]any, len(c.lastState.Raw)+1)
	for k, v := range c.lastState.Raw {
		raw[k] = v
	}
	raw["api_error"] = true
	return panel.State{
		Status:       c.lastState.Status,
		Capabilities: c.lastState.Capabilities,
		Raw:          raw,
	}, true
}

// ArmHome arms the panel in stay mode.
func (c *Client) ArmHome(ctx context.Context) error {
	return c.arm(ctx, "stay")
}

// ArmAway arms the panel in away mode.
func (c *Client) ArmAway(ctx context.Context) error {
	return c.arm(ctx, "away")
}

// SetArmed arms (away) or disarms the panel.
func (c *Client) SetArmed(ctx context.Context, armed bool) error {
	if armed {
		return c.ArmAway(ctx)
	}
	return c.Disarm(ctx)
}

func (c *Client) arm(ctx context.Context, armType string) error {
	if err := c.ensureDevice(ctx); err != nil {
		return err
	}

	payload := map[string]any{
		"subSysArmList": []map[string]any{
			{"armType": armType, "operationMode": "all"},
		},
	}
	if _, err := c.executeISAPI(ctx, http.MethodPost, isapiArm, payload); err != nil {
		return fmt.Errorf("hikvision: arm %s: %v: %w", armType, err, panel.ErrProtocol)
	}
	c.log.Info("alarm armed", "mode", armType)
	return nil
}

// Disarm disarms the panel. The disarm command is a PUT where arming posts.
func (c *Client) Disarm(ctx context.Context) error {
	if err := c.ensureDevice(ctx); err != nil {
		return err
	}

	payload := map[string]any{
		"SubSysList": []map[string]any{
			{"SubSys": map[string]any{"id": 1}},
		},
	}
	if _, err := c.executeISAPI(ctx, http.MethodPut, isapiDisarm, payload); err != nil {
		return fmt.Errorf("hikvision: disarm: %v: %w", err, panel.ErrProtocol)
	}
	c.log.Info("alarm disarmed")
	return nil
}

// StreamURL always reports no stream: the vendor cloud API exposes no camera
// streaming for these panels. This is a known capability gap, not an error.
func (c *Client) StreamURL(_ context.Context, serial string) (string, error) {
	c.log.Warn("camera streaming not available on Hikvision panels", "serial", serial)
	return "", nil
}

var _ panel.Client = (*Client)(nil)

func (c *Client) ensureDevice(ctx context.Context) error {
	if c.sessionID == "" {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}
	if c.currentSerial == "" {
		return fmt.Errorf("hikvision: no device available: %w", panel.ErrProtocol)
	}
	return nil
}

// request builds a resty request carrying the standard cloud headers.
func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().
		SetContext(ctx).
		SetHeaders(map[string]string{
			"appId":           "Nexecur",
			"lang":            "fr-FR",
			"clientType":      "1183", // iOS
			"User-Agent":      "HikConnect/1.0.2 (iPhone; iOS 26.2; Scale/3.00)",
			"clientVersion":   "1.0.2.20250404",
			"ssid":            c.ssid,
			"netType":         "WIFI",
			"Accept-Language": "fr-FR;q=1, io-FR;q=0.9",
			"featureCode":     c.featureCode,
			"osVersion":       "26.2",
			"Accept":          "*/*",
		})
	if c.sessionID != "" {
		req.SetHeader("sessionId", c.sessionID)
	}
	if c.userInfo.CustomNo != "" {
		req.SetHeader("customno", c.userInfo.CustomNo)
	}
	if c.userInfo.AreaID != nil {
		req.SetHeader("areaId", stringify(c.userInfo.AreaID))
	}
	return req
}

func (c *Client) username() string {
	if c.userInfo.Username != "" {
		return c.userInfo.Username
	}
	return c.account
}

func (c *Client) devicesRaw() []map[string]any {
	out := make([]map[string]any, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, map[string]any{
			"deviceSerial": d.DeviceSerial,
			"name":         d.Name,
			"deviceType":   d.DeviceType,
			"status":       d.Status,
		})
	}
	return out
}

var innerBodyRe = regexp.MustCompile(`(?s)\r\n\r\n(\{.*\})`)

// parseHostStatus extracts the JSON document out of the tunneled inner HTTP
// response and decodes the alarm host status.
func parseHostStatus(inner string) (hostStatusDoc, map[string]any, error) {
	m := innerBodyRe.FindStringSubmatch(inner)
	if m == nil {
		return hostStatusDoc{}, nil, fmt.Errorf("no JSON body in inner response")
	}
	var doc hostStatusDoc
	if err := json.Unmarshal([]byte(m[1]), &doc); err != nil {
		return hostStatusDoc{}, nil, fmt.Errorf("decode host status: %w", err)
	}
	body := map[string]any{}
	if err := json.Unmarshal([]byte(m[1]), &body); err != nil {
		return hostStatusDoc{}, nil, fmt.Errorf("decode host status: %w", err)
	}
	return doc, body, nil
}

// formatAccount normalizes the login account. Emails pass through; phone
// numbers are cleaned and prefixed with the country code, keeping the
// leading zero the API expects (33 + 0612345678 = 330612345678).
func formatAccount(countryCode, account string) string {
	account = strings.TrimSpace(account)
	if strings.Contains(account, "@") {
		return account
	}
	phone := strings.NewReplacer(" ", "", "-", "", ".", "").Replace(account)
	code := strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	return code + phone
}

// generateFeatureCode derives the per-instance random device fingerprint.
func generateFeatureCode() string {
	return md5hex(uuid.NewString())
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

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
