package videofied

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/trymwestin/nexecur/internal/core/panel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (*testWriter) Write(p []byte) (int, error) { return len(p), nil }

// Reference vectors computed independently from the documented procedure
// (UTF-16LE password, base64-decoded salt prepended, SHA-1/SHA-256, base64).
func TestComputeHashesVectors(t *testing.T) {
	cases := []struct {
		password string
		saltB64  string
		wantPwd  string
		wantPin  string
	}{
		{
			password: "1234",
			saltB64:  "AQIDBAUGBwgJCgsMDQ4PEA==",
			wantPwd:  "5mSIsHvSbwwRyITRh4bnHr8hqI+JAaFOuV1wFQNAqQ8=",
			wantPin:  "wKXW6lyr8ScSaYpR3kmk8W7mWD0=",
		},
		{
			password: "s3cret!",
			saltB64:  "3q2+7wARIjM=",
			wantPwd:  "2YTtt2LfFUAXUM9fFj43e6U0mMC/5stZj08bH6H4kG0=",
			wantPin:  "JFTv312cBPnzi/e9fBGdCouhIog=",
		},
	}

	for _, tc := range cases {
		pwd, pin := computeHashes(tc.password, tc.saltB64)
		if pwd != tc.wantPwd {
			t.Errorf("computeHashes(%q, %q) pwd = %q, want %q", tc.password, tc.saltB64, pwd, tc.wantPwd)
		}
		if pin != tc.wantPin {
			t.Errorf("computeHashes(%q, %q) pin = %q, want %q", tc.password, tc.saltB64, pin, tc.wantPin)
		}
	}
}

func TestComputeHashesDeterministic(t *testing.T) {
	p1, n1 := computeHashes("abcdef", "c2FsdHNhbHQ=")
	p2, n2 := computeHashes("abcdef", "c2FsdHNhbHQ=")
	if p1 != p2 || n1 != n2 {
		t.Fatalf("computeHashes not deterministic: (%q,%q) vs (%q,%q)", p1, n1, p2, n2)
	}
}

// panelServer is a stateful mock of the Videofied cloud.
type panelServer struct {
	mu sync.Mutex

	armed        int
	pendingTicks int // pending=1 reported for this many check calls

	saltCalls  int
	siteCalls  int
	checkCalls []time.Time
	orderCalls int
}

func (s *panelServer) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("/webservices/salt", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.saltCalls++
		s.mu.Unlock()
		writeJSON(w, map[string]any{"status": 0, "message": "OK", "salt": "AQIDBAUGBwgJCgsMDQ4PEA=="})
	})
	mux.HandleFunc("/webservices/site", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.siteCalls++
		armed := s.armed
		s.mu.Unlock()
		writeJSON(w, map[string]any{
			"status": 0, "message": "OK",
			"token":        "tok-123",
			"panel_status": armed,
			"cameras": []map[string]any{
				{"serial": "CAM001", "name": "Porch"},
			},
		})
	})
	mux.HandleFunc("/webservices/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": 0, "message": "OK", "id_device": "dev-42"})
	})
	mux.HandleFunc("/webservices/panel-status", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status int `json:"status"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.orderCalls++
		s.armed = body.Status
		pending := 0
		if s.pendingTicks > 0 {
			pending = 1
		}
		s.mu.Unlock()
		writeJSON(w, map[string]any{"status": 0, "message": "OK", "pending": pending})
	})
	mux.HandleFunc("/webservices/check-panel-status", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.checkCalls = append(s.checkCalls, time.Now())
		still := 0
		if s.pendingTicks > 0 {
			s.pendingTicks--
			still = 1
		}
		s.mu.Unlock()
		writeJSON(w, map[string]any{"status": 0, "message": "OK", "still_pending": still})
	})
	mux.HandleFunc("/webservices/stream", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Serial string `json:"serial"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Serial != "CAM001" {
			writeJSON(w, map[string]any{"status": 1, "message": "KO"})
			return
		}
		writeJSON(w, map[string]any{"status": 0, "message": "OK", "uri": "rtsp://example/stream"})
	})
	return mux
}

func newTestClient(t *testing.T, srv *panelServer) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	c := New(Config{
		BaseURL:  ts.URL,
		SiteID:   "site-1",
		Password: "1234",
	}, testLogger())
	return c, ts
}

func TestLoginObtainsTokenAndDevice(t *testing.T) {
	c, _ := newTestClient(t, &panelServer{})

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if c.Token() != "tok-123" {
		t.Errorf("token = %q, want tok-123", c.Token())
	}
	if c.DeviceID() != "dev-42" {
		t.Errorf("device id = %q, want dev-42", c.DeviceID())
	}
}

func TestLoginFailsWithoutToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/webservices/salt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": 0, "message": "OK", "salt": "c2FsdA=="})
	})
	mux.HandleFunc("/webservices/site", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": 0, "message": "OK"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, SiteID: "s", Password: "p"}, testLogger())
	err := c.Login(context.Background())
	if !errors.Is(err, panel.ErrAuth) {
		t.Fatalf("Login error = %v, want ErrAuth", err)
	}
}

func TestStatusRederivesSaltPerCall(t *testing.T) {
	srv := &panelServer{}
	c, _ := newTestClient(t, srv)

	ctx := context.Background()
	if _, err := c.Status(ctx); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if _, err := c.Status(ctx); err != nil {
		t.Fatalf("Status: %v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	// One salt for the login sequence plus one per status call.
	if srv.saltCalls != 3 {
		t.Errorf("salt calls = %d, want 3", srv.saltCalls)
	}
}

func TestArmRoundTrip(t *testing.T) {
	srv := &panelServer{}
	c, _ := newTestClient(t, srv)
	ctx := context.Background()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != panel.Disarmed {
		t.Fatalf("initial status = %v, want disarmed", st.Status)
	}

	if err := c.SetArmed(ctx, true); err != nil {
		t.Fatalf("SetArmed: %v", err)
	}

	st, err = c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != panel.Away {
		t.Errorf("status after arm = %v, want away", st.Status)
	}
	if st.Capabilities.Home {
		t.Error("videofied should not report home capability")
	}
}

func TestSetArmedPollsUntilDone(t *testing.T) {
	const ticks = 3
	srv := &panelServer{pendingTicks: ticks}
	c, _ := newTestClient(t, srv)
	c.token = "tok-123"
	c.deviceID = "dev-42"
	c.pollInterval = 20 * time.Millisecond
	c.pollCeiling = 600 * time.Millisecond

	if err := c.SetArmed(context.Background(), true); err != nil {
		t.Fatalf("SetArmed: %v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if got := len(srv.checkCalls); got != ticks+1 {
		t.Fatalf("check calls = %d, want %d", got, ticks+1)
	}
	for i := 1; i < len(srv.checkCalls); i++ {
		if gap := srv.checkCalls[i].Sub(srv.checkCalls[i-1]); gap < c.pollInterval {
			t.Errorf("poll gap %d = %v, want >= %v", i, gap, c.pollInterval)
		}
	}
}

func TestSetArmedTimesOutAtCeiling(t *testing.T) {
	srv := &panelServer{pendingTicks: 1 << 30} // never clears
	c, _ := newTestClient(t, srv)
	c.token = "tok-123"
	c.deviceID = "dev-42"
	c.pollInterval = 10 * time.Millisecond
	c.pollCeiling = 100 * time.Millisecond

	start := time.Now()
	err := c.SetArmed(context.Background(), true)
	elapsed := time.Since(start)

	if !errors.Is(err, panel.ErrTimeout) {
		t.Fatalf("SetArmed error = %v, want ErrTimeout", err)
	}
	if elapsed < c.pollCeiling {
		t.Errorf("timed out after %v, must not be sooner than %v", elapsed, c.pollCeiling)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if want := int(c.pollCeiling / c.pollInterval); len(srv.checkCalls) != want {
		t.Errorf("check calls = %d, want %d", len(srv.checkCalls), want)
	}
}

func TestStreamURL(t *testing.T) {
	c, _ := newTestClient(t, &panelServer{})
	ctx := context.Background()

	url, err := c.StreamURL(ctx, "CAM001")
	if err != nil {
		t.Fatalf("StreamURL: %v", err)
	}
	if url != "rtsp://example/stream" {
		t.Errorf("url = %q", url)
	}

	if _, err := c.StreamURL(ctx, "BOGUS"); !errors.Is(err, panel.ErrProtocol) {
		t.Errorf("StreamURL(BOGUS) error = %v, want ErrProtocol", err)
	}
}

func TestStatusTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, SiteID: "s", Password: "p"}, testLogger())
	c.token = "tok"
	c.deviceID = "dev"

	if _, err := c.Status(context.Background()); !errors.Is(err, panel.ErrProtocol) {
		t.Fatalf("Status error = %v, want ErrProtocol", err)
	}
}
