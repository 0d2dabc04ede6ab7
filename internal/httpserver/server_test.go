package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/pulse/internal/collector"
	"github.com/tinytelemetry/pulse/internal/memstore"
	"github.com/tinytelemetry/pulse/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, conf collector.Config, metrics http.Handler) (*collector.Collector, http.Handler) {
	t.Helper()
	c := collector.New(conf)
	t.Cleanup(c.Stop)
	c.AddProvider(memstore.New())

	srv := NewServer("", c, metrics)
	return c, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, h := newTestServer(t, collector.Config{}, nil)

	w := do(t, h, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]any
	decode(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["enabled"] != true {
		t.Errorf("enabled = %v, want true", body["enabled"])
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	_, h := newTestServer(t, collector.Config{}, nil)

	w := do(t, h, http.MethodPost, "/api/health", "")
	if w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/health status = %d, want 404 or 405", w.Code)
	}
}

func TestMetricsRoundTrip(t *testing.T) {
	_, h := newTestServer(t, collector.Config{BufferSize: 1}, nil)

	for _, body := range []string{
		`{"name":"cpu","value":0.5,"unit":"ratio","tags":{"host":"a"}}`,
		`{"name":"cpu","value":0.7,"unit":"ratio","tags":{"host":"b"}}`,
		`{"name":"mem","value":0,"unit":"bytes"}`,
	} {
		if w := do(t, h, http.MethodPost, "/api/metrics", body); w.Code != http.StatusAccepted {
			t.Fatalf("POST %s status = %d: %s", body, w.Code, w.Body.String())
		}
	}

	tests := []struct {
		name   string
		target string
		want   []float64
	}{
		{"all", "/api/metrics", []float64{0.5, 0.7, 0}},
		{"by name", "/api/metrics?name=cpu", []float64{0.5, 0.7}},
		{"by tag", "/api/metrics?name=cpu&tag.host=b", []float64{0.7}},
		{"limit keeps newest", "/api/metrics?limit=1", []float64{0}},
		{"no match", "/api/metrics?name=disk", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, tt.target, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", w.Code, w.Body.String())
			}
			var body struct {
				Metrics []model.Metric `json:"metrics"`
				Count   int            `json:"count"`
			}
			decode(t, w, &body)
			if body.Count != len(tt.want) || len(body.Metrics) != len(tt.want) {
				t.Fatalf("got %d metrics (count %d), want %d", len(body.Metrics), body.Count, len(tt.want))
			}
			for i, v := range tt.want {
				if body.Metrics[i].Value != v {
					t.Errorf("metrics[%d].Value = %v, want %v", i, body.Metrics[i].Value, v)
				}
			}
		})
	}
}

func TestEmptyResultIsArray(t *testing.T) {
	_, h := newTestServer(t, collector.Config{}, nil)

	w := do(t, h, http.MethodGet, "/api/logs", "")
	if !strings.Contains(w.Body.String(), `"logs":[]`) {
		t.Errorf("body = %s, want an empty logs array", w.Body.String())
	}
}

func TestValidation(t *testing.T) {
	_, h := newTestServer(t, collector.Config{}, nil)

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"metric without value", http.MethodPost, "/api/metrics", `{"name":"cpu"}`},
		{"metric without name", http.MethodPost, "/api/metrics", `{"value":1}`},
		{"malformed json", http.MethodPost, "/api/metrics", `{"name":`},
		{"unknown log level", http.MethodPost, "/api/logs", `{"level":"trace","message":"x"}`},
		{"log without message", http.MethodPost, "/api/logs", `{"level":"info"}`},
		{"unknown severity", http.MethodPost, "/api/alerts",
			`{"type":"error","title":"t","message":"m","severity":"urgent","category":"security"}`},
		{"ack without by", http.MethodPost, "/api/alerts/x/ack", `{}`},
		{"negative limit", http.MethodGet, "/api/metrics?limit=-1", ""},
		{"bad level filter", http.MethodGet, "/api/logs?level=loud", ""},
		{"bad acknowledged filter", http.MethodGet, "/api/alerts?acknowledged=maybe", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.target, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d: %s", w.Code, http.StatusBadRequest, w.Body.String())
			}
		})
	}
}

func TestLogsFillClientFields(t *testing.T) {
	_, h := newTestServer(t, collector.Config{BufferSize: 1}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/logs",
		strings.NewReader(`{"level":"warn","message":"slow","context":"db","userId":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "probe/1.0")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /api/logs status = %d: %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/api/logs?level=warn&context=db&userId=u1", "")
	var body struct {
		Logs []model.Log `json:"logs"`
	}
	decode(t, w, &body)
	if len(body.Logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(body.Logs))
	}
	got := body.Logs[0]
	if got.Message != "slow" || got.UserAgent != "probe/1.0" || got.IP == "" {
		t.Errorf("log = %+v", got)
	}
}

func TestAlertLifecycle(t *testing.T) {
	_, h := newTestServer(t, collector.Config{}, nil)

	w := do(t, h, http.MethodPost, "/api/alerts",
		`{"type":"critical","title":"disk","message":"full","severity":"critical","category":"availability","source":"node-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/alerts status = %d: %s", w.Code, w.Body.String())
	}
	var created model.Alert
	decode(t, w, &created)
	if !strings.HasPrefix(created.ID, "alert_") || created.Timestamp == 0 {
		t.Fatalf("created alert = %+v", created)
	}

	w = do(t, h, http.MethodGet, "/api/alerts?acknowledged=false", "")
	var open struct {
		Count int `json:"count"`
	}
	decode(t, w, &open)
	if open.Count != 1 {
		t.Fatalf("unacknowledged count = %d, want 1", open.Count)
	}

	w = do(t, h, http.MethodPost, "/api/alerts/"+created.ID+"/ack", `{"by":"oncall"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("ack status = %d: %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/api/alerts?acknowledged=true&severity=critical", "")
	var acked struct {
		Alerts []model.Alert `json:"alerts"`
	}
	decode(t, w, &acked)
	if len(acked.Alerts) != 1 || acked.Alerts[0].AcknowledgedBy != "oncall" {
		t.Errorf("acknowledged alerts = %+v", acked.Alerts)
	}

	w = do(t, h, http.MethodPost, "/api/alerts/alert_0_missing/ack", `{"by":"oncall"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("ack unknown status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestFlushAndStats(t *testing.T) {
	_, h := newTestServer(t, collector.Config{BufferSize: 100}, nil)

	do(t, h, http.MethodPost, "/api/metrics", `{"name":"q","value":1}`)
	do(t, h, http.MethodPost, "/api/logs", `{"level":"info","message":"hi"}`)

	var stats model.Stats
	decode(t, do(t, h, http.MethodGet, "/api/stats", ""), &stats)
	if stats.BufferedMetrics != 1 || stats.BufferedLogs != 1 || stats.Providers != 1 {
		t.Fatalf("stats before flush = %+v", stats)
	}

	if w := do(t, h, http.MethodPost, "/api/flush", ""); w.Code != http.StatusOK {
		t.Fatalf("flush status = %d", w.Code)
	}

	decode(t, do(t, h, http.MethodGet, "/api/stats", ""), &stats)
	if stats.BufferedMetrics != 0 || stats.BufferedLogs != 0 {
		t.Errorf("stats after flush = %+v", stats)
	}
	var body struct {
		Count int `json:"count"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/metrics?name=q", ""), &body)
	if body.Count != 1 {
		t.Errorf("flushed metric count = %d, want 1", body.Count)
	}
}

func TestDisabledRejectsIngestion(t *testing.T) {
	c, h := newTestServer(t, collector.Config{Disabled: true}, nil)

	w := do(t, h, http.MethodPost, "/api/metrics", `{"name":"x","value":1}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled POST status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	c.SetEnabled(true)
	w = do(t, h, http.MethodPost, "/api/metrics", `{"name":"x","value":1}`)
	if w.Code != http.StatusAccepted {
		t.Errorf("enabled POST status = %d, want %d", w.Code, http.StatusAccepted)
	}
}

func TestScrapeEndpointMounted(t *testing.T) {
	scrape := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pulse_up 1\n"))
	})
	_, h := newTestServer(t, collector.Config{}, scrape)

	w := do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || w.Body.String() != "pulse_up 1\n" {
		t.Errorf("GET /metrics = %d %q", w.Code, w.Body.String())
	}

	_, bare := newTestServer(t, collector.Config{}, nil)
	if w := do(t, bare, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET /metrics without handler = %d, want 404", w.Code)
	}
}

func TestStartAndStop(t *testing.T) {
	c := collector.New()
	defer c.Stop()
	srv := NewServer("127.0.0.1:0", c, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get("http://" + srv.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

// disablingAPI switches the collector off just before an alert is sent.
type disablingAPI struct{ *collector.Collector }

func (d disablingAPI) SendAlert(alertType model.AlertType, title, message string, severity model.Severity,
	category model.Category, source string, metadata map[string]any) model.Alert {
	d.SetEnabled(false)
	return d.Collector.SendAlert(alertType, title, message, severity, category, source, metadata)
}

func TestSendAlertDisabledMidRequest(t *testing.T) {
	c := collector.New(collector.Config{})
	t.Cleanup(c.Stop)
	c.AddProvider(memstore.New())
	h := NewServer("", disablingAPI{c}, nil).Handler()

	w := do(t, h, http.MethodPost, "/api/alerts",
		`{"type":"error","title":"t","message":"m","severity":"high","category":"availability","source":"s"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusServiceUnavailable, w.Body.String())
	}
}
