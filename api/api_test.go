package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bulwark/breaker"
	"github.com/ceyewan/bulwark/idem"
	"github.com/ceyewan/bulwark/mq"
	"github.com/ceyewan/bulwark/notify"
	"github.com/ceyewan/bulwark/orchestrator"
	"github.com/ceyewan/bulwark/provider"
	"github.com/ceyewan/bulwark/testkit"
	"github.com/ceyewan/bulwark/xerrors"
)

// fakeEngine 按 subject 返回预设结果
type fakeEngine struct {
	mu          sync.Mutex
	refreshed   bool
	invalidated []string
}

func (f *fakeEngine) ValidateIdentifier(_ context.Context, subject string, forceRefresh bool) (*orchestrator.Envelope[provider.Validation], error) {
	f.mu.Lock()
	f.refreshed = forceRefresh
	f.mu.Unlock()

	switch subject {
	case "bad":
		return nil, xerrors.Wrap(orchestrator.ErrInvalidSubject, "check digits")
	case "11222333000181":
		return &orchestrator.Envelope[provider.Validation]{
			Success: false,
			Error:   "not_found: CNPJ not found",
			Source:  "receitaws",
		}, nil
	case "down":
		return &orchestrator.Envelope[provider.Validation]{
			Success: false,
			Error:   "no validation service available",
			Source:  orchestrator.SourceFallback,
		}, nil
	}
	return &orchestrator.Envelope[provider.Validation]{
		Success: true,
		Data:    &provider.Validation{IsValid: true, Identifier: subject, LegalName: "ACME LTDA", Status: "ATIVA"},
		Source:  "brasilapi_CACHED",
	}, nil
}

func (f *fakeEngine) AnalyzeRisk(_ context.Context, subject string, _ bool) (*orchestrator.Envelope[provider.RiskReport], error) {
	return &orchestrator.Envelope[provider.RiskReport]{
		Success: true,
		Data:    orchestrator.MockRiskReport(subject),
		Source:  orchestrator.SourceFallback,
	}, nil
}

func (f *fakeEngine) Invalidate(_ context.Context, c provider.Capability, subject string) error {
	if c == provider.CapabilitySendNotification {
		return orchestrator.ErrUnknownCapability
	}
	f.mu.Lock()
	f.invalidated = append(f.invalidated, string(c)+":"+subject)
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) InvalidateCapability(_ context.Context, c provider.Capability) (int64, error) {
	if c == provider.CapabilitySendNotification {
		return 0, orchestrator.ErrUnknownCapability
	}
	return 7, nil
}

func (f *fakeEngine) Breakers() []breaker.Snapshot {
	return []breaker.Snapshot{{Name: "receitaws", State: breaker.StateOpen, ConsecutiveFailures: 5}}
}

func (f *fakeEngine) Status(context.Context) []orchestrator.ProviderStatus {
	return []orchestrator.ProviderStatus{{
		Descriptor: provider.Descriptor{Name: "brasilapi", Capability: provider.CapabilityValidateIdentifier},
		Available:  true,
	}}
}

type fixture struct {
	engine *fakeEngine
	hub    *notify.Hub
	server *Server
}

func newFixture(t *testing.T, cfg *Config, opts ...Option) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	q, err := mq.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	hub := notify.NewHub(4)
	t.Cleanup(func() { _ = hub.Close() })
	d, err := notify.NewDispatcher(notify.NewMemoryStore(), q, hub, nil)
	require.NoError(t, err)

	engine := &fakeEngine{}
	opts = append([]Option{WithLogger(testkit.NewLogger()), WithMeter(testkit.NewMeter())}, opts...)
	srv, err := New(engine, d, hub, cfg, opts...)
	require.NoError(t, err)
	return &fixture{engine: engine, hub: hub, server: srv}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestIdentifierRoutes(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name    string
		path    string
		code    int
		success bool
		source  string
	}{
		{"缓存命中", "/v1/identifiers/12345678000195", http.StatusOK, true, "brasilapi_CACHED"},
		{"确定性否定仍返回 200", "/v1/identifiers/11222333000181", http.StatusOK, false, "receitaws"},
		{"全部降级", "/v1/identifiers/down", http.StatusOK, false, orchestrator.SourceFallback},
		{"格式错误返回 400", "/v1/identifiers/bad", http.StatusBadRequest, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, tt.path, "")
			require.Equal(t, tt.code, w.Code)
			body := decode(t, w)
			if tt.code != http.StatusOK {
				assert.Contains(t, body["error"], "invalid subject")
				return
			}
			assert.Equal(t, tt.success, body["success"])
			assert.Equal(t, tt.source, body["source"])
		})
	}

	t.Run("refresh 参数", func(t *testing.T) {
		f.do(http.MethodGet, "/v1/identifiers/12345678000195?refresh=true", "")
		assert.True(t, f.engine.refreshed)
		f.do(http.MethodGet, "/v1/identifiers/12345678000195", "")
		assert.False(t, f.engine.refreshed)
	})

	t.Run("风险分析", func(t *testing.T) {
		w := f.do(http.MethodGet, "/v1/risk/52998224725", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, true, body["success"])
		data := body["data"].(map[string]any)
		assert.Equal(t, true, data["mock"])
	})
}

func TestCacheRoutes(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodDelete, "/v1/cache/validate-identifier/12345678000195", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"validate-identifier:12345678000195"}, f.engine.invalidated)

	w = f.do(http.MethodDelete, "/v1/cache/analyze-risk", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(7), decode(t, w)["deleted"])

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/v1/cache/unknown", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/v1/cache/send-notification", "").Code)
}

func TestObservabilityRoutes(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/v1/breakers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"OPEN"`)

	w = f.do(http.MethodGet, "/v1/providers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"brasilapi"`)

	w = f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestNotificationRoutes(t *testing.T) {
	f := newFixture(t, nil)

	body := `{"recipient":{"id":"supplier-1","email":"a@b.com.br","channels":["email"]},
		"notification":{"title":"Credenciamento aprovado","body":"ok"}}`
	w := f.do(http.MethodPost, "/v1/notifications", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	var report notify.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Deliveries, 3)
	email, ok := report.Delivery(notify.ChannelEmail)
	require.True(t, ok)
	assert.Equal(t, notify.StatusPending, email.Status)

	w = f.do(http.MethodGet, "/v1/notifications/"+report.NotificationID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"SKIPPED"`)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/notifications/missing", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/notifications", `{"recipient":`).Code)
	assert.Equal(t, http.StatusBadRequest,
		f.do(http.MethodPost, "/v1/notifications", `{"recipient":{"id":""},"notification":{"title":"x"}}`).Code)
}

func TestStream(t *testing.T) {
	f := newFixture(t, &Config{Heartbeat: time.Hour})
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/notifications/stream/supplier-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return strings.Join(lines, "\n")
			}
			lines = append(lines, line)
		}
	}
	assert.Contains(t, readEvent(), "event:ready")
	require.Eventually(t, func() bool { return f.hub.Subscribers("supplier-1") == 1 }, time.Second, 10*time.Millisecond)

	w := f.do(http.MethodPost, "/v1/notifications",
		`{"recipient":{"id":"supplier-1"},"notification":{"title":"Documento vencendo","body":"Renove"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"SENT"`)

	event := readEvent()
	assert.Contains(t, event, "event:notification")
	assert.Contains(t, event, "Documento vencendo")
}

func TestIdempotentDispatch(t *testing.T) {
	id, err := idem.New(&idem.Config{Driver: idem.DriverMemory})
	require.NoError(t, err)
	f := newFixture(t, nil, WithIdempotency(id))

	post := func(key string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader(
			`{"recipient":{"id":"supplier-1","email":"ops@acme.com.br"},"notification":{"title":"t","body":"b"}}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)
		f.server.Handler().ServeHTTP(w, req)
		return w
	}

	first := post("order-42")
	require.Equal(t, http.StatusAccepted, first.Code)
	second := post("order-42")
	require.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, "true", second.Header().Get(idem.ReplayHeader))
	assert.Equal(t, decode(t, first)["notification_id"], decode(t, second)["notification_id"], "重放同一次投递")

	other := post("order-43")
	assert.NotEqual(t, decode(t, first)["notification_id"], decode(t, other)["notification_id"])
}
