package http

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"quotasigner/internal/config"
	"quotasigner/internal/domain"
	"quotasigner/internal/infra/keys/soft"
	"quotasigner/internal/infra/ledger"
	"quotasigner/internal/infra/metrics"
	"quotasigner/internal/infra/ratelimit"
	"quotasigner/internal/usecase"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// countingBackend records calls and can be switched to fail every attempt.
type countingBackend struct {
	*ledger.Memory
	mu    sync.Mutex
	calls int
	down  bool
}

func (b *countingBackend) hit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.down {
		return errors.New("connection refused")
	}
	return nil
}

func (b *countingBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *countingBackend) QuotaStatus(ctx context.Context, id domain.Identifier) (domain.QuotaStatus, error) {
	if err := b.hit(); err != nil {
		return domain.QuotaStatus{}, err
	}
	return b.Memory.QuotaStatus(ctx, id)
}

func (b *countingBackend) DomainState(ctx context.Context, d domain.Identifier) (domain.DomainState, error) {
	if err := b.hit(); err != nil {
		return domain.DomainState{}, err
	}
	return b.Memory.DomainState(ctx, d)
}

func (b *countingBackend) DisableDomain(ctx context.Context, d domain.Identifier) error {
	if err := b.hit(); err != nil {
		return err
	}
	return b.Memory.DisableDomain(ctx, d)
}

func (b *countingBackend) IncrementQuota(ctx context.Context, kind domain.QuotaKind, id domain.Identifier, amount int64, key string) error {
	if err := b.hit(); err != nil {
		return err
	}
	return b.Memory.IncrementQuota(ctx, kind, id, amount, key)
}

type testEnv struct {
	srv     *Server
	backend *countingBackend
	metrics *metrics.Metrics
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.API.PhoneNumberPrivacy = config.EndpointFamily{Enabled: true, ShouldFailOpen: true}
	cfg.API.Domains = config.EndpointFamily{Enabled: true, ShouldFailOpen: false}
	return cfg
}

func newTestEnv(t *testing.T, cfg config.Config, override func(*ServerDeps)) *testEnv {
	t.Helper()
	backend := &countingBackend{Memory: ledger.NewMemory()}
	m := metrics.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := ledger.NewClient(backend, domain.RetryPolicy{Timeout: time.Second, RetryCount: 1, RetryDelay: time.Millisecond},
		ledger.WithLogger(logger), ledger.WithMetrics(m))

	seed := bytes.Repeat([]byte{7}, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(seed)
	keys := soft.NewManager(map[domain.KeyRef]ed25519.PrivateKey{
		{Purpose: domain.KeyPurposePNP, Version: 1}:     priv,
		{Purpose: domain.KeyPurposeDomains, Version: 1}: priv,
	})

	pnpQuota := usecase.NewPnpQuotaService(client, nil)
	domainQuota := usecase.NewDomainQuotaService(client, nil)
	deps := ServerDeps{
		PnpQuota:      usecase.NewPnpQuotaAction(pnpQuota, cfg.PNPEndpoint(), logger),
		PnpSign:       usecase.NewPnpSignAction(pnpQuota, keys, 1, cfg.PNPEndpoint(), logger),
		DomainQuota:   usecase.NewDomainQuotaAction(domainQuota, cfg.DomainsEndpoint(), logger),
		DomainSign:    usecase.NewDomainSignAction(domainQuota, keys, 1, cfg.DomainsEndpoint(), logger),
		DomainDisable: usecase.NewDomainDisableAction(client, logger),
		Logger:        logger,
		Metrics:       m,
		Version:       "test",
	}
	if override != nil {
		override(&deps)
	}
	return &testEnv{srv: NewServer(cfg, deps), backend: backend, metrics: m}
}

func (e *testEnv) post(t *testing.T, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

const (
	signBody   = `{"account":"alice","blindedMessage":"bWVzc2FnZQ=="}`
	domainJSON = `{"name":"backup","version":"1","params":{"salt":"x"}}`
)

func domainID(t *testing.T) domain.Identifier {
	t.Helper()
	var d domain.DomainDescriptor
	if err := json.Unmarshal([]byte(domainJSON), &d); err != nil {
		t.Fatalf("decode domain: %v", err)
	}
	id, err := d.Identifier()
	if err != nil {
		t.Fatalf("identifier: %v", err)
	}
	return id
}

func TestDisabledEndpointNeverTouchesLedger(t *testing.T) {
	cfg := testConfig()
	cfg.API.PhoneNumberPrivacy.Enabled = false
	env := newTestEnv(t, cfg, nil)

	rec, out := env.post(t, endpointPnpSign, signBody)
	if rec.Code != http.StatusServiceUnavailable || out["code"] != "ENDPOINT_DISABLED" {
		t.Fatalf("expected 503 ENDPOINT_DISABLED, got %d %v", rec.Code, out)
	}
	if out["success"] != false {
		t.Fatalf("expected success=false, got %v", out)
	}
	if env.backend.callCount() != 0 {
		t.Fatalf("expected no ledger calls, got %d", env.backend.callCount())
	}
}

func TestInvalidJSONIsBadRequest(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	for _, body := range []string{`{`, `{"account":""}`, `{"account":"alice","blindedMessage":"%%%"}`} {
		rec, out := env.post(t, endpointPnpSign, body)
		if rec.Code != http.StatusBadRequest || out["code"] != "INVALID_REQUEST" {
			t.Fatalf("body %q: expected 400 INVALID_REQUEST, got %d %v", body, rec.Code, out)
		}
	}
	if env.backend.callCount() != 0 {
		t.Fatalf("invalid requests must not reach the ledger")
	}
}

func TestBodyLimit(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	body := `{"account":"` + strings.Repeat("a", maxBodyBytes) + `"}`

	rec, out := env.post(t, endpointPnpQuota, body)
	if rec.Code != http.StatusBadRequest || out["code"] != "REQUEST_TOO_LARGE" {
		t.Fatalf("expected 400 REQUEST_TOO_LARGE, got %d %v", rec.Code, out)
	}
}

func TestPnpSignConsumesQuota(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.backend.SetQuota("alice", domain.QuotaStatus{PerformedQueryCount: 4, TotalQuota: 5})

	rec, out := env.post(t, endpointPnpSign, signBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rec.Code, out)
	}
	if out["success"] != true || out["signature"] == "" || out["keyVersion"] != float64(1) {
		t.Fatalf("unexpected payload %v", out)
	}
	if out["performedQueryCount"] != float64(5) || out["totalQuota"] != float64(5) {
		t.Fatalf("expected post-consumption status, got %v", out)
	}
	if _, ok := out["degraded"]; ok {
		t.Fatalf("degraded must be omitted on normal responses")
	}

	rec, out = env.post(t, endpointPnpSign, signBody)
	if rec.Code != http.StatusForbidden || out["code"] != "QUOTA_EXCEEDED" {
		t.Fatalf("expected 403 QUOTA_EXCEEDED, got %d %v", rec.Code, out)
	}
}

func TestPnpFailOpenMarksDegraded(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.backend.down = true

	rec, out := env.post(t, endpointPnpSign, signBody)
	if rec.Code != http.StatusOK || out["degraded"] != true {
		t.Fatalf("expected degraded 200, got %d %v", rec.Code, out)
	}
	if out["signature"] == nil {
		t.Fatalf("degraded sign must still return a signature")
	}

	rec, out = env.post(t, endpointPnpQuota, `{"account":"alice"}`)
	if rec.Code != http.StatusOK || out["degraded"] != true {
		t.Fatalf("expected degraded quota, got %d %v", rec.Code, out)
	}
	if _, ok := out["totalQuota"]; ok {
		t.Fatalf("degraded quota must not report a status, got %v", out)
	}
}

func TestDomainFailClosed(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.backend.down = true

	rec, out := env.post(t, endpointDomainSign, `{"domain":`+domainJSON+`,"blindedMessage":"bQ=="}`)
	if rec.Code != http.StatusServiceUnavailable || out["code"] != "LEDGER_UNAVAILABLE" {
		t.Fatalf("expected 503 LEDGER_UNAVAILABLE, got %d %v", rec.Code, out)
	}
	if env.backend.callCount() != 2 {
		t.Fatalf("expected two attempts, got %d", env.backend.callCount())
	}
}

func TestDomainFailOpenMarksDegraded(t *testing.T) {
	cfg := testConfig()
	cfg.API.Domains.ShouldFailOpen = true
	env := newTestEnv(t, cfg, nil)
	env.backend.SetDomain(domain.DomainState{Domain: domainID(t), Quota: domain.QuotaStatus{TotalQuota: 3}})
	env.backend.down = true

	rec, out := env.post(t, endpointDomainSign, `{"domain":`+domainJSON+`,"blindedMessage":"bQ=="}`)
	if rec.Code != http.StatusOK || out["degraded"] != true {
		t.Fatalf("expected degraded 200, got %d %v", rec.Code, out)
	}
	if out["signature"] == nil {
		t.Fatalf("degraded sign must still return a signature")
	}
	if _, ok := out["performedQueryCount"]; ok {
		t.Fatalf("degraded sign must not report a status, got %v", out)
	}

	rec, out = env.post(t, endpointDomainQuota, `{"domain":`+domainJSON+`}`)
	if rec.Code != http.StatusOK || out["degraded"] != true {
		t.Fatalf("expected degraded quota, got %d %v", rec.Code, out)
	}

	env.backend.down = false
	state, err := env.backend.DomainState(context.Background(), domainID(t))
	if err != nil {
		t.Fatalf("domain state: %v", err)
	}
	if state.Quota.PerformedQueryCount != 0 {
		t.Fatalf("degraded sign must not charge quota, got %+v", state.Quota)
	}
}

func TestPnpSignRejectsUnloadedKeyVersion(t *testing.T) {
	backend := &countingBackend{Memory: ledger.NewMemory()}
	backend.SetQuota("alice", domain.QuotaStatus{TotalQuota: 5})
	client := ledger.NewClient(backend, domain.RetryPolicy{Timeout: time.Second, RetryCount: 1, RetryDelay: time.Millisecond})
	keys := soft.NewManager(map[domain.KeyRef]ed25519.PrivateKey{
		{Purpose: domain.KeyPurposePNP, Version: 2}: ed25519.NewKeyFromSeed(bytes.Repeat([]byte{9}, ed25519.SeedSize)),
	})
	cfg := testConfig()
	cfg.API.PhoneNumberPrivacy.ShouldFailOpen = false
	env := newTestEnv(t, cfg, func(d *ServerDeps) {
		d.PnpSign = usecase.NewPnpSignAction(usecase.NewPnpQuotaService(client, nil), keys, 2, cfg.PNPEndpoint(), nil)
	})

	rec, out := env.post(t, endpointPnpSign, `{"account":"alice","blindedMessage":"bWVzc2FnZQ==","keyVersion":1}`)
	if rec.Code != http.StatusBadRequest || out["code"] != "INVALID_REQUEST" {
		t.Fatalf("expected 400 INVALID_REQUEST, got %d %v", rec.Code, out)
	}
	if backend.callCount() != 0 {
		t.Fatalf("rejected key version must not reach the ledger, got %d calls", backend.callCount())
	}
	status, _ := backend.Memory.QuotaStatus(context.Background(), "alice")
	if status.PerformedQueryCount != 0 {
		t.Fatalf("rejected key version must not consume quota, got %+v", status)
	}

	rec, out = env.post(t, endpointPnpSign, signBody)
	if rec.Code != http.StatusOK || out["keyVersion"] != float64(2) {
		t.Fatalf("expected latest key to sign, got %d %v", rec.Code, out)
	}
}

func TestDomainDisableThenSign(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.backend.SetDomain(domain.DomainState{Domain: domainID(t), Quota: domain.QuotaStatus{TotalQuota: 3}})

	rec, out := env.post(t, endpointDomainSign, `{"domain":`+domainJSON+`,"blindedMessage":"bQ==","nonce":0}`)
	if rec.Code != http.StatusOK || out["performedQueryCount"] != float64(1) {
		t.Fatalf("expected signed, got %d %v", rec.Code, out)
	}

	rec, out = env.post(t, endpointDomainQuota, `{"domain":`+domainJSON+`}`)
	if rec.Code != http.StatusOK || out["totalQuota"] != float64(3) {
		t.Fatalf("expected quota, got %d %v", rec.Code, out)
	}
	if _, ok := out["disabled"]; ok {
		t.Fatalf("quota success body must not carry a disabled flag, got %v", out)
	}

	rec, out = env.post(t, endpointDomainDisable, `{"domain":`+domainJSON+`}`)
	if rec.Code != http.StatusOK || out["disabled"] != true {
		t.Fatalf("expected disable recorded, got %d %v", rec.Code, out)
	}

	for _, path := range []string{endpointDomainSign, endpointDomainQuota} {
		rec, out = env.post(t, path, `{"domain":`+domainJSON+`,"blindedMessage":"bQ=="}`)
		if rec.Code != http.StatusForbidden || out["code"] != "DOMAIN_DISABLED" {
			t.Fatalf("%s: expected 403 DOMAIN_DISABLED, got %d %v", path, rec.Code, out)
		}
		details, _ := out["details"].(map[string]any)
		if details["disabled"] != true || details["performedQueryCount"] != float64(1) || details["totalQuota"] != float64(3) {
			t.Fatalf("%s: unexpected details %v", path, out["details"])
		}
	}
}

func TestDomainNonceMismatch(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.backend.SetDomain(domain.DomainState{Domain: domainID(t), Quota: domain.QuotaStatus{PerformedQueryCount: 2, TotalQuota: 3}})

	rec, out := env.post(t, endpointDomainSign, `{"domain":`+domainJSON+`,"blindedMessage":"bQ==","nonce":1}`)
	if rec.Code != http.StatusForbidden || out["code"] != "NONCE_MISMATCH" {
		t.Fatalf("expected 403 NONCE_MISMATCH, got %d %v", rec.Code, out)
	}
}

type panicAction struct{}

func (a panicAction) Validate(usecase.PnpQuotaRequest) error { return nil }

func (a panicAction) Perform(context.Context, usecase.PnpQuotaRequest) usecase.Result {
	panic("boom")
}

func TestBoundaryRecoversPanic(t *testing.T) {
	env := newTestEnv(t, testConfig(), func(d *ServerDeps) {
		d.PnpQuota = panicAction{}
	})

	rec, out := env.post(t, endpointPnpQuota, `{"account":"alice"}`)
	if rec.Code != http.StatusInternalServerError || out["code"] != "UNKNOWN_ERROR" {
		t.Fatalf("expected 500 UNKNOWN_ERROR, got %d %v", rec.Code, out)
	}

	metricsRec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(metricsRec.Body.String(), "signer_errors_caught_in_endpoint_handler_total 1") {
		t.Fatalf("expected caught error to be counted")
	}
}

func TestBoundaryDoesNotOverwriteSentResponse(t *testing.T) {
	srv := newTestEnv(t, testConfig(), nil).srv
	m := metrics.New()
	srv.metrics = m
	r := gin.New()
	r.GET("/x", srv.boundary("/x", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late")
	}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "partial" {
		t.Fatalf("expected original response kept, got %d %q", rec.Code, rec.Body.String())
	}

	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(metricsRec.Body.String(), "signer_errors_after_response_sent_total 1") {
		t.Fatalf("expected late error to be counted")
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRequests = 1
	env := newTestEnv(t, cfg, func(d *ServerDeps) {
		d.RateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
	})
	env.backend.SetQuota("alice", domain.QuotaStatus{TotalQuota: 5})

	rec, _ := env.post(t, endpointPnpQuota, `{"account":"alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rec.Code)
	}
	if rec.Header().Get("RateLimit-Limit") != "1" {
		t.Fatalf("expected rate limit headers")
	}
	rec, out := env.post(t, endpointPnpQuota, `{"account":"alice"}`)
	if rec.Code != http.StatusTooManyRequests || out["code"] != "RATE_LIMITED" {
		t.Fatalf("expected 429, got %d %v", rec.Code, out)
	}
}

func TestStatusAndRequestID(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(headerRequestID, "req-1")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(headerRequestID) != "req-1" {
		t.Fatalf("expected request id echoed")
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["version"] != "test" {
		t.Fatalf("unexpected status %v", out)
	}
}
