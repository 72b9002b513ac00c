package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/sbir-solicitations/internal/config"
	"github.com/JakeFAU/sbir-solicitations/internal/grants"
	"github.com/JakeFAU/sbir-solicitations/internal/storage/memory"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(memory.NewStore()), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(memory.NewStore()), http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	down := &stubCatalog{Store: memory.NewStore(), err: errors.New("connection refused")}
	rec = serve(t, newTestServer(down), http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "store unavailable")

	rec = serve(t, NewServer(nil, testConfig(), nil), http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(memory.NewStore())
	serve(t, server, http.MethodGet, "/healthz")

	rec := serve(t, server, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := NewServer(memory.NewStore(), cfg, zap.NewNop())

	rec := serve(t, server, http.MethodGet, "/v1/solicitations")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/solicitations", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, server, http.MethodGet, "/v1/solicitations?api_key=secret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, server, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code, "probes stay open")
}

func TestServer_CORS(t *testing.T) {
	t.Parallel()

	server := newTestServer(memory.NewStore())

	req := httptest.NewRequest(http.MethodGet, "/v1/solicitations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/solicitations", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/solicitations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	catalog := &stubCatalog{Store: memory.NewStore(), panicMsg: "nil map"}
	server := NewServer(catalog, testConfig(), zap.New(core))

	rec := serve(t, server, http.MethodGet, "/v1/solicitations")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(memory.NewStore()), http.MethodGet, "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestLoggingMiddlewareRecordsRequests(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	server := NewServer(memory.NewStore(), testConfig(), zap.New(core))

	rec := serve(t, server, http.MethodGet, "/v1/solicitations/99")
	require.Equal(t, http.StatusNotFound, rec.Code)

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "/v1/solicitations/99", fields["path"])
	require.EqualValues(t, http.StatusNotFound, fields["status"])
	require.Equal(t, rec.Header().Get("X-Request-ID"), fields["request_id"])
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{
			Port:                 8080,
			ShutdownGraceSeconds: 30,
			CORSOrigins:          []string{"http://localhost:3000"},
		},
	}
}

func newTestServer(catalog grants.Catalog) *Server {
	return NewServer(catalog, testConfig(), zap.NewNop())
}

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// stubCatalog records the last query it saw and can fail or panic on demand.
type stubCatalog struct {
	*memory.Store
	err         error
	panicMsg    string
	page        grants.Page
	solFilter   grants.SolicitationFilter
	topicFilter grants.TopicFilter
}

func (c *stubCatalog) check() error {
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	return c.err
}

func (c *stubCatalog) Ping(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.Store.Ping(ctx)
}

func (c *stubCatalog) ListSolicitations(ctx context.Context, page grants.Page) ([]grants.Solicitation, error) {
	c.page = page
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.Store.ListSolicitations(ctx, page)
}

func (c *stubCatalog) GetSolicitation(ctx context.Context, id int64) (grants.Solicitation, error) {
	if err := c.check(); err != nil {
		return grants.Solicitation{}, err
	}
	return c.Store.GetSolicitation(ctx, id)
}

func (c *stubCatalog) SearchSolicitations(
	ctx context.Context,
	f grants.SolicitationFilter,
) ([]grants.Solicitation, error) {
	c.solFilter = f
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.Store.SearchSolicitations(ctx, f)
}

func (c *stubCatalog) SearchTopics(ctx context.Context, f grants.TopicFilter) ([]grants.Topic, error) {
	c.topicFilter = f
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.Store.SearchTopics(ctx, f)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
