package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/sbir-solicitations/internal/config"
	"github.com/JakeFAU/sbir-solicitations/internal/grants"
	"github.com/JakeFAU/sbir-solicitations/internal/storage/local"
	"github.com/JakeFAU/sbir-solicitations/internal/storage/memory"
)

const firstPage = `[
  {"solicitation_id": 1, "solicitation_title": "DoD SBIR 24.1", "agency": "DOD",
   "solicitation_topics": [{"topic_title": "Sensors", "subtopics": [{"subtopic_title": "Thermal"}]}]},
  {"solicitation_id": 2, "solicitation_title": "NASA SBIR 2024", "agency": "NASA"}
]`

func baseConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 8080, ShutdownGraceSeconds: 5},
		Upstream: config.UpstreamConfig{UserAgent: "sbir-test", TimeoutSeconds: 2},
		ETL:      config.ETLConfig{PageSize: 10, MaxOffset: 100, Concurrency: 2},
		DB:       config.DBConfig{Driver: config.DriverMemory},
		Archive:  config.ArchiveConfig{Driver: config.ArchiveNone, Prefix: "raw"},
	}
}

func upstreamServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/solicitations" {
			http.NotFound(w, r)
			return
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		w.Header().Set("Content-Type", "application/json")
		if start == 0 {
			_, _ = w.Write([]byte(firstPage))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAppRunsPipelineAndServesResults(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := upstreamServer(t, &calls)
	cfg := baseConfig()
	cfg.Upstream.BaseURL = srv.URL
	cfg.Archive.Driver = config.ArchiveMemory

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	p, err := a.Pipeline()
	require.NoError(t, err)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, grants.RunSucceeded, summary.Status)
	require.Equal(t, 2, summary.Fetched)
	require.Equal(t, grants.LoadSummary{
		Solicitations: grants.Counts{Inserted: 2},
		Topics:        grants.Counts{Inserted: 1},
		Subtopics:     grants.Counts{Inserted: 1},
	}, summary.Load)
	require.GreaterOrEqual(t, calls.Load(), int32(2))

	blobs, ok := a.Archive().(*memory.BlobStore)
	require.True(t, ok)
	_, contentType, found := blobs.Object(p.ArchivePath(summary.RunID))
	require.True(t, found)
	require.Equal(t, "application/json", contentType)

	rec := httptest.NewRecorder()
	a.APIServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/solicitations/search?agency=NASA", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"solicitationTitle":"NASA SBIR 2024"`)
}

func TestAppLocalArchive(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Archive = config.ArchiveConfig{Driver: config.ArchiveLocal, LocalDir: t.TempDir()}

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, ok := a.Archive().(*local.BlobStore)
	require.True(t, ok)
	require.Same(t, a.Store(), a.Catalog())
}

func TestAppRejectsUnknownDrivers(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.DB.Driver = "sqlite"
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown db driver: sqlite")

	cfg = baseConfig()
	cfg.Archive.Driver = "s3"
	_, err = New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown archive driver: s3")
}

func TestAppPostgresInvalidDSN(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.DB = config.DBConfig{Driver: config.DriverPostgres, DSN: "postgres://sbir@localhost:notaport/sbir"}
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "init postgres store")
}

func TestAppMigrateMemoryIsNoop(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	a, err := New(context.Background(), baseConfig(), zap.New(core))
	require.NoError(t, err)
	require.NoError(t, a.Migrate(context.Background()))
	require.Equal(t, 1, logs.FilterMessage("store has no schema to migrate").Len())
}

func TestAppPipelineRejectsBadUpstream(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Upstream.BaseURL = "ftp://example.com"
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, err = a.Pipeline()
	require.ErrorContains(t, err, "init upstream client")
}

func TestAppTracingLifecycle(t *testing.T) {
	cfg := baseConfig()
	cfg.Telemetry = config.TelemetryConfig{Enabled: true, ServiceName: "sbir-test"}

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Len(t, a.closers, 1)
	require.Equal(t, "tracer", a.closers[0].name)
	require.NoError(t, a.Close(context.Background()))
	require.Empty(t, a.closers)
}

func TestAppCloseRunsInReverseAndJoinsErrors(t *testing.T) {
	t.Parallel()

	var order []string
	a := &App{logger: zap.NewNop()}
	for _, name := range []string{"first", "second", "third"} {
		name := name
		a.onClose(name, func(context.Context) error {
			order = append(order, name)
			if name != "second" {
				return fmt.Errorf("%s broke", name)
			}
			return nil
		})
	}

	err := a.Close(context.Background())
	require.Equal(t, []string{"third", "second", "first"}, order)
	require.ErrorContains(t, err, "close third: third broke")
	require.ErrorContains(t, err, "close first: first broke")
	require.False(t, errors.Is(err, context.Canceled))

	require.NoError(t, a.Close(context.Background()), "closers run once")
}
