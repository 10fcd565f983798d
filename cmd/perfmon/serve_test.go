package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightflo/perfmon/pkg/collector"
	"github.com/insightflo/perfmon/pkg/types"
)

type analyticsServer struct {
	mu     sync.Mutex
	events []map[string]any
}

func (s *analyticsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var batch struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.events = append(s.events, batch.Events...)
	s.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (s *analyticsServer) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e["name"].(string))
	}
	return out
}

func testConfig(t *testing.T, endpoint string) *types.Config {
	t.Helper()
	cfg := types.DefaultConfig()
	cfg.Collector.SampleRate = 1
	cfg.Collector.MemoryInterval = 0
	cfg.Server.GRPCAddr = ""
	cfg.Transport.Endpoint = endpoint
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestServiceEndToEnd(t *testing.T) {
	sink := &analyticsServer{}
	upstream := httptest.NewServer(sink)
	defer upstream.Close()

	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	cfg := testConfig(t, upstream.URL+"/v1/events")

	svc, err := newService(context.Background(), cfg, logger, reg, reg)
	require.NoError(t, err)
	require.NoError(t, svc.start(context.Background()))
	assert.Equal(t, collector.StateCollecting, svc.collector.State())

	rec := httptest.NewRecorder()
	svc.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/metrics",
		strings.NewReader(`[{"type":"database","name":"SELECT * FROM feeds","value":600}]`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	alerts := svc.alerter.Recent()
	require.Len(t, alerts, 1)
	assert.Equal(t, types.SeverityCritical, alerts[0].Severity)

	stats, err := svc.collector.SeriesStatistics(string(types.MetricDatabase), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)

	svc.close(context.Background())

	names := sink.names()
	assert.Contains(t, names, "performance_alert")
	assert.Contains(t, names, "performance_metric")
	assert.Equal(t, collector.StateDisposed, svc.collector.State())
}

func TestServiceUsesRedisCooldownStore(t *testing.T) {
	mr := miniredis.RunT(t)
	upstream := httptest.NewServer(&analyticsServer{})
	defer upstream.Close()

	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	cfg := testConfig(t, upstream.URL)
	cfg.Alert.CooldownStore = "redis"
	cfg.Alert.RedisAddr = mr.Addr()

	svc, err := newService(context.Background(), cfg, logger, reg, reg)
	require.NoError(t, err)
	require.NoError(t, svc.start(context.Background()))
	defer svc.close(context.Background())

	point := types.NewDataPoint(types.MetricAPI, "GET /feeds", 5000, nil)
	svc.collector.RecordMetricData(context.Background(), point)
	svc.collector.RecordMetricData(context.Background(), point)

	assert.Len(t, svc.alerter.Recent(), 1)
	assert.True(t, mr.Exists(cfg.Alert.RedisPrefix+"api:response_time"))
}

func TestNewServiceFailsOnUnreachableRedis(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := testConfig(t, "http://localhost:8080/v1/events")
	cfg.Alert.CooldownStore = "redis"
	cfg.Alert.RedisAddr = "127.0.0.1:1"

	_, err := newService(context.Background(), cfg, logger, prometheus.NewRegistry(), nil)
	assert.Error(t, err)
}

func TestValidateConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perfmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("collector:\n  sample_rate: 0.5\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate-config", "--config", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		configPath = ""
	})

	require.NoError(t, Execute())

	var cfg types.Config
	require.NoError(t, json.Unmarshal(out.Bytes(), &cfg))
	assert.Equal(t, 0.5, cfg.Collector.SampleRate)
}

func TestValidateConfigCommandMasksDSNs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perfmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
alert:
  postgres_dsn: postgres://perfmon:pg-secret@db:5432/perfmon
  sentry_dsn: https://sentry-key@o1.ingest.sentry.io/42
transport:
  dsn: https://analytics-key@analytics.example/1
`), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate-config", "--config", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		configPath = ""
	})

	require.NoError(t, Execute())

	for _, secret := range []string{"pg-secret", "sentry-key", "analytics-key"} {
		assert.NotContains(t, out.String(), secret)
	}
	var cfg types.Config
	require.NoError(t, json.Unmarshal(out.Bytes(), &cfg))
	assert.Equal(t, redacted, cfg.Alert.PostgresDSN)
	assert.Equal(t, redacted, cfg.Alert.SentryDSN)
	assert.Equal(t, redacted, cfg.Transport.DSN)
}

func TestValidateConfigCommandRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perfmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  sender: carrier-pigeon\n"), 0o644))

	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"validate-config", "--config", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		configPath = ""
	})

	assert.Error(t, Execute())
}
