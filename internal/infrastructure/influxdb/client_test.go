package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu          sync.Mutex
	lines       []string
	writeStatus int
	query       string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{writeStatus: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			f.mu.Lock()
			f.query = r.URL.RawQuery
			f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
			status := f.writeStatus
			f.mu.Unlock()
			if status != http.StatusNoContent {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"code":"invalid","message":"bad line"}`))
				return
			}
			w.WriteHeader(status)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "mqttlink",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	defer client.Close()

	assert.True(t, client.IsConnected())
	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	assert.ErrorIs(t, err, influxdb.ErrDisabled)
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(context.Background(), testConfig(url))
	assert.ErrorIs(t, err, influxdb.ErrConnectionFailed)
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	srv := newFakeInflux(t)
	cfg := testConfig(srv.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()
	assert.True(t, client.IsConnected())
}

func TestWriteConnectionPoint(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	defer client.Close()

	ts := time.Unix(1767225600, 0)
	client.WriteConnectionPoint(influxdb.ConnectionPoint{
		Broker:        "tcp://broker:1883",
		Kind:          "reconnect_scheduled",
		State:         "reconnecting",
		Attempt:       2,
		Delay:         10 * time.Second,
		Subscriptions: 3,
		Error:         "connection lost",
		Time:          ts,
	})
	client.Flush()

	require.Eventually(t, func() bool { return len(srv.written()) == 1 }, 5*time.Second, 10*time.Millisecond)
	line := srv.written()[0]

	assert.True(t, strings.HasPrefix(line,
		"mqtt_connection,broker=tcp://broker:1883,kind=reconnect_scheduled,state=reconnecting "), line)
	assert.Contains(t, line, "attempt=2i")
	assert.Contains(t, line, "connected=false")
	assert.Contains(t, line, "delay_ms=10000i")
	assert.Contains(t, line, "subscriptions=3i")
	assert.Contains(t, line, `error="connection lost"`)
	assert.True(t, strings.HasSuffix(line, " 1767225600000000000"), line)

	srv.mu.Lock()
	query := srv.query
	srv.mu.Unlock()
	assert.Contains(t, query, "bucket=telemetry")
	assert.Contains(t, query, "org=mqttlink")
}

func TestWritePoint(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	defer client.Close()

	client.WritePoint("mqtt_messages", map[string]string{"topic": "a/b"}, map[string]any{"bytes": 12})
	client.Flush()

	require.Eventually(t, func() bool { return len(srv.written()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, strings.HasPrefix(srv.written()[0], "mqtt_messages,topic=a/b bytes=12i "))
}

func TestWriteErrorsReachCallback(t *testing.T) {
	srv := newFakeInflux(t)
	srv.writeStatus = http.StatusBadRequest

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	defer client.Close()

	errs := make(chan error, 4)
	client.SetOnError(func(err error) { errs <- err })

	client.WriteConnectionPoint(influxdb.ConnectionPoint{Broker: "b", Kind: "error", State: "connecting"})
	client.Flush()

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, influxdb.ErrWriteFailed), err)
		assert.GreaterOrEqual(t, client.WriteErrors(), int64(1))
	case <-time.After(5 * time.Second):
		t.Fatal("write error not reported")
	}
}

func TestClose(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
	assert.ErrorIs(t, client.HealthCheck(context.Background()), influxdb.ErrNotConnected)

	// writes after close are dropped
	client.WriteConnectionPoint(influxdb.ConnectionPoint{Broker: "b", Kind: "error", State: "connecting"})
	client.Flush()
	assert.Empty(t, srv.written())
}
