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

	"github.com/nerrad567/iotcore-client/internal/infrastructure/config"
	"github.com/nerrad567/iotcore-client/internal/infrastructure/influxdb"
)

// fakeInflux is an httptest server speaking the two endpoints the client uses.
type fakeInflux struct {
	*httptest.Server

	mu      sync.Mutex
	healthy bool
	lines   []string
	auth    []string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{healthy: true}
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		healthy := f.healthy
		f.mu.Unlock()
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v2/write", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		f.mu.Lock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) setHealthy(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = v
}

func (f *fakeInflux) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

const testDevice = "dev-1"

// testConfig returns a configuration pointing at url.
func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "iotc",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL), testDevice)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg, testDevice)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := newFakeInflux(t)
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(context.Background(), testConfig(url), testDevice)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	srv := newFakeInflux(t)
	srv.setHealthy(false)

	_, err := influxdb.Connect(context.Background(), testConfig(srv.URL), testDevice)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	srv := newFakeInflux(t)
	cfg := testConfig(srv.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(context.Background(), cfg, testDevice)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v with default batch settings", err)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL), testDevice)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	srv.setHealthy(false)
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail when server is unhealthy")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv.setHealthy(true)
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should fail with cancelled context")
	}
}

func TestPublishCompletedWritesLine(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL), testDevice)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.PublishCompleted("events", nil)

	// Close flushes and waits for in-flight batches.
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	lines := srv.received()
	if len(lines) != 1 {
		t.Fatalf("received %d lines, want 1: %v", len(lines), lines)
	}
	want := "publish,device=dev-1,topic=events ok=true "
	if !strings.HasPrefix(lines[0], want) {
		t.Errorf("line = %q, want prefix %q", lines[0], want)
	}

	srv.mu.Lock()
	auth := srv.auth[0]
	srv.mu.Unlock()
	if auth != "Token test-token" {
		t.Errorf("Authorization = %q, want token auth", auth)
	}
}

func TestWriteAfterClose(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL), testDevice)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	client.PublishCompleted("events", nil)

	if got := srv.received(); len(got) != 0 {
		t.Errorf("received %v after Close(), want nothing", got)
	}
	if !errors.Is(client.HealthCheck(context.Background()), influxdb.ErrNotConnected) {
		t.Error("HealthCheck() after Close() should return ErrNotConnected")
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
