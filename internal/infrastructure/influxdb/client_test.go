package influxdb

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

type recordingWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *recordingWriter) WritePoint(point *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, point)
}

func (w *recordingWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func newTestClient() (*Client, *recordingWriter) {
	w := &recordingWriter{}
	return &Client{writer: w, connected: true}, w
}

// fakeInflux answers pings and records line protocol sent to /write.
type fakeInflux struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeInflux) handler(healthy bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ping"):
			if !healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/write"):
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (f *fakeInflux) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "graylogic",
		Bucket:        "telemetry",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	_, err := Connect(t.Context(), cfg)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(t.Context(), testConfig("http://127.0.0.1:1"))
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestConnect_Unhealthy(t *testing.T) {
	srv := httptest.NewServer((&fakeInflux{}).handler(false))
	defer srv.Close()

	_, err := Connect(t.Context(), testConfig(srv.URL))
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestConnect_WritesTelemetry(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake.handler(true))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.BatchSize = 0
	cfg.FlushInterval = -1
	client, err := Connect(t.Context(), cfg)
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck // Test cleanup

	require.True(t, client.IsConnected())
	require.NoError(t, client.HealthCheck(t.Context()))

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client.WriteTelemetry("thermo-1", map[string]any{"temperature": 21.5}, ts)
	client.Flush()

	assert.Eventually(t, func() bool {
		for _, line := range fake.received() {
			if strings.HasPrefix(line, "device_telemetry,device_id=thermo-1 temperature=21.5") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWriteTelemetry_BuildsPoint(t *testing.T) {
	client, w := newTestClient()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	client.WriteTelemetry("meter-7", map[string]any{
		"power":  1200,
		"on":     true,
		"mode":   "eco",
		"nested": map[string]any{"a": 1},
		"list":   []any{1, 2},
		"empty":  nil,
	}, ts)

	require.Len(t, w.points, 1)
	p := w.points[0]
	assert.Equal(t, telemetryMeasurement, p.Name())
	assert.Equal(t, ts, p.Time())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, deviceIDTag, p.TagList()[0].Key)
	assert.Equal(t, "meter-7", p.TagList()[0].Value)

	assert.Equal(t,
		`device_telemetry,device_id=meter-7 mode="eco",on=true,power=1200i 1772366400000000000`,
		strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond)))
}

func TestWriteTelemetry_SkipsEmptyReadings(t *testing.T) {
	client, w := newTestClient()

	client.WriteTelemetry("dev1", map[string]any{}, time.Now())
	client.WriteTelemetry("dev1", map[string]any{"nested": map[string]any{}}, time.Now())
	client.WriteTelemetry("dev1", nil, time.Now())

	assert.Empty(t, w.points)
}

func TestWriteTelemetry_AfterClose(t *testing.T) {
	client, w := newTestClient()
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	client.WriteTelemetry("dev1", map[string]any{"v": 1}, time.Now())
	client.Flush()

	assert.Empty(t, w.points)
	assert.Equal(t, 1, w.flushes)
	assert.ErrorIs(t, client.HealthCheck(t.Context()), ErrNotConnected)
}

func TestTelemetryFields_JSONNumbers(t *testing.T) {
	fields := telemetryFields(map[string]any{
		"count": json.Number("42"),
		"ratio": json.Number("0.25"),
		"bad":   json.Number("x"),
		"":      1.0,
	})

	assert.Equal(t, map[string]any{"count": int64(42), "ratio": 0.25}, fields)
}

func TestSetOnError_WrapsWriteErrors(t *testing.T) {
	client, _ := newTestClient()
	errs := make(chan error, 1)
	client.SetOnError(func(err error) { errs <- err })

	ch := make(chan error, 1)
	ch <- assert.AnError
	close(ch)
	client.handleWriteErrors(ch)

	err := <-errs
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.ErrorIs(t, err, assert.AnError)
}
