package colormeter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ztkent/color-meter/internal/tools"
	"github.com/ztkent/color-meter/tcs34725"
)

func newTestMeter(t *testing.T, bus tcs34725.Bus, opts ...tcs34725.Option) *ColorMeter {
	t.Helper()
	opts = append([]tcs34725.Option{tcs34725.WithSleep(func(time.Duration) {})}, opts...)
	sensor, err := tcs34725.NewAutoRangingSensor(bus, opts...)
	require.NoError(t, err)
	sensor.Initialize()

	dbPath := filepath.Join(t.TempDir(), "colormeter.db")
	db, err := tools.ConnectSqlite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewColorMeter(sensor, db, tools.Config{
		RecordInterval: 10 * time.Millisecond,
		MaxJobDuration: time.Minute,
		Timezone:       time.UTC,
		DBPath:         dbPath,
	})
}

// fixedBus always returns the same channels
type fixedBus struct {
	ch tcs34725.Channels
}

func (b *fixedBus) Probe() bool { return true }

func (b *fixedBus) Configure(gain byte, atime byte) error { return nil }

func (b *fixedBus) ReadChannels(blocking bool) (tcs34725.Channels, error) { return b.ch, nil }

// switchedSim is a simulator that can be powered down like the hardware
type switchedSim struct {
	*tcs34725.Simulator
	mu       sync.Mutex
	enabled  bool
	disables int
}

func (s *switchedSim) Configure(gain byte, atime byte) error {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	return s.Simulator.Configure(gain, atime)
}

func (s *switchedSim) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	s.disables++
	return nil
}

func (s *switchedSim) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

type signal bool

func (s signal) Ready() (bool, error) { return bool(s), nil }

func countRows(t *testing.T, m *ColorMeter) int {
	var count int
	require.NoError(t, m.ResultsDB.QueryRow("SELECT COUNT(*) FROM color").Scan(&count))
	return count
}

func TestMeasure_Polled(t *testing.T) {
	m := newTestMeter(t, tcs34725.NewSimulator(2000))

	result, ok, err := m.measure("job")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job", result.JobID)
	assert.InEpsilon(t, 2000.0, result.Lux, 0.01)
	assert.Equal(t, tcs34725.TCS34725_GAIN_16X, result.Gain)
	assert.Greater(t, result.ColorTemperature, 0.0)
}

func TestMeasure_InterruptMode(t *testing.T) {
	sim := tcs34725.NewSimulator(2000)
	m := newTestMeter(t, sim)

	m.Signal = signal(false)
	_, ok, err := m.measure("job")
	require.NoError(t, err)
	assert.False(t, ok)
	idx, _ := m.Sensor.OperatingPoint()
	assert.Equal(t, tcs34725.DefaultOperatingPointIndex, idx)

	// The first ready sample moves the operating point and is discarded
	m.Signal = sim
	_, ok, err = m.measure("job")
	require.NoError(t, err)
	assert.False(t, ok)

	result, ok, err := m.measure("job")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InEpsilon(t, 2000.0, result.Lux, 0.01)
}

func TestMeasure_DiscardsNegativeLux(t *testing.T) {
	table := []tcs34725.OperatingPoint{{Gain: tcs34725.TCS34725_GAIN_1X, ATime: tcs34725.TCS34725_INTEGRATIONTIME_154MS}}
	bus := &fixedBus{ch: tcs34725.Channels{R: 100, G: 100, B: 100, C: 250}}
	m := newTestMeter(t, bus, tcs34725.WithOperatingPoints(table, 0))

	_, ok, err := m.measure("job")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, m.Sensor.Reading().Lux, 0.0)
}

func TestRecordResultAndCurrentConditions(t *testing.T) {
	m := newTestMeter(t, tcs34725.NewSimulator(2000))
	result, ok, err := m.measure("job-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, m.recordResult(result))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/current-conditions", nil)
	rec := httptest.NewRecorder()
	m.CurrentConditions().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	var conditions Conditions
	require.NoError(t, json.Unmarshal([]byte(body["message"]), &conditions))
	assert.Equal(t, "job-1", conditions.JobID)
	assert.InEpsilon(t, 2000.0, conditions.Lux, 0.01)
	assert.Equal(t, result.Raw.C, conditions.Clear)
	assert.Equal(t, "Medium gain (16x)", conditions.Gain)
	assert.Equal(t, "154ms", conditions.IntegrationTime)
}

func TestCurrentConditions_NoRows(t *testing.T) {
	m := newTestMeter(t, tcs34725.NewSimulator(2000))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/current-conditions", nil)
	rec := httptest.NewRecorder()
	m.CurrentConditions().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordResult_RejectsNonFinite(t *testing.T) {
	m := newTestMeter(t, tcs34725.NewSimulator(2000))
	err := m.recordResult(ColorResults{JobID: "job", ColorTemperature: 0.0 / zero()})
	assert.Error(t, err)
	assert.Equal(t, 0, countRows(t, m))
}

func zero() float64 { return 0 }

func TestStartStop(t *testing.T) {
	m := newTestMeter(t, tcs34725.NewSimulator(2000))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.MonitorAndRecordResults(ctx)

	do := func(h http.HandlerFunc) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/x", nil))
		return rec.Code
	}

	require.Equal(t, http.StatusOK, do(m.Start()))
	assert.True(t, m.Running())
	assert.Equal(t, http.StatusBadRequest, do(m.Start()))

	require.Eventually(t, func() bool { return countRows(t, m) >= 2 }, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusOK, do(m.Stop()))
	assert.False(t, m.Running())
	assert.Equal(t, http.StatusBadRequest, do(m.Stop()))

	// A new job can start straight away
	require.Equal(t, http.StatusOK, do(m.Start()))
	require.Equal(t, http.StatusOK, do(m.Stop()))
}

func TestStartStop_PowersSensorPerJob(t *testing.T) {
	bus := &switchedSim{Simulator: tcs34725.NewSimulator(2000)}
	m := newTestMeter(t, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.MonitorAndRecordResults(ctx)

	require.NoError(t, m.Sensor.Suspend())
	require.False(t, bus.Enabled())

	rec := httptest.NewRecorder()
	m.Start().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/start", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bus.Enabled())
	require.Eventually(t, func() bool { return countRows(t, m) >= 1 }, 5*time.Second, 10*time.Millisecond)

	rec = httptest.NewRecorder()
	m.Stop().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Eventually(t, func() bool { return !bus.Enabled() }, 5*time.Second, 10*time.Millisecond)
}

func TestMeasure_InfraredSceneDiscarded(t *testing.T) {
	sim := tcs34725.NewSimulator(2000)
	sim.Infrared = 0.2
	m := newTestMeter(t, sim)

	_, ok, err := m.measure("job")
	require.NoError(t, err)
	assert.False(t, ok)

	reading := m.Sensor.Reading()
	assert.Greater(t, reading.IR, int32(reading.Raw.C))
	assert.Less(t, reading.Lux, 0.0)
	assert.Equal(t, 0, countRows(t, m))
}

func TestStart_SensorNotConnected(t *testing.T) {
	sim := tcs34725.NewSimulator(2000)
	sim.Present = false
	m := newTestMeter(t, sim)

	rec := httptest.NewRecorder()
	m.Start().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/colormeter/start", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "The sensor is not connected")
}

func TestServeSensorStatus(t *testing.T) {
	m := newTestMeter(t, tcs34725.NewSimulator(2000))
	rec := httptest.NewRecorder()
	m.ServeSensorStatus().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/colormeter/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Operating Point: #3: Low gain (4x), 154ms")
	assert.Contains(t, rec.Body.String(), "Idle")
}

func TestServeResultsGraphAndTab(t *testing.T) {
	m := newTestMeter(t, tcs34725.NewSimulator(2000))
	for i := 0; i < 3; i++ {
		result, ok, err := m.measure("job")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, m.recordResult(result))
	}

	rec := httptest.NewRecorder()
	m.ServeResultsGraph().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/colormeter/graph", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "echarts")
	assert.Contains(t, rec.Body.String(), "Color Temperature")

	rec = httptest.NewRecorder()
	m.ServeResultsTab().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/colormeter/results", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Medium gain (16x), 154ms")
}

func TestGetHistoricalConditions(t *testing.T) {
	m := newTestMeter(t, tcs34725.NewSimulator(2000))
	insert := `INSERT INTO color (job_id, lux, max_lux, color_temp, clear_ratio, red, green, blue, clear, ir, gain, atime, created_at)
		VALUES ('job', ?, 0, ?, 0, 0, 0, 0, 0, 0, 0, 192, ?)`
	for _, row := range []struct {
		lux, ct float64
		at      string
	}{
		{20000, 5000, "2024-06-01 12:00:00"},
		{20000, 6000, "2024-06-01 12:01:00"},
		{100, 4000, "2024-06-01 14:00:00"},
	} {
		_, err := m.ResultsDB.Exec(insert, row.lux, row.ct, row.at)
		require.NoError(t, err)
	}

	conditions, err := m.getHistoricalConditions(Conditions{}, "2024-06-01 00:00:00", "2024-06-02 00:00:00")
	require.NoError(t, err)
	assert.InDelta(t, 40100.0/3, conditions.AverageLuxInRange, 1e-6)
	assert.InDelta(t, 5000.0, conditions.AverageColorTempInRange, 1e-6)
	assert.InDelta(t, 2.0/60, conditions.BrightHoursInRange, 1e-9)
	assert.InDelta(t, 2.0, conditions.RecordedHoursInRange, 1e-9)
	assert.Equal(t, "Dim", conditions.LightConditionInRange)

	conditions, err = m.getHistoricalConditions(Conditions{}, "2023-01-01 00:00:00", "2023-01-02 00:00:00")
	require.NoError(t, err)
	assert.Equal(t, "No Data in Range", conditions.LightConditionInRange)
}

func TestLightCondition(t *testing.T) {
	assert.Equal(t, "Bright", lightCondition(3, 4))
	assert.Equal(t, "Mostly Bright", lightCondition(1.5, 4))
	assert.Equal(t, "Mostly Dim", lightCondition(0.5, 4))
	assert.Equal(t, "Dim", lightCondition(0, 4))
	assert.Equal(t, "Dim", lightCondition(0, 0))
}

func TestServeResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	ServeResponse(rec, httptest.NewRequest(http.MethodGet, "/colormeter/start", nil), "hello", http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, rec.Body.String(), `<div id="response" class="response">hello</div>`)

	rec = httptest.NewRecorder()
	ServeResponse(rec, httptest.NewRequest(http.MethodGet, "/api/v1/start", nil), "hello", http.StatusOK)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"hello"}`, rec.Body.String())
}
