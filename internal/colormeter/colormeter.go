package colormeter

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/color-meter/internal/tools"
	"github.com/ztkent/color-meter/tcs34725"
)

//go:embed html/*
var templateFiles embed.FS

// IntegrationSignal reports that the sensor finished an integration cycle.
// When set, the meter reads without blocking and relies on it instead.
type IntegrationSignal interface {
	Ready() (bool, error)
}

type ColorMeter struct {
	Sensor         *tcs34725.AutoRangingSensor
	Signal         IntegrationSignal
	ResultsChan    chan ColorResults
	ResultsDB      *sql.DB
	RecordInterval time.Duration
	MaxJobDuration time.Duration
	Timezone       *time.Location
	DBPath         string
	Pid            int

	running bool
	jobID   string
	cancel  context.CancelFunc
	// Guards the sensor and the job state. The sensor itself is not safe
	// for concurrent use. A polled measurement holds it for the whole
	// cycle, up to two integrations plus the settling wait, so status
	// requests can stall that long.
	*sync.Mutex
}

type ColorResults struct {
	JobID            string
	Lux              float64
	MaxLux           uint16
	ColorTemperature float64
	ClearRatio       float64
	Raw              tcs34725.Channels
	IR               int32
	Gain             byte
	ATime            byte
}

type Conditions struct {
	JobID                   string  `json:"jobID"`
	Lux                     float64 `json:"lux"`
	ColorTemperature        float64 `json:"colorTemperature"`
	ClearRatio              float64 `json:"clearRatio"`
	Red                     uint16  `json:"red"`
	Green                   uint16  `json:"green"`
	Blue                    uint16  `json:"blue"`
	Clear                   uint16  `json:"clear"`
	Gain                    string  `json:"gain"`
	IntegrationTime         string  `json:"integrationTime"`
	DateRange               string  `json:"dateRange"`
	RecordedHoursInRange    float64 `json:"recordedHoursInRange"`
	BrightHoursInRange      float64 `json:"brightHoursInRange"`
	LightConditionInRange   string  `json:"lightConditionInRange"`
	AverageLuxInRange       float64 `json:"averageLuxInRange"`
	AverageColorTempInRange float64 `json:"averageColorTempInRange"`
}

const (
	DEFAULT_MAX_JOB_DURATION = 8 * time.Hour
	DEFAULT_RECORD_INTERVAL  = 30 * time.Second
)

func NewColorMeter(sensor *tcs34725.AutoRangingSensor, db *sql.DB, cfg tools.Config) *ColorMeter {
	m := &ColorMeter{
		Sensor:         sensor,
		ResultsChan:    make(chan ColorResults),
		ResultsDB:      db,
		RecordInterval: cfg.RecordInterval,
		MaxJobDuration: cfg.MaxJobDuration,
		Timezone:       cfg.Timezone,
		DBPath:         cfg.DBPath,
		Mutex:          &sync.Mutex{},
	}
	if m.RecordInterval <= 0 {
		m.RecordInterval = DEFAULT_RECORD_INTERVAL
	}
	if m.MaxJobDuration <= 0 {
		m.MaxJobDuration = DEFAULT_MAX_JOB_DURATION
	}
	return m
}

func (m *ColorMeter) connected() bool {
	return m.Sensor != nil && m.Sensor.Available()
}

func (m *ColorMeter) Running() bool {
	m.Lock()
	defer m.Unlock()
	return m.running
}

// Start the sensor, and collect data in a loop
func (m *ColorMeter) Start() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logrus.Info("Starting a color reading job")
		if !m.connected() {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}

		m.Lock()
		if m.running {
			m.Unlock()
			ServeResponse(w, r, "The sensor is already started", http.StatusBadRequest)
			return
		}
		if err := m.Sensor.Resume(); err != nil {
			m.Unlock()
			logrus.Errorf("Failed to power up the sensor: %v", err)
			ServeResponse(w, r, "Failed to power up the sensor", http.StatusInternalServerError)
			return
		}
		// Create a new context with a timeout to manage the job lifecycle
		ctx, cancel := context.WithTimeout(context.Background(), m.MaxJobDuration)
		m.cancel = cancel
		m.running = true
		m.jobID = uuid.New().String()
		jobID := m.jobID
		m.Unlock()

		go m.runJob(ctx, cancel, jobID)
		ServeResponse(w, r, "Color Reading Started", http.StatusOK)
	}
}

func (m *ColorMeter) runJob(ctx context.Context, cancel context.CancelFunc, jobID string) {
	defer func() {
		cancel()
		m.Lock()
		// A newer job may already own the meter
		if m.jobID == jobID {
			m.running = false
			m.jobID = ""
		}
		if !m.running {
			if err := m.Sensor.Suspend(); err != nil {
				logrus.Errorf("Failed to power down the sensor: %v", err)
			}
		}
		m.Unlock()
	}()

	ticker := time.NewTicker(m.RecordInterval)
	defer ticker.Stop()
	for {
		result, ok, err := m.measure(jobID)
		if err != nil {
			logrus.Errorf("The sensor failed to take a measurement: %v", err)
		} else if ok {
			select {
			case m.ResultsChan <- result:
			case <-ctx.Done():
			}
		}

		select {
		case <-ctx.Done():
			logrus.Infof("Job %s stopped: %v", jobID, ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

// Run one measurement cycle. ok is false when the sample has to be skipped:
// the sensor is autoranging, saturated, not ready yet, or the lux estimate
// is out of range.
func (m *ColorMeter) measure(jobID string) (ColorResults, bool, error) {
	m.Lock()
	defer m.Unlock()

	var valid bool
	var err error
	if m.Signal != nil {
		var ready bool
		ready, err = m.Signal.Ready()
		if err != nil || !ready {
			return ColorResults{}, false, err
		}
		valid, err = m.Sensor.UpdateMeasurement(true)
	} else {
		valid, err = m.Sensor.UpdateMeasurement(false)
	}
	if err != nil || !valid {
		if m.Sensor.Saturated() {
			logrus.Debug("Sample saturated, skipping")
		}
		return ColorResults{}, false, err
	}

	m.Sensor.UpdateLux()
	m.Sensor.UpdateColorTemperature()
	m.Sensor.UpdateClearChannelRatio()
	reading := m.Sensor.Reading()
	if reading.Lux < 0 || reading.Lux > float64(reading.MaxLux) {
		logrus.Debugf("Lux %.2f outside [0, %d], skipping sample", reading.Lux, reading.MaxLux)
		return ColorResults{}, false, nil
	}

	return ColorResults{
		JobID:            jobID,
		Lux:              reading.Lux,
		MaxLux:           reading.MaxLux,
		ColorTemperature: reading.ColorTemperature,
		ClearRatio:       reading.ClearRatio,
		Raw:              reading.Raw,
		IR:               reading.IR,
		Gain:             reading.Gain,
		ATime:            reading.ATime,
	}, true, nil
}

// Stop the job, and cancel its context
func (m *ColorMeter) Stop() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected() {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		m.Lock()
		if !m.running {
			m.Unlock()
			ServeResponse(w, r, "The sensor is already stopped", http.StatusBadRequest)
			return
		}
		m.cancel()
		m.running = false
		m.jobID = ""
		m.Unlock()

		ServeResponse(w, r, "Color Reading Stopped", http.StatusOK)
	}
}

// Serve data about the most recent entry saved to the db
func (m *ColorMeter) CurrentConditions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected() {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		conditions, err := m.getCurrentConditions()
		if err == sql.ErrNoRows {
			ServeResponse(w, r, "No readings recorded yet", http.StatusNotFound)
			return
		} else if err != nil {
			logrus.Error(err)
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}

		conditionsData, err := json.Marshal(conditions)
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		ServeResponse(w, r, string(conditionsData), http.StatusOK)
	}
}

// Return the most recent entry saved to the db
func (m *ColorMeter) getCurrentConditions() (Conditions, error) {
	conditions := Conditions{}
	var gain, atime byte
	row := m.ResultsDB.QueryRow(`
    SELECT job_id, lux, color_temp, clear_ratio, red, green, blue, clear, gain, atime
    FROM color ORDER BY id DESC LIMIT 1`)
	err := row.Scan(&conditions.JobID, &conditions.Lux, &conditions.ColorTemperature, &conditions.ClearRatio,
		&conditions.Red, &conditions.Green, &conditions.Blue, &conditions.Clear, &gain, &atime)
	if err != nil {
		return Conditions{}, err
	}
	conditions.Gain = tcs34725.GainToString(gain)
	conditions.IntegrationTime = tcs34725.IntegrationTimeToString(atime)
	return conditions, nil
}

// Populate the response div with a message, or reply with a JSON message
func ServeResponse(w http.ResponseWriter, r *http.Request, message string, status int) {
	if strings.Contains(r.URL.Path, "/api/v1/") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"message": message})
		return
	}

	tmpl, err := parseTemplateFile("html/response.gohtml")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, message); err != nil {
		logrus.Errorf("Failed to render response: %v", err)
	}
}

func parseTemplateFile(path string) (*template.Template, error) {
	content, err := templateFiles.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded template: %w", err)
	}
	tmpl, err := template.New(path).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return tmpl, nil
}

// Read from ResultsChan, write the results to sqlite
func (m *ColorMeter) MonitorAndRecordResults(ctx context.Context) {
	logrus.Info("Monitoring for new color readings...")
	for {
		select {
		case <-ctx.Done():
			return
		case result := <-m.ResultsChan:
			logrus.Infof("- JobID: %s, Lux: %.5f, CCT: %.0fK", result.JobID, result.Lux, result.ColorTemperature)
			if err := m.recordResult(result); err != nil {
				logrus.Error(err)
			}
		}
	}
}

func (m *ColorMeter) recordResult(result ColorResults) error {
	for name, v := range map[string]float64{
		"lux":         result.Lux,
		"color temp":  result.ColorTemperature,
		"clear ratio": result.ClearRatio,
	} {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return fmt.Errorf("%s is invalid, skipping record", name)
		}
	}
	_, err := m.ResultsDB.Exec(`
    INSERT INTO color (job_id, lux, max_lux, color_temp, clear_ratio, red, green, blue, clear, ir, gain, atime)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.JobID,
		result.Lux,
		result.MaxLux,
		result.ColorTemperature,
		result.ClearRatio,
		result.Raw.R,
		result.Raw.G,
		result.Raw.B,
		result.Raw.C,
		result.IR,
		result.Gain,
		result.ATime,
	)
	return err
}
