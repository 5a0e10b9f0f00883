package colormeter

import (
	"database/sql"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/color-meter/internal/tools"
)

// Minutes averaging above this count as bright light
const BRIGHT_LUX = 10000

// Serve the sqlite db for download
func (m *ColorMeter) ServeResultsDB() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", "colormeter.db"))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, m.DBPath)
	}
}

// Serve the homepage
func (m *ColorMeter) ServeDashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, err := templateFiles.ReadFile("html/dashboard.html")
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read embedded html file: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	}
}

// Serve the controls for the sensor, start/stop/export/current-conditions
func (m *ColorMeter) ServeColorControls() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/controls.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := tmpl.Execute(w, nil); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

type Status struct {
	Connected       bool
	Running         bool
	InterruptMode   bool
	OperatingPoint  string
	IntegrationTime string
	Saturated       bool
}

// Status of the sensor and its autoranging state
func (m *ColorMeter) ServeSensorStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/status.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := tmpl.Execute(w, m.status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func (m *ColorMeter) status() Status {
	m.Lock()
	defer m.Unlock()

	status := Status{
		Connected:     m.connected(),
		Running:       m.running,
		InterruptMode: m.Signal != nil,
	}
	if status.Connected {
		idx, op := m.Sensor.OperatingPoint()
		status.OperatingPoint = fmt.Sprintf("#%d: %s", idx, op)
		status.IntegrationTime = fmt.Sprintf("%.1fms", m.Sensor.IntegrationTimeMs())
		status.Saturated = m.Sensor.Saturated()
	}
	return status
}

// Serve the results graphs, lux and color temperature over time
func (m *ColorMeter) ServeResultsGraph() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Get the date range for the graph from the request
		startDate, endDate := tools.ParseStartAndEndDate(r, m.Timezone)

		rows, err := m.ResultsDB.Query("SELECT lux, color_temp, created_at FROM color WHERE created_at BETWEEN ? AND ? ORDER BY created_at", startDate, endDate)
		if err != nil {
			logrus.Error(err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		// Prepare the data for the charts
		var luxValues, ctValues []opts.LineData
		var timeValues []string
		var maxLux int
		for rows.Next() {
			var lux, colorTemp float64
			var createdAt time.Time
			if err := rows.Scan(&lux, &colorTemp, &createdAt); err != nil {
				logrus.Error(err)
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if lux > float64(maxLux) {
				// Round up to the nearest 5000
				maxLux = int(math.Ceil(lux/5000) * 5000)
			}
			luxValues = append(luxValues, opts.LineData{Value: lux})
			ctValues = append(ctValues, opts.LineData{Value: colorTemp})
			timeValues = append(timeValues, createdAt.Format("2006-01-02 15:04:05"))
		}
		if err := rows.Err(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		luxChart := newTimeChart("Lux", fmt.Sprintf("%d", maxLux), timeValues, []referenceLevel{
			{500, "Shade", "DarkGrey"},
			{1000, "Overcast", "WhiteSmoke"},
			{10000, "Daylight", "SkyBlue"},
			{25000, "Full Sun", "Yellow"},
		})
		luxChart.AddSeries("Lux", luxValues)

		ctChart := newTimeChart("Color Temperature (K)", "10000", timeValues, []referenceLevel{
			{2700, "Warm White", "Orange"},
			{4000, "Neutral White", "WhiteSmoke"},
			{5500, "Daylight", "Yellow"},
			{6500, "Overcast Sky", "SkyBlue"},
		})
		ctChart.AddSeries("Color Temperature", ctValues)

		page := components.NewPage()
		page.AddCharts(luxChart, ctChart)

		w.Header().Set("Content-Type", "text/html")
		page.Render(w)
		// Trigger an update for the results tab
		w.Write([]byte(`<div id='resultUpdateTrigger' hx-post='/colormeter/results' hx-target='#resultsContent' hx-trigger='load'></div>`))
		w.Write([]byte(`<script>document.title = "Color Meter";</script>`))
	}
}

type referenceLevel struct {
	Value int
	Title string
	Color string
}

// A line chart over timeValues with a flat series for every reference level.
// The measured series is added last by the caller.
func newTimeChart(name string, yMax string, timeValues []string, levels []referenceLevel) *charts.Line {
	line := charts.NewLine()
	for _, level := range levels {
		data := make([]opts.LineData, len(timeValues))
		for i := range data {
			data[i] = opts.LineData{Value: level.Value}
		}
		line.AddSeries(level.Title, data, charts.WithLineChartOpts(opts.LineChart{
			Color: level.Color,
		}))
	}

	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeChalk,
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Name: "Time",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: name,
			Min:  "0",
			Max:  yMax,
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:      true,
			Trigger:   "axis",
			TriggerOn: "mousemove",
			Formatter: fmt.Sprintf("{a%d}: {c%d}<br> Time: {b0}", len(levels), len(levels)),
		}),
		charts.WithToolboxOpts(opts.Toolbox{
			Show: true,
			Feature: &opts.ToolBoxFeature{
				SaveAsImage: &opts.ToolBoxFeatureSaveAsImage{
					Show:  true,
					Title: "Save as Image",
					Name:  "color-meter",
				},
			},
		}),
	)
	line.SetXAxis(timeValues)
	return line
}

// Update the info in the results tab
func (m *ColorMeter) ServeResultsTab() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conditions, err := m.getCurrentConditions()
		if err != nil && err != sql.ErrNoRows {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		startDate, endDate := tools.ParseStartAndEndDate(r, m.Timezone)
		conditions, err = m.getHistoricalConditions(conditions, startDate, endDate)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		tmpl, err := parseTemplateFile("html/results.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		type ConditionsForDisplay struct {
			JobID                   string
			Lux                     string
			ColorTemperature        string
			ClearRatio              string
			RGBC                    string
			OperatingPoint          string
			DateRange               string
			RecordedHoursInRange    string
			BrightHoursInRange      string
			LightConditionInRange   string
			AverageLuxInRange       string
			AverageColorTempInRange string
			StartDate               string
			EndDate                 string
		}
		err = tmpl.Execute(w, ConditionsForDisplay{
			JobID:                   conditions.JobID,
			Lux:                     fmt.Sprintf("%.4f", conditions.Lux),
			ColorTemperature:        fmt.Sprintf("%.0fK", conditions.ColorTemperature),
			ClearRatio:              fmt.Sprintf("%.4f", conditions.ClearRatio),
			RGBC:                    fmt.Sprintf("%d / %d / %d / %d", conditions.Red, conditions.Green, conditions.Blue, conditions.Clear),
			OperatingPoint:          fmt.Sprintf("%s, %s", conditions.Gain, conditions.IntegrationTime),
			DateRange:               conditions.DateRange,
			RecordedHoursInRange:    fmt.Sprintf("%.4f", conditions.RecordedHoursInRange),
			BrightHoursInRange:      fmt.Sprintf("%.4f", conditions.BrightHoursInRange),
			LightConditionInRange:   conditions.LightConditionInRange,
			AverageLuxInRange:       fmt.Sprintf("%.4f", conditions.AverageLuxInRange),
			AverageColorTempInRange: fmt.Sprintf("%.0fK", conditions.AverageColorTempInRange),
			StartDate:               startDate,
			EndDate:                 endDate,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Summarize the readings recorded between startDate and endDate
func (m *ColorMeter) getHistoricalConditions(conditions Conditions, startDate string, endDate string) (Conditions, error) {
	if m.ResultsDB == nil {
		return conditions, nil
	}
	conditions.DateRange = fmt.Sprintf("%s - %s UTC", startDate, endDate)

	row := m.ResultsDB.QueryRow(`
    SELECT
        COALESCE(AVG(lux), 0),
        COALESCE(AVG(color_temp), 0),
        MIN(created_at),
        MAX(created_at)
    FROM color
    WHERE created_at BETWEEN ? AND ?`, startDate, endDate)
	var oldest, mostRecent sql.NullString
	err := row.Scan(&conditions.AverageLuxInRange, &conditions.AverageColorTempInRange, &oldest, &mostRecent)
	if err != nil {
		return conditions, err
	}
	if !oldest.Valid || !mostRecent.Valid {
		conditions.LightConditionInRange = "No Data in Range"
		return conditions, nil
	}

	// Count the minutes where the average lux was bright
	var brightMinutes sql.NullFloat64
	err = m.ResultsDB.QueryRow(`
    SELECT COUNT(*)
    FROM (
        SELECT AVG(lux) as avg_lux
        FROM color
        WHERE created_at BETWEEN ? AND ?
        GROUP BY strftime('%Y-%m-%d %H:%M', created_at)
    )
    WHERE avg_lux > ?`, startDate, endDate, BRIGHT_LUX).Scan(&brightMinutes)
	if err != nil {
		return conditions, err
	}
	if brightMinutes.Valid {
		conditions.BrightHoursInRange = brightMinutes.Float64 / 60
	}

	first, last, err := tools.StartAndEndDateToTime(normalizeTimestamp(oldest.String), normalizeTimestamp(mostRecent.String))
	if err != nil {
		return conditions, err
	}
	conditions.RecordedHoursInRange = last.Sub(first).Hours()
	conditions.LightConditionInRange = lightCondition(conditions.BrightHoursInRange, conditions.RecordedHoursInRange)
	return conditions, nil
}

// sqlite may hand timestamps back in RFC 3339 form
func normalizeTimestamp(ts string) string {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.UTC().Format("2006-01-02 15:04:05")
	}
	return ts
}

func lightCondition(brightHours, recordedHours float64) string {
	if recordedHours <= 0 {
		if brightHours > 0 {
			return "Bright"
		}
		return "Dim"
	}
	switch ratio := brightHours / recordedHours; {
	case ratio > 0.5:
		return "Bright"
	case ratio > 0.25:
		return "Mostly Bright"
	case ratio > 0.1:
		return "Mostly Dim"
	default:
		return "Dim"
	}
}

// Used to clear a div with htmx
func (m *ColorMeter) Clear() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
	}
}
