package uvmeter

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
	log "github.com/sirupsen/logrus"
	"github.com/ztkent/uv-meter/internal/tools"
	"github.com/ztkent/uv-meter/ltr390"
)

// level is a horizontal reference line drawn behind a series.
type level struct {
	Value float64
	Title string
	Color string
}

var luxLevels = []level{
	{500, "Shade", "DarkGrey"},
	{1000, "Partial Shade", "WhiteSmoke"},
	{10000, "Partial Sun", "SkyBlue"},
	{25000, "Full Sun", "Yellow"},
}

var uviLevels = []level{
	{3, "Moderate", "Yellow"},
	{6, "High", "Orange"},
	{8, "Very High", "Red"},
	{11, "Extreme", "Violet"},
}

// Serve the sqlite db for download
func (m *UVMeter) ServeResultsDB() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := m.DBPath
		if path == "" {
			path = DB_PATH
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", "uvmeter.db"))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, path)
	}
}

// Serve the homepage
func (m *UVMeter) ServeDashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileContent, err := templateFiles.ReadFile("html/dashboard.html")
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read embedded html file: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write(fileContent)
	}
}

// Serve the controls for the sensor, start/stop/export/current-conditions/configure
func (m *UVMeter) ServeUVControls() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/controls.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		type Controls struct {
			Gains       []string
			Resolutions []string
			Rates       []string
		}
		controls := Controls{}
		for _, g := range ltr390.Gains {
			controls.Gains = append(controls.Gains, g.String())
		}
		for _, res := range ltr390.Resolutions {
			controls.Resolutions = append(controls.Resolutions, res.String())
		}
		for _, rate := range ltr390.Rates {
			controls.Rates = append(controls.Rates, fmt.Sprintf("%dms", rate.Duration().Milliseconds()))
		}
		if err := tmpl.Execute(w, controls); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// Status of the sensor
func (m *UVMeter) ServeSensorStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/status.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// Setup the status response
		type Status struct {
			Connected  bool
			Enabled    bool
			Mode       string
			Gain       string
			Resolution string
			Rate       string
		}
		status := Status{}
		if m.LTR390 != nil {
			m.mu.Lock()
			status = Status{
				Connected:  true,
				Enabled:    m.running,
				Mode:       m.Mode.String(),
				Gain:       m.Gain.String(),
				Resolution: m.Resolution.String(),
				Rate:       m.Rate.String(),
			}
			m.mu.Unlock()
		}

		if err := tmpl.Execute(w, status); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// Serve the results graphs, lux and UV index over the requested range
func (m *UVMeter) ServeResultsGraph() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Get the date range for the graph from the request
		startDate, endDate := tools.ParseStartAndEndDate(r, m.Location)

		rows, err := m.ResultsDB.Query("SELECT lux, uvi, created_at FROM uv_readings WHERE created_at BETWEEN ? AND ? ORDER BY created_at", startDate, endDate)
		if err != nil {
			log.Errorln(err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		// Prepare the data for the charts
		var luxValues, uviValues []opts.LineData
		var timeValues []string
		var maxLux, maxUVI float64
		for rows.Next() {
			var lux sql.NullFloat64
			var uvi float64
			var createdAt time.Time
			if err := rows.Scan(&lux, &uvi, &createdAt); err != nil {
				log.Errorln(err)
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if lux.Valid {
				maxLux = math.Max(maxLux, lux.Float64)
				luxValues = append(luxValues, opts.LineData{Value: lux.Float64})
			} else {
				// echarts leaves a gap for "-"
				luxValues = append(luxValues, opts.LineData{Value: "-"})
			}
			maxUVI = math.Max(maxUVI, uvi)
			uviValues = append(uviValues, opts.LineData{Value: uvi})
			timeValues = append(timeValues, createdAt.Format("2006-01-02 15:04:05"))
		}
		if err := rows.Err(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// Round up to the nearest 5000 lux, and the next whole UV index
		luxChart := newLevelChart("Lux", timeValues, luxValues, luxLevels, math.Ceil(maxLux/5000)*5000)
		uviChart := newLevelChart("UVI", timeValues, uviValues, uviLevels, math.Max(math.Ceil(maxUVI), 1))

		page := components.NewPage()
		page.AddCharts(luxChart, uviChart)

		// Render the graphs
		w.Header().Set("Content-Type", "text/html")
		page.Render(w)
		// Trigger an update for the results tab
		w.Write([]byte(`<div id='resultUpdateTrigger' hx-post='/uvmeter/results' hx-target='#resultsContent' hx-trigger='load'></div>`))
		w.Write([]byte(`<script>document.title = "UV Meter";</script>`))
	}
}

func newLevelChart(name string, timeValues []string, values []opts.LineData, levels []level, maxY float64) *charts.Line {
	line := charts.NewLine()
	for _, lvl := range levels {
		data := make([]opts.LineData, len(timeValues))
		for i := range data {
			data[i] = opts.LineData{Value: lvl.Value}
		}
		line.AddSeries(lvl.Title, data, charts.WithLineChartOpts(opts.LineChart{
			Color: lvl.Color,
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
			Max:  fmt.Sprintf("%g", maxY),
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
					Name:  "uv-meter-" + name,
				},
			},
		}),
	)
	line.SetXAxis(timeValues).AddSeries(name, values)
	return line
}

// Update the info in the results tab
func (m *UVMeter) ServeResultsTab() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conditions, err := m.getCurrentConditions()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		startDate, endDate := tools.ParseStartAndEndDate(r, m.Location)
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
			JobID                string
			Lux                  string
			UVI                  string
			UVCategory           string
			DateRange            string
			RecordedHoursInRange string
			ExposureHoursInRange string
			AverageLuxInRange    string
			AverageUVIInRange    string
			PeakUVIInRange       string
			UVConditionInRange   string
			StartDate            string
			EndDate              string
		}
		err = tmpl.Execute(w, ConditionsForDisplay{
			JobID:                conditions.JobID,
			Lux:                  formatLux(conditions.Lux),
			UVI:                  fmt.Sprintf("%.2f", conditions.UVI),
			UVCategory:           conditions.UVCategory,
			DateRange:            conditions.DateRange,
			RecordedHoursInRange: fmt.Sprintf("%.4f", conditions.RecordedHoursInRange),
			ExposureHoursInRange: fmt.Sprintf("%.4f", conditions.ExposureHoursInRange),
			AverageLuxInRange:    fmt.Sprintf("%.4f", conditions.AverageLuxInRange),
			AverageUVIInRange:    fmt.Sprintf("%.2f", conditions.AverageUVIInRange),
			PeakUVIInRange:       fmt.Sprintf("%.2f", conditions.PeakUVIInRange),
			UVConditionInRange:   conditions.UVConditionInRange,
			StartDate:            startDate,
			EndDate:              endDate,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func formatLux(lux *float64) string {
	if lux == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *lux)
}

// Summarize the readings recorded between startDate and endDate
func (m *UVMeter) getHistoricalConditions(conditions Conditions, startDate string, endDate string) (Conditions, error) {
	if m.ResultsDB == nil {
		return conditions, nil
	}
	conditions.DateRange = fmt.Sprintf("%s - %s UTC", startDate, endDate)

	row := m.ResultsDB.QueryRow(`
    SELECT 
        COUNT(*),
        COALESCE(AVG(lux), 0), 
        COALESCE(AVG(uvi), 0), 
        COALESCE(MAX(uvi), 0), 
        MIN(created_at), 
        MAX(created_at) 
    FROM uv_readings 
    WHERE created_at BETWEEN ? AND ?`, startDate, endDate)
	var count int
	var oldest, mostRecent sql.NullString
	err := row.Scan(&count, &conditions.AverageLuxInRange, &conditions.AverageUVIInRange, &conditions.PeakUVIInRange, &oldest, &mostRecent)
	if err != nil {
		return conditions, err
	}
	if count == 0 {
		conditions.UVConditionInRange = "No Data in Range"
		return conditions, nil
	}

	// Count the minutes where the average UV index reached moderate exposure
	var exposureMinutes int
	err = m.ResultsDB.QueryRow(`
    SELECT COUNT(*) 
    FROM (
        SELECT AVG(uvi) as avg_uvi 
        FROM uv_readings 
        WHERE created_at BETWEEN ? AND ? 
        GROUP BY strftime('%Y-%m-%d %H:%M', created_at)
    ) 
    WHERE avg_uvi >= ?`, startDate, endDate, EXPOSURE_UVI).Scan(&exposureMinutes)
	if err != nil {
		return conditions, err
	}
	conditions.ExposureHoursInRange = float64(exposureMinutes) / 60
	conditions.UVConditionInRange = UVICategory(conditions.PeakUVIInRange)

	if oldest.Valid && mostRecent.Valid {
		first, last, err := tools.StartAndEndDateToTime(oldest.String, mostRecent.String)
		if err != nil {
			return conditions, err
		}
		conditions.RecordedHoursInRange = last.Sub(first).Hours()
	}
	return conditions, nil
}

// Used to clear a div with htmx
func (m *UVMeter) Clear() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
	}
}
