package uvmeter

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ztkent/uv-meter/ltr390"
)

//go:embed html/*
var templateFiles embed.FS

type UVMeter struct {
	*ltr390.LTR390
	ResultsChan    chan Results
	ResultsDB      *sql.DB
	WindowFactor   float64
	RecordInterval time.Duration
	Location       string
	DBPath         string
	Pid            int

	// mu serializes sensor access between the job and the handlers
	mu      sync.Mutex
	running bool
	jobID   string
	cancel  context.CancelFunc
}

type Results struct {
	JobID      string
	ALS        uint32
	UVS        uint32
	Lux        float64
	UVI        float64
	Gain       string
	Resolution string
}

type Conditions struct {
	JobID                string   `json:"jobID"`
	ALS                  uint32   `json:"als"`
	UVS                  uint32   `json:"uvs"`
	Lux                  *float64 `json:"lux"` // nil when the reading had no finite lux
	UVI                  float64  `json:"uvi"`
	UVCategory           string   `json:"uvCategory"`
	DateRange            string   `json:"dateRange"`
	RecordedHoursInRange float64  `json:"recordedHoursInRange"`
	ExposureHoursInRange float64  `json:"exposureHoursInRange"`
	AverageLuxInRange    float64  `json:"averageLuxInRange"`
	AverageUVIInRange    float64  `json:"averageUVIInRange"`
	PeakUVIInRange       float64  `json:"peakUVIInRange"`
	UVConditionInRange   string   `json:"uvConditionInRange"`
}

const (
	MAX_JOB_DURATION = 8 * time.Hour
	RECORD_INTERVAL  = 30 * time.Second
	DB_PATH          = "uvmeter.db"
	// UVI at or above this counts towards exposure hours
	EXPOSURE_UVI = 3.0
)

// UVICategory returns the WHO exposure category for a UV index.
func UVICategory(uvi float64) string {
	switch {
	case math.IsNaN(uvi):
		return "Unknown"
	case uvi < 3:
		return "Low"
	case uvi < 6:
		return "Moderate"
	case uvi < 8:
		return "High"
	case uvi < 11:
		return "Very High"
	default:
		return "Extreme"
	}
}

// Running reports whether a recording job is active.
func (m *UVMeter) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start the sensor, and collect data in a loop
func (m *UVMeter) Start() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Infoln("It's going to be a bright day!")
		if m.LTR390 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}

		m.mu.Lock()
		if m.running {
			m.mu.Unlock()
			ServeResponse(w, r, "The sensor is already started", http.StatusBadRequest)
			return
		}
		// Create a new context with a timeout to manage the sensor lifecycle
		ctx, cancel := context.WithTimeout(context.Background(), MAX_JOB_DURATION)
		jobID := uuid.New().String()
		m.running, m.jobID, m.cancel = true, jobID, cancel
		m.mu.Unlock()

		go m.runJob(ctx, jobID)
		ServeResponse(w, r, "UV Reading Started", http.StatusOK)
	}
}

func (m *UVMeter) runJob(ctx context.Context, jobID string) {
	defer m.finishJob(jobID)
	interval := m.RecordInterval
	if interval <= 0 {
		interval = RECORD_INTERVAL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if result, ok := m.sample(jobID); ok {
			select {
			case m.ResultsChan <- result:
			case <-ctx.Done():
			}
		}

		// Check if we've cancelled this job.
		select {
		case <-ctx.Done():
			log.WithField("job_id", jobID).Infoln("Job Cancelled, stopping sensor")
			return
		case <-ticker.C:
		}
	}
}

// settle waits for a conversion during the gain search. Swapped out in tests.
var settle = time.Sleep

// sample reads the sensor once. A saturated channel triggers a gain search
// instead of a result.
func (m *UVMeter) sample(jobID string) (Results, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reading, err := m.Read(m.WindowFactor)
	if err != nil {
		log.WithField("job_id", jobID).Errorf("The sensor failed to read: %v", err)
		return Results{}, false
	}
	if m.Saturated(reading) {
		log.WithField("job_id", jobID).Warnln("The sensor is saturated, attempting to set new optimal sensor gain")
		// Release the sensor while conversions settle so handlers are not blocked
		m.Wait = m.waitUnlocked
		err := m.SetOptimalGain()
		m.Wait = nil
		if err != nil {
			log.Errorf("The sensor failed to determine new optimal gain: %v", err)
		} else {
			log.Infof("The sensor has been reconfigured with gain %v", m.Gain)
		}
		return Results{}, false
	}
	return Results{
		JobID:      jobID,
		ALS:        reading.ALS,
		UVS:        reading.UVS,
		Lux:        reading.Lux,
		UVI:        reading.UVI,
		Gain:       m.Gain.String(),
		Resolution: m.Resolution.String(),
	}, true
}

// waitUnlocked must be called with mu held.
func (m *UVMeter) waitUnlocked(d time.Duration) {
	m.mu.Unlock()
	defer m.mu.Lock()
	settle(d)
}

func (m *UVMeter) finishJob(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobID != jobID {
		return
	}
	m.cancel()
	m.running, m.jobID, m.cancel = false, "", nil
}

// Stop the sensor, and cancel the job context
func (m *UVMeter) Stop() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.LTR390 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		if !m.running {
			m.mu.Unlock()
			ServeResponse(w, r, "The sensor is already stopped", http.StatusBadRequest)
			return
		}
		m.cancel()
		m.running, m.jobID, m.cancel = false, "", nil
		m.mu.Unlock()

		ServeResponse(w, r, "UV Reading Stopped", http.StatusOK)
	}
}

// Configure the gain, resolution and measurement rate from form values
// gain=18, resolution=20 (bits), rate=100 (ms). Missing values keep the current setting.
func (m *UVMeter) Configure() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.LTR390 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		r.ParseForm()

		m.mu.Lock()
		defer m.mu.Unlock()
		gain, resolution, rate := m.Gain, m.Resolution, m.Rate
		var err error
		if v := r.FormValue("gain"); v != "" {
			if gain, err = ParseGain(v); err != nil {
				ServeResponse(w, r, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if v := r.FormValue("resolution"); v != "" {
			if resolution, err = ParseResolution(v); err != nil {
				ServeResponse(w, r, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if v := r.FormValue("rate"); v != "" {
			if rate, err = ParseRate(v); err != nil {
				ServeResponse(w, r, err.Error(), http.StatusBadRequest)
				return
			}
		}

		if err := m.SetResolutionAndRate(resolution, rate); err != nil {
			log.Errorln(err)
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := m.SetGain(gain); err != nil {
			log.Errorln(err)
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("Gain: %v, Resolution: %v, Rate: %v", m.Gain, m.Resolution, m.Rate), http.StatusOK)
	}
}

// ParseGain accepts a gain multiplier, "18" or "18x".
func ParseGain(v string) (ltr390.Gain, error) {
	n, err := strconv.Atoi(strings.TrimSuffix(v, "x"))
	if err == nil {
		for _, g := range ltr390.Gains {
			if g.Factor() == float64(n) {
				return g, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid gain %q", v)
}

// ParseResolution accepts a bit depth, "20" or "20bit".
func ParseResolution(v string) (ltr390.Resolution, error) {
	n, err := strconv.Atoi(strings.TrimSuffix(v, "bit"))
	if err == nil {
		for _, res := range ltr390.Resolutions {
			if res.Bits() == n {
				return res, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid resolution %q", v)
}

// ParseRate accepts a measurement rate in milliseconds, "100" or "100ms".
func ParseRate(v string) (ltr390.MeasurementRate, error) {
	n, err := strconv.Atoi(strings.TrimSuffix(v, "ms"))
	if err == nil {
		for _, rate := range ltr390.Rates {
			if rate.Duration() == time.Duration(n)*time.Millisecond {
				return rate, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid measurement rate %q", v)
}

// Serve data about the most recent entry saved to the db
func (m *UVMeter) CurrentConditions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.LTR390 == nil {
			ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
			return
		}
		conditions, err := m.getCurrentConditions()
		if err != nil {
			log.Errorln(err)
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}

		conditionsData, err := json.Marshal(conditions)
		if err != nil {
			log.Errorln(err)
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		ServeResponse(w, r, string(conditionsData), http.StatusOK)
	}
}

// Return the most recent entry saved to the db
func (m *UVMeter) getCurrentConditions() (Conditions, error) {
	conditions := Conditions{}
	if m.ResultsDB == nil {
		return conditions, nil
	}
	row := m.ResultsDB.QueryRow("SELECT job_id, als, uvs, lux, uvi FROM uv_readings ORDER BY id DESC LIMIT 1")
	var lux sql.NullFloat64
	err := row.Scan(&conditions.JobID, &conditions.ALS, &conditions.UVS, &lux, &conditions.UVI)
	if err == sql.ErrNoRows {
		return conditions, nil
	} else if err != nil {
		return Conditions{}, err
	}
	if lux.Valid {
		conditions.Lux = &lux.Float64
	}
	conditions.UVCategory = UVICategory(conditions.UVI)
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
	w.WriteHeader(status)
	if err := tmpl.Execute(w, message); err != nil {
		log.Errorln(err)
	}
}

func parseTemplateFile(path string) (*template.Template, error) {
	content, err := templateFiles.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded template: %w", err)
	}

	tmpl, err := template.New("results").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return tmpl, nil
}

// StaticFiles serves the embedded stylesheets and scripts.
func StaticFiles() http.FileSystem {
	sub, err := fs.Sub(templateFiles, "html/static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

// Read from ResultsChan, write the results to sqlite
func (m *UVMeter) MonitorAndRecordResults() {
	log.Infoln("Monitoring for new UV Messages...")
	for result := range m.ResultsChan {
		if err := m.recordResult(result); err != nil {
			log.Errorln(err)
		}
	}
}

func (m *UVMeter) recordResult(result Results) error {
	log.WithField("job_id", result.JobID).Infof("Lux: %.5f, UVI: %.3f", result.Lux, result.UVI)
	if math.IsNaN(result.UVI) || math.IsInf(result.UVI, 0) {
		log.Warnln("UVI is invalid, skipping record")
		return nil
	}
	// 13 bit resolution has no integration time, the UVI is still usable
	lux := sql.NullFloat64{Float64: result.Lux, Valid: !math.IsInf(result.Lux, 0) && !math.IsNaN(result.Lux)}
	if !lux.Valid {
		log.Warnln("Lux is invalid, recording UVI only")
		luxUnavailable.Inc()
	}
	observe(result, lux.Valid)
	_, err := m.ResultsDB.Exec(
		"INSERT INTO uv_readings (job_id, als, uvs, lux, uvi, gain, resolution) VALUES (?, ?, ?, ?, ?, ?, ?)",
		result.JobID,
		result.ALS,
		result.UVS,
		lux,
		result.UVI,
		result.Gain,
		result.Resolution,
	)
	return err
}
