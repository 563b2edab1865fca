package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/ztkent/uv-meter/internal/tools"
	uvm "github.com/ztkent/uv-meter/internal/uvmeter"
	"github.com/ztkent/uv-meter/ltr390"
)

/*
	This is going to be the primary entry point for the UV Meter application.
	It should be running at startup, on a Raspberry Pi, with the LTR390 sensor connected.
*/

func main() {
	cfg := tools.LoadConfig()
	if err := tools.SetupLogging(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	pid := os.Getpid()
	log.Infoln("UVMeter [" + fmt.Sprintf("%d", pid) + "]")

	// connect to the UV sensor
	bus, err := ltr390.OpenBus(cfg.I2CBackend, cfg.I2CBus)
	if err != nil {
		log.Fatalf("Failed to open the I2C bus: %v", err)
	}
	defer bus.Close()

	device := ltr390.New(bus, cfg.Address,
		ltr390.ModeUVS,
		ltr390.Resolution18Bit,
		ltr390.Rate100ms,
		ltr390.Gain3,
	)
	if err := device.Initialize(); err != nil {
		log.Fatalf("Failed to connect to the LTR390 sensor: %v", err)
	}

	// connect to the sqlite database
	uvmDB, err := tools.ConnectSqlite(cfg.DBPath)
	if err != nil {
		// Unlike connecting to the sensor, this should always work.
		log.Fatalf("Failed to connect to the sqlite database: %v", err)
	}
	defer uvmDB.Close()

	if err := uvm.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	// Initialize router
	r := chi.NewRouter()
	// Log requests and recover from panics
	r.Use(middleware.Logger)
	r.Use(handleServerPanic)

	// Define routes
	defineRoutes(r, &uvm.UVMeter{
		LTR390:         device,
		ResultsDB:      uvmDB,
		ResultsChan:    make(chan uvm.Results),
		WindowFactor:   cfg.WindowFactor,
		RecordInterval: cfg.RecordInterval,
		Location:       cfg.Location,
		DBPath:         cfg.DBPath,
		Pid:            pid,
	})

	addr := ":" + cfg.Port
	if cfg.SSL {
		// Generate a self-signed certificate if one doesn't exist
		certPath, keyPath := "cert.pem", "key.pem"
		if err := tools.EnsureCertificate(certPath, keyPath); err != nil {
			log.Fatalf("Failed to create certificate: %v", err)
		}
		log.Infof("Starting HTTPS server on port %s", cfg.Port)
		err = http.ListenAndServeTLS(addr, certPath, keyPath, r)
	} else {
		log.Infof("Starting HTTP server on port %s", cfg.Port)
		err = http.ListenAndServe(addr, r)
	}
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func defineRoutes(r *chi.Mux, meter *uvm.UVMeter) {
	// Listen for any result messages from our jobs, record them in sqlite
	go meter.MonitorAndRecordResults()

	// UV Meter Dashboard Controls, only reachable from the local network
	r.Group(func(r chi.Router) {
		r.Use(tools.CheckInNetwork)
		r.Get("/", meter.ServeDashboard())
		r.Route("/uvmeter", func(r chi.Router) {
			r.Get("/start", meter.Start())
			r.Get("/stop", meter.Stop())
			r.Get("/current-conditions", meter.CurrentConditions())
			r.Post("/configure", meter.Configure())
			r.Get("/export", meter.ServeResultsDB())
			r.Post("/graph", meter.ServeResultsGraph())
			r.Get("/controls", meter.ServeUVControls())
			r.Get("/status", meter.ServeSensorStatus())
			r.Post("/results", meter.ServeResultsTab())
			r.Get("/clear", meter.Clear())
		})
		FileServer(r, "/static/", uvm.StaticFiles())
	})

	// UV Meter API, these serve a JSON response
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/start", meter.Start())
		r.Get("/stop", meter.Stop())
		r.Get("/current-conditions", meter.CurrentConditions())
		r.Post("/configure", meter.Configure())
		r.Get("/export", meter.ServeResultsDB())
	})

	r.Handle("/metrics", promhttp.Handler())

	// Route for service identification
	r.Get("/id", func(w http.ResponseWriter, r *http.Request) {
		response := struct {
			ServiceName string `json:"service_name"`
		}{
			ServiceName: "UV Meter",
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	})
}

func FileServer(r chi.Router, path string, root http.FileSystem) {
	r.Get(path+"*", func(w http.ResponseWriter, r *http.Request) {
		http.StripPrefix(path, http.FileServer(root)).ServeHTTP(w, r)
	})
}

func handleServerPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("Recovered from panic: %v", err)
				uvm.ServeResponse(w, r, fmt.Sprintf("%v", err), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
