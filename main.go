package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	cm "github.com/ztkent/color-meter/internal/colormeter"
	"github.com/ztkent/color-meter/internal/tools"
	"github.com/ztkent/color-meter/tcs34725"
)

/*
	This is the primary entry point for the Color Meter application.
	It should be running at startup, on a Raspberry Pi, with the TCS34725 sensor connected.
	Set SIMULATE=true to run it without a sensor.
*/

func main() {
	cfg, err := tools.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logFile, err := tools.SetupLogging(cfg.LogPath)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	pid := os.Getpid()
	logrus.Infof("ColorMeter [%d]", pid)

	// connect to the color sensor
	bus, signal, err := connectSensor(cfg)
	if err != nil {
		logrus.Fatalf("Failed to connect to the TCS34725 sensor: %v", err)
	}
	sensor, err := tcs34725.NewAutoRangingSensor(bus, tcs34725.WithGlassAttenuation(cfg.GlassAttenuation))
	if err != nil {
		logrus.Fatalf("Failed to set up autoranging: %v", err)
	}
	if !sensor.Initialize() {
		// Keep serving; the dashboard reports the sensor as disconnected
		logrus.Error("The TCS34725 sensor is not responding")
	} else if err := sensor.Suspend(); err != nil {
		// Jobs power the sensor up when they start
		logrus.Errorf("Failed to power down the sensor: %v", err)
	}

	// connect to the sqlite database
	db, err := tools.ConnectSqlite(cfg.DBPath)
	if err != nil {
		// Unlike connecting to the sensor, this should always work.
		logrus.Fatalf("Failed to connect to the sqlite database: %v", err)
	}
	defer db.Close()

	meter := cm.NewColorMeter(sensor, db, cfg)
	meter.Signal = signal
	meter.Pid = pid

	// Initialize router
	r := chi.NewRouter()
	// Log requests and recover from panics
	r.Use(middleware.Logger)
	r.Use(handleServerPanic)
	defineRoutes(r, meter)

	// Listen for any result messages from our jobs, record them in sqlite
	go meter.MonitorAndRecordResults(context.Background())

	addr := ":" + cfg.AppPort
	if cfg.SSL {
		// Generate a self-signed certificate if one doesn't exist
		certPath, keyPath := "cert.pem", "key.pem"
		if err := tools.EnsureCertificate(certPath, keyPath); err != nil {
			logrus.Fatalf("Failed to create certificate: %v", err)
		}
		logrus.Infof("Starting HTTPS server on port %s", cfg.AppPort)
		err = http.ListenAndServeTLS(addr, certPath, keyPath, r)
	} else {
		logrus.Infof("Starting HTTP server on port %s", cfg.AppPort)
		err = http.ListenAndServe(addr, r)
	}
	if err != nil {
		logrus.Fatalf("Failed to start server: %v", err)
	}
}

// Open the configured bus. In interrupt mode the sensor's own
// integration-complete flag is returned as the signal to wait on.
func connectSensor(cfg tools.Config) (tcs34725.Bus, cm.IntegrationSignal, error) {
	if cfg.Simulate {
		logrus.Infof("Simulating a TCS34725 at %.0f lux", cfg.SimulatedLux)
		sim := tcs34725.NewSimulator(cfg.SimulatedLux)
		sim.Jitter = 0.02
		sim.RealTime = true
		if cfg.InterruptMode {
			return sim, sim, nil
		}
		return sim, nil, nil
	}

	device, err := tcs34725.NewTCS34725(cfg.I2CBus)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.InterruptMode {
		return device, nil, nil
	}
	if !device.Probe() {
		// Fall back to polling, Initialize will report the missing sensor
		logrus.Warnf("Interrupt mode unavailable: %v", tcs34725.ErrDeviceNotFound)
		return device, nil, nil
	}
	if err := device.Configure(tcs34725.TCS34725_GAIN_4X, tcs34725.TCS34725_INTEGRATIONTIME_154MS); err != nil {
		return nil, nil, err
	}
	// Raise the interrupt at the end of every integration cycle
	if err := device.SetInterruptLimits(0, 0); err != nil {
		return nil, nil, err
	}
	if err := device.SetPersistence(tcs34725.TCS34725_PERS_NONE); err != nil {
		return nil, nil, err
	}
	if err := device.SetInterrupt(true); err != nil {
		return nil, nil, err
	}
	return device, device, nil
}

func defineRoutes(r *chi.Mux, meter *cm.ColorMeter) {
	// Color Meter Dashboard Controls, local network only
	r.Group(func(r chi.Router) {
		r.Use(tools.CheckInNetwork)
		r.Get("/", meter.ServeDashboard())
		r.Route("/colormeter", func(r chi.Router) {
			r.Get("/start", meter.Start())
			r.Get("/stop", meter.Stop())
			r.Get("/current-conditions", meter.CurrentConditions())
			r.Get("/export", meter.ServeResultsDB())
			r.Post("/graph", meter.ServeResultsGraph())
			r.Get("/controls", meter.ServeColorControls())
			r.Get("/status", meter.ServeSensorStatus())
			r.Post("/results", meter.ServeResultsTab())
			r.Get("/clear", meter.Clear())
		})
	})

	// Color Meter API, these serve a JSON response
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/start", meter.Start())
		r.Get("/stop", meter.Stop())
		r.Get("/current-conditions", meter.CurrentConditions())
		r.Get("/export", meter.ServeResultsDB())
	})

	// Route for service identification
	r.Get("/id", func(w http.ResponseWriter, r *http.Request) {
		response := struct {
			ServiceName string `json:"service_name"`
			Pid         int    `json:"pid"`
		}{
			ServiceName: "Color Meter",
			Pid:         meter.Pid,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	})
}

func handleServerPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logrus.Errorf("Recovered from panic: %v", err)
				cm.ServeResponse(w, r, fmt.Sprintf("%v", err), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
