package main

import (
	"fmt"
	stdlog "log" // Standard log for initial bootstrap
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"histdata/go_src/app"
	"histdata/go_src/configuration"
	"histdata/go_src/logging_helper"
	"histdata/go_src/scheduler"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

const appName = "histdata-scheduler"

// checkSchedulerConfig reports why cfg cannot drive the scheduler.
func checkSchedulerConfig(cfg *configuration.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if !cfg.SchedulerSettings.Enabled {
		return fmt.Errorf("scheduler_settings.enabled is false")
	}
	active := 0
	for _, task := range cfg.SchedulerSettings.Tasks {
		if !task.Disabled {
			active++
		}
	}
	if active == 0 {
		return fmt.Errorf("no enabled download tasks in scheduler_settings.tasks")
	}
	return nil
}

func main() {
	stdlog.Printf("Starting %s application...", appName)

	configPath := configuration.PathFromEnv()
	cfg, err := configuration.LoadConfig(configPath)
	if err != nil {
		stdlog.Fatalf("Failed to load configuration from %s: %v", configPath, err)
	}
	if err := cfg.ValidateConfig(); err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}
	if err := checkSchedulerConfig(cfg); err != nil {
		stdlog.Fatalf("Nothing to schedule: %v", err)
	}
	stdlog.Println("Configuration loaded successfully.")

	logCloser, err := logging_helper.SetupLogging(cfg, appName)
	if err != nil {
		stdlog.Fatalf("Failed to setup logging: %v", err)
	}
	defer logCloser.Close()
	logrus.Info("Logging has been initialized.")

	a, err := app.New(cfg)
	if err != nil {
		logrus.Fatalf("Failed to start %s: %v", appName, err)
	}
	defer a.Close()

	location, err := cfg.SchedulerSettings.SchedulerLocation()
	if err != nil {
		logrus.Fatalf("Failed to load scheduler timezone '%s': %v", cfg.SchedulerSettings.DefaultTimezone, err)
	}
	logrus.Infof("Using timezone for scheduler: %s", location.String())

	s, err := gocron.NewScheduler(gocron.WithLocation(location))
	if err != nil {
		logrus.Fatalf("Failed to create gocron scheduler: %v", err)
	}

	jobs, err := scheduler.NewJobs(cfg, a.Runner.Run)
	if err != nil {
		logrus.Fatalf("Failed to create download jobs: %v", err)
	}
	scheduled, err := jobs.Schedule(s, cfg.SchedulerSettings.Tasks)
	if err != nil {
		logrus.Fatalf("Failed to schedule downloads: %v", err)
	}
	logrus.Infof("%d download jobs scheduled.", len(scheduled))

	s.Start()
	logrus.Info("Scheduler started. Waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutdown signal received...")

	if err := s.Shutdown(); err != nil {
		logrus.Errorf("Scheduler shutdown error: %v", err)
	}
	logrus.Info("Scheduler shut down gracefully.")
}
