// Package app wires configuration into a download runner and its optional
// outputs: DuckDB storage, RabbitMQ notifications and the WebSocket log stream.
package app

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"histdata/go_src/broker"
	"histdata/go_src/configuration"
	"histdata/go_src/database"
	"histdata/go_src/download"
	"histdata/go_src/ib_gateway"
	"histdata/go_src/log_stream"
	"histdata/go_src/mq_notifier"
	"histdata/go_src/saxo_openapi"
)

// dialPublisher is swapped in tests.
var dialPublisher = mq_notifier.Dial

// App owns the runner and everything it writes to.
type App struct {
	Runner *download.Runner
	DB     *database.HistDB
	Hub    *log_stream.Hub

	publisher *mq_notifier.Publisher
	server    *http.Server
}

// New builds the application described by cfg.
// A RabbitMQ broker that cannot be reached is logged and skipped.
func New(cfg *configuration.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	sessionCfg, err := SessionConfig(cfg)
	if err != nil {
		return nil, err
	}
	factory, err := GatewayFactory(cfg.Gateway)
	if err != nil {
		return nil, err
	}

	a := &App{}
	var opts []download.Option

	if cfg.Database.Enabled {
		hdb, err := database.NewHistDB(cfg, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.DB = hdb
		opts = append(opts,
			download.WithBarSink(database.NewBarStore(hdb)),
			download.WithRunRecorder(RunRecorder(database.NewDownloadLog(hdb))),
		)
	}

	if cfg.RabbitMQ.Enabled {
		pub, err := dialPublisher(cfg.RabbitMQ)
		if err != nil {
			logrus.Warnf("RabbitMQ notifications disabled: %v", err)
		} else {
			a.publisher = pub
			opts = append(opts, download.WithEventSink(pub))
		}
	}

	if cfg.LogStream.Enabled {
		a.Hub = log_stream.NewDefaultHub()
		a.server = log_stream.NewServer(cfg.LogStream.ListenAddr, a.Hub)
		opts = append(opts, download.WithEventSink(a.Hub))
		go func() {
			logrus.Infof("Streaming download logs on ws://%s%s", cfg.LogStream.ListenAddr, log_stream.Path)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("Log stream server stopped: %v", err)
			}
		}()
	}

	a.Runner = download.NewRunner(factory, download.RunnerConfig{Session: sessionCfg}, opts...)
	return a, nil
}

// GatewayFactory picks the gateway adapter named by gw.Kind.
func GatewayFactory(gw configuration.Gateway) (broker.ClientFactory, error) {
	switch strings.ToLower(gw.Kind) {
	case configuration.GatewayKindSaxo, "":
		return saxo_openapi.Factory(saxo_openapi.GatewayConfig{
			Environment: gw.Environment,
			Tokens:      saxo_openapi.StaticToken(gw.AccessToken),
			HTTPTimeout: time.Duration(gw.HTTPTimeout) * time.Second,
		}), nil
	case configuration.GatewayKindIB:
		return ib_gateway.Factory(), nil
	default:
		return nil, fmt.Errorf("unknown gateway kind '%s'", gw.Kind)
	}
}

// SessionConfig converts the timeouts and download sections for broker sessions.
func SessionConfig(cfg *configuration.Config) (broker.SessionConfig, error) {
	loc, err := cfg.Download.DisplayLocation()
	if err != nil {
		return broker.SessionConfig{}, fmt.Errorf("invalid display timezone '%s': %w", cfg.Download.DisplayTimezone, err)
	}
	contractDetails, historicalData, errorPoll := cfg.Timeouts.TimeoutDurations()
	options := broker.DefaultHistoricalOptions()
	if cfg.Download.WhatToShow != "" {
		options.WhatToShow = cfg.Download.WhatToShow
	}
	if cfg.Download.UseRTH != nil {
		options.UseRTH = *cfg.Download.UseRTH
	}
	return broker.SessionConfig{
		Timeouts: broker.Timeouts{
			ContractDetails: contractDetails,
			HistoricalData:  historicalData,
			ErrorPoll:       errorPoll,
		},
		Options:         options,
		OutputDir:       cfg.Download.OutputDir,
		DisplayLocation: loc,
	}, nil
}

// RunRecorder stores finished runs in the downloads table.
func RunRecorder(dl *database.DownloadLog) download.RunRecorder {
	return download.RunRecorderFunc(func(rec download.RunRecord) error {
		return dl.RecordDownload(database.DownloadRecord{
			RunID:    rec.RunID,
			Symbol:   rec.Symbol,
			BarSize:  rec.BarSize,
			FromDate: rec.From,
			ToDate:   rec.To,
			State:    rec.State.String(),
			FileName: rec.FileName,
			BarCount: rec.BarCount,
			Message:  rec.Message,
		})
	})
}

// Close stops the log stream and releases the publisher and database.
func (a *App) Close() error {
	var errs []error
	if a.server != nil {
		a.Hub.Close()
		if err := a.server.Close(); err != nil {
			errs = append(errs, fmt.Errorf("log stream server: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("rabbitmq publisher: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
