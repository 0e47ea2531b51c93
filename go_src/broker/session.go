package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"histdata/go_src/gateway"
)

// ContractRequestID is the request id used for contract resolution.
const ContractRequestID int64 = 43

// DefaultDisplayTimezone is the zone CSV timestamps are written in.
const DefaultDisplayTimezone = "America/New_York"

// disconnectWait bounds how long Disconnect waits for the event loop to return.
var disconnectWait = 5 * time.Second

// ClientFactory builds a gateway client that delivers its callbacks to w.
type ClientFactory func(w gateway.EWrapper) gateway.EClient

// SessionConfig holds the per-session settings.
type SessionConfig struct {
	Timeouts        Timeouts
	Options         HistoricalOptions
	OutputDir       string
	DisplayLocation *time.Location
}

// Session owns one gateway connection and downloads a contract's history over it.
// A session is used by one goroutine at a time.
type Session struct {
	cfg      SessionConfig
	notifier *Notifier
	wrapper  *Wrapper
	client   gateway.EClient
	facade   *SyncClient

	mu           sync.Mutex
	started      bool
	disconnected bool
	runDone      chan struct{}
}

// NewSession creates a disconnected session.
func NewSession(factory ClientFactory, cfg SessionConfig, listeners ...Listener) *Session {
	if cfg.DisplayLocation == nil {
		loc, err := time.LoadLocation(DefaultDisplayTimezone)
		if err != nil {
			logrus.Warnf("Could not load time zone %s, writing CSV timestamps in UTC: %v", DefaultDisplayTimezone, err)
			loc = time.UTC
		}
		cfg.DisplayLocation = loc
	}
	if cfg.Options.WhatToShow == "" {
		cfg.Options = DefaultHistoricalOptions()
	}

	notifier := NewNotifier(listeners...)
	wrapper := NewWrapper()
	client := factory(wrapper)
	return &Session{
		cfg:      cfg,
		notifier: notifier,
		wrapper:  wrapper,
		client:   client,
		facade:   NewSyncClient(client, wrapper, notifier, cfg.Timeouts, cfg.Options),
	}
}

// Notifier exposes the session's listener set.
func (s *Session) Notifier() *Notifier {
	return s.notifier
}

// Client returns the blocking facade used by the session.
func (s *Session) Client() *SyncClient {
	return s.facade
}

// Connect opens the gateway connection and starts its event loop.
func (s *Session) Connect(host string, port int, clientID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started && !s.disconnected {
		return fmt.Errorf("session already connected")
	}

	if err := s.client.Connect(host, port, clientID); err != nil {
		s.notifier.Notifyf("Connection to %s:%d failed: %v", host, port, err)
		return fmt.Errorf("failed to connect to gateway at %s:%d: %w", host, port, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.client.Run(); err != nil {
			logrus.Warnf("Gateway event loop stopped with error: %v", err)
		}
	}()

	s.started = true
	s.disconnected = false
	s.runDone = done
	s.wrapper.ResetErrors()
	logrus.Infof("Connected to gateway at %s:%d (client id %d)", host, port, clientID)
	return nil
}

// IsConnected reports whether the gateway connection is live.
func (s *Session) IsConnected() bool {
	return s.client.IsConnected()
}

// BuildContract resolves a contract from its primitive fields.
func (s *Session) BuildContract(symbol, secType, exchange, currency string) gateway.Contract {
	contract := gateway.Contract{
		Symbol:   symbol,
		SecType:  secType,
		Exchange: exchange,
		Currency: currency,
	}
	return s.facade.ResolveContract(contract, ContractRequestID)
}

// FetchHistoricalData downloads [from, to) chunk by chunk, oldest chunk first.
// Bars before from, and bars that are not strictly newer than the last kept
// bar, are dropped, so the result is strictly increasing in time even when
// the gateway widens or overlaps its windows.
func (s *Session) FetchHistoricalData(contract gateway.Contract, from, to time.Time, barSize string) []gateway.Bar {
	chunks := PlanChunks(from, to)
	if len(chunks) == 0 {
		s.notifier.Notifyf("Nothing to download: %s is not before %s",
			from.Format("2006-01-02"), to.Format("2006-01-02"))
		return nil
	}
	logrus.Infof("Fetching %s %s from %s to %s in %d chunk(s)", contract.Symbol, barSize,
		from.Format("2006-01-02"), to.Format("2006-01-02"), len(chunks))

	var bars []gateway.Bar
	for i, chunk := range chunks {
		reqID := int64(i + 1)
		s.notifier.Notify(chunk.EndDateTime)
		received := s.facade.FetchHistoricalData(contract, chunk.EndDateTime, chunk.Duration, barSize, reqID)
		bars = appendNewer(bars, received, from.Unix())
	}
	return bars
}

// appendNewer appends the bars of src that start at or after first and are
// strictly newer than the last bar of dst.
func appendNewer(dst, src []gateway.Bar, first int64) []gateway.Bar {
	for _, b := range src {
		if b.Time < first {
			continue
		}
		if n := len(dst); n > 0 && b.Time <= dst[n-1].Time {
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// Disconnect closes the gateway client, also after a failed Connect, and waits
// for the event loop if one was started. Calling it again is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return
	}
	s.disconnected = true
	started := s.started
	done := s.runDone
	s.mu.Unlock()

	if err := s.client.Disconnect(); err != nil {
		logrus.Warnf("Error while disconnecting from gateway: %v", err)
	}
	if !started {
		return
	}

	select {
	case <-done:
	case <-time.After(disconnectWait):
		logrus.Warnf("Gateway event loop did not stop within %v", disconnectWait)
	}
}
