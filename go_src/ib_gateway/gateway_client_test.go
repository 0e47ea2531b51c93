package ib_gateway

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scmhub/ibapi"

	"histdata/go_src/broker"
	"histdata/go_src/completion"
	"histdata/go_src/gateway"
)

type historicalCall struct {
	reqID       int64
	contract    ibapi.Contract
	endDateTime string
	duration    string
	barSize     string
	whatToShow  string
	formatDate  int
}

// fakeTWS answers requests by calling the bridge the way the ibapi reader does.
type fakeTWS struct {
	bridge *bridge

	mu          sync.Mutex
	connected   bool
	connectErr  error
	disconnects int
	cancels     []int64
	historical  []historicalCall
	details     map[string]ibapi.ContractDetails
	bars        func(call historicalCall) []ibapi.Bar
}

func (f *fakeTWS) Connect(host string, port int, clientID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTWS) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
	f.bridge.ConnectionClosed()
	return nil
}

func (f *fakeTWS) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTWS) ReqContractDetails(reqID int64, contract *ibapi.Contract) {
	if d, ok := f.details[contract.Symbol]; ok {
		f.bridge.ContractDetails(reqID, &d)
	} else {
		f.bridge.Error(reqID, 0, gateway.ErrCodeNoSecurityDef, "No security definition has been found for the request", "")
	}
	f.bridge.ContractDetailsEnd(reqID)
}

func (f *fakeTWS) ReqHistoricalData(reqID int64, contract *ibapi.Contract, endDateTime string, duration string, barSize string, whatToShow string, useRTH bool, formatDate int, keepUpToDate bool, chartOptions []ibapi.TagValue) {
	call := historicalCall{reqID, *contract, endDateTime, duration, barSize, whatToShow, formatDate}
	f.mu.Lock()
	f.historical = append(f.historical, call)
	f.mu.Unlock()

	// Farm status chatter arrives between requests on a live socket.
	f.bridge.Error(gateway.NoValidID, 0, 2106, "HMDS data farm connection is OK:ushmds", "")
	if f.bars != nil {
		for _, b := range f.bars(call) {
			bar := b
			f.bridge.HistoricalData(reqID, &bar)
		}
	}
	f.bridge.HistoricalDataEnd(reqID, "", endDateTime)
}

func (f *fakeTWS) CancelHistoricalData(reqID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, reqID)
}

func withFakeTWS(t *testing.T, fake *fakeTWS) {
	t.Helper()
	orig := newAPIClient
	newAPIClient = func(w ibapi.EWrapper) apiClient {
		fake.bridge = w.(*bridge)
		return fake
	}
	t.Cleanup(func() { newAPIClient = orig })
}

func amdDetails() map[string]ibapi.ContractDetails {
	return map[string]ibapi.ContractDetails{
		"AMD": {
			Contract: ibapi.Contract{
				ConID:           4391,
				Symbol:          "AMD",
				SecType:         "STK",
				Exchange:        "SMART",
				PrimaryExchange: "NASDAQ",
				Currency:        "USD",
				LocalSymbol:     "AMD",
			},
			LongName:   "ADVANCED MICRO DEVICES",
			TimeZoneID: "US/Eastern",
			MinTick:    0.01,
		},
	}
}

func dailyBars(dates ...string) func(historicalCall) []ibapi.Bar {
	return func(historicalCall) []ibapi.Bar {
		bars := make([]ibapi.Bar, 0, len(dates))
		for i, d := range dates {
			price := 100 + float64(i)
			bars = append(bars, ibapi.Bar{Date: d, Open: price, High: price + 1, Low: price - 1, Close: price + 0.5, Volume: ibapi.StringToDecimal("1500")})
		}
		return bars
	}
}

func newTestSession(t *testing.T) *broker.Session {
	t.Helper()
	session := broker.NewSession(Factory(), broker.SessionConfig{
		Timeouts: broker.Timeouts{
			ContractDetails: time.Second,
			HistoricalData:  time.Second,
			ErrorPoll:       50 * time.Millisecond,
		},
		OutputDir: t.TempDir(),
	})
	if err := session.Connect("127.0.0.1", 7497, 3); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(session.Disconnect)
	return session
}

func TestGatewayClient_SessionResolvesAndFetches(t *testing.T) {
	fake := &fakeTWS{
		details: amdDetails(),
		bars:    dailyBars("20210104", "20210105", "20210106", "20210107", "20210108"),
	}
	withFakeTWS(t, fake)
	session := newTestSession(t)

	contract := session.BuildContract("AMD", "STK", "SMART", "USD")
	if contract.ConID != 4391 || contract.PrimaryExchange != "NASDAQ" {
		t.Fatalf("Expected resolved AMD contract, got %+v", contract)
	}

	from := time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
	to := time.Date(2021, 1, 9, 0, 0, 0, 0, time.UTC)
	bars := session.FetchHistoricalData(contract, from, to, "1 day")

	if len(bars) != 5 {
		t.Fatalf("Expected 5 bars, got %d", len(bars))
	}
	if bars[0].Time != from.Unix() || bars[0].Volume != 1500 || bars[4].Close != 104.5 {
		t.Errorf("Unexpected bars: first %+v last %+v", bars[0], bars[4])
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.historical) != 1 {
		t.Fatalf("Expected one historical request, got %d", len(fake.historical))
	}
	call := fake.historical[0]
	if call.endDateTime != "20210109-00:00:00" || call.duration != "5 D" || call.barSize != "1 day" {
		t.Errorf("Unexpected request window: %+v", call)
	}
	if call.contract.ConID != 4391 || call.formatDate != gateway.FormatDateEpoch || call.whatToShow != gateway.WhatToShowTrades {
		t.Errorf("Unexpected request parameters: %+v", call)
	}
	if len(fake.cancels) != 0 {
		t.Errorf("Farm status notices must not cancel the request, got cancels %v", fake.cancels)
	}
}

func TestGatewayClient_UnknownContractReportsError(t *testing.T) {
	fake := &fakeTWS{details: amdDetails()}
	withFakeTWS(t, fake)

	w := broker.NewWrapper()
	g := NewGatewayClient(w)
	if err := g.Connect("127.0.0.1", 7497, 3); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer g.Disconnect()

	q := w.InitContractDetails(43)
	g.ReqContractDetails(43, &gateway.Contract{Symbol: "ZZZZ", SecType: "STK", Exchange: "SMART", Currency: "USD"})
	details, status := q.Drain(time.Second)
	if status != completion.Finished || len(details) != 0 {
		t.Fatalf("Expected finished with no details, got %s %+v", status, details)
	}
	msg, ok := w.NextError(time.Second)
	if !ok || !strings.Contains(msg, "error code 200") {
		t.Errorf("Expected no security definition error, got %q", msg)
	}
}

func TestGatewayClient_ErrorCancelsOnce(t *testing.T) {
	fake := &fakeTWS{details: amdDetails()}
	// A pacing violation is reported along with the first bar.
	fake.bars = func(call historicalCall) []ibapi.Bar {
		fake.bridge.Error(call.reqID, 0, gateway.ErrCodeHistoricalService, "Historical Market Data Service error message:pacing violation", "")
		return []ibapi.Bar{{Date: "1609770600", Open: 1, High: 1, Low: 1, Close: 1}}
	}
	withFakeTWS(t, fake)
	session := newTestSession(t)

	contract := gateway.Contract{ConID: 4391, Symbol: "AMD", SecType: "STK", Exchange: "SMART", Currency: "USD"}
	bars := session.Client().FetchHistoricalData(contract, "20210105-00:00:00", "1 D", "1 min", 7)

	if len(bars) != 1 || bars[0].Time != 1609770600 {
		t.Errorf("Expected the received bar to be kept, got %+v", bars)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.cancels) != 1 || fake.cancels[0] != 7 {
		t.Errorf("Expected exactly one cancel of request 7, got %v", fake.cancels)
	}
}

func TestGatewayClient_NotConnected(t *testing.T) {
	withFakeTWS(t, &fakeTWS{})
	w := broker.NewWrapper()
	g := NewGatewayClient(w)

	if err := g.Run(); err != gateway.ErrNotConnected {
		t.Errorf("Run before Connect = %v", err)
	}
	q := w.InitHistoricalData(1)
	g.ReqHistoricalData(1, &gateway.Contract{ConID: 1}, "", "1 D", "1 day", "TRADES", true, 2, false, nil)
	if _, status := q.Drain(100 * time.Millisecond); status != completion.Finished {
		t.Errorf("Expected immediate end, got %s", status)
	}
	if msg, _ := w.NextError(0); !strings.Contains(msg, "error code 504") {
		t.Errorf("Expected not connected error, got %q", msg)
	}
	if err := g.Disconnect(); err != nil {
		t.Errorf("Disconnect on unconnected client failed: %v", err)
	}
}

func TestGatewayClient_ConnectFailure(t *testing.T) {
	withFakeTWS(t, &fakeTWS{connectErr: errors.New("connection refused")})
	g := NewGatewayClient(broker.NewWrapper())

	err := g.Connect("127.0.0.1", 7497, 3)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Expected connect error, got %v", err)
	}
	if g.IsConnected() {
		t.Error("Client should not be connected")
	}
}

func TestGatewayClient_DisconnectStopsRun(t *testing.T) {
	fake := &fakeTWS{}
	withFakeTWS(t, fake)
	w := broker.NewWrapper()
	g := NewGatewayClient(w)
	if err := g.Connect("127.0.0.1", 7497, 3); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- g.Run() }()

	g.Disconnect()
	g.Disconnect()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after Disconnect", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Disconnect")
	}
	if fake.disconnects != 1 {
		t.Errorf("Expected one socket disconnect, got %d", fake.disconnects)
	}
	if w.HasError() {
		t.Error("A local disconnect must not report an error")
	}
}

func TestGatewayClient_RemoteCloseStopsRun(t *testing.T) {
	fake := &fakeTWS{}
	withFakeTWS(t, fake)
	w := broker.NewWrapper()
	g := NewGatewayClient(w)
	if err := g.Connect("127.0.0.1", 7497, 3); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- g.Run() }()

	fake.bridge.ConnectionClosed()
	select {
	case err := <-done:
		if err != ErrConnectionClosed {
			t.Errorf("Expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the remote close")
	}
	if g.IsConnected() {
		t.Error("Client should not be connected")
	}
	if msg, _ := w.NextError(0); !strings.Contains(msg, "error code 504") {
		t.Errorf("Expected connection lost error, got %q", msg)
	}
}

func TestBridge_NoticesAreNotForwarded(t *testing.T) {
	w := broker.NewWrapper()
	b := &bridge{target: w}

	b.Error(gateway.NoValidID, 0, 2104, "Market data farm connection is OK:usfarm", "")
	b.Error(gateway.NoValidID, 0, 2158, "Sec-def data farm connection is OK:secdefnj", "")
	if w.HasError() {
		t.Fatal("Farm status notices should only be logged")
	}

	b.Error(5, 0, 162, "Historical Market Data Service error message:HMDS query returned no data", "")
	msg, ok := w.NextError(0)
	if !ok || !strings.Contains(msg, "id 5 error code 162") {
		t.Errorf("Expected forwarded error, got %q", msg)
	}
}

func TestBridge_SkipsUnparsableBars(t *testing.T) {
	w := broker.NewWrapper()
	b := &bridge{target: w}
	q := w.InitHistoricalData(2)

	b.HistoricalData(2, &ibapi.Bar{Date: "not a date"})
	b.HistoricalData(2, &ibapi.Bar{Date: "20210104", Close: 10})
	b.HistoricalDataEnd(2, "", "")

	bars, status := q.Drain(time.Second)
	if status != completion.Finished || len(bars) != 1 || bars[0].Close != 10 {
		t.Errorf("Expected the one valid bar, got %s %+v", status, bars)
	}
}
