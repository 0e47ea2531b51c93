// Package ib_gateway implements gateway.EClient against a TWS or IB Gateway
// socket using github.com/scmhub/ibapi.
package ib_gateway

import (
	"errors"
	"fmt"
	"sync"

	"github.com/scmhub/ibapi"
	"github.com/sirupsen/logrus"

	"histdata/go_src/gateway"
)

// ErrConnectionClosed is returned by Run when TWS closes the socket.
var ErrConnectionClosed = errors.New("ib gateway: connection closed by remote")

// apiClient is the subset of *ibapi.EClient the adapter drives.
type apiClient interface {
	Connect(host string, port int, clientID int64) error
	Disconnect() error
	IsConnected() bool
	ReqContractDetails(reqID int64, contract *ibapi.Contract)
	ReqHistoricalData(reqID int64, contract *ibapi.Contract, endDateTime string, duration string, barSize string, whatToShow string, useRTH bool, formatDate int, keepUpToDate bool, chartOptions []ibapi.TagValue)
	CancelHistoricalData(reqID int64)
}

// newAPIClient is swapped in tests.
var newAPIClient = func(w ibapi.EWrapper) apiClient {
	return ibapi.NewEClient(w)
}

// bridge receives ibapi callbacks and forwards the ones the downloader
// listens to. Everything else falls through to the library's default wrapper.
type bridge struct {
	ibapi.Wrapper
	target gateway.EWrapper
	closed func()
}

func (b *bridge) ContractDetails(reqID int64, details *ibapi.ContractDetails) {
	if details == nil {
		return
	}
	cd := ContractDetailsFromIB(details)
	b.target.ContractDetails(reqID, &cd)
}

func (b *bridge) ContractDetailsEnd(reqID int64) {
	b.target.ContractDetailsEnd(reqID)
}

func (b *bridge) HistoricalData(reqID int64, bar *ibapi.Bar) {
	if bar == nil {
		return
	}
	out, err := BarFromIB(bar)
	if err != nil {
		logrus.Warnf("Historical request %d: skipping bar: %v", reqID, err)
		return
	}
	b.target.HistoricalData(reqID, &out)
}

func (b *bridge) HistoricalDataEnd(reqID int64, startDateStr string, endDateStr string) {
	b.target.HistoricalDataEnd(reqID, startDateStr, endDateStr)
}

func (b *bridge) Error(reqID ibapi.TickerID, errorTime int64, errCode int64, errString string, advancedOrderRejectJson string) {
	if IsNotice(errCode) {
		logrus.Infof("IB notice id %d code %d: %s", reqID, errCode, errString)
		return
	}
	if advancedOrderRejectJson != "" {
		logrus.Debugf("IB error id %d advanced reject: %s", reqID, advancedOrderRejectJson)
	}
	b.target.Error(int64(reqID), errCode, errString)
}

func (b *bridge) ConnectionClosed() {
	if b.closed != nil {
		b.closed()
	}
}

// GatewayClient implements gateway.EClient over the TWS socket API.
// ibapi runs its own reader; Run only blocks until the connection ends.
type GatewayClient struct {
	wrapper gateway.EWrapper
	api     apiClient

	mu        sync.Mutex
	connected bool
	lost      bool
	stop      chan struct{}
}

var _ gateway.EClient = (*GatewayClient)(nil)

// NewGatewayClient creates a disconnected client delivering callbacks to w.
func NewGatewayClient(w gateway.EWrapper) *GatewayClient {
	g := &GatewayClient{wrapper: w}
	g.api = newAPIClient(&bridge{target: w, closed: g.connectionClosed})
	return g
}

// Factory returns a constructor suitable for broker.NewSession.
func Factory() func(w gateway.EWrapper) gateway.EClient {
	return func(w gateway.EWrapper) gateway.EClient {
		return NewGatewayClient(w)
	}
}

// Connect opens the socket and performs the API handshake.
func (g *GatewayClient) Connect(host string, port int, clientID int64) error {
	if err := g.api.Connect(host, port, clientID); err != nil {
		return fmt.Errorf("failed to connect to IB gateway: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true
	g.lost = false
	g.stop = make(chan struct{})
	logrus.Infof("IB API session opened (client id %d)", clientID)
	return nil
}

// IsConnected reports whether the socket is up and Disconnect has not been called.
func (g *GatewayClient) IsConnected() bool {
	g.mu.Lock()
	connected := g.connected
	g.mu.Unlock()
	return connected && g.api.IsConnected()
}

// Run blocks until Disconnect or until TWS drops the connection.
func (g *GatewayClient) Run() error {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return gateway.ErrNotConnected
	}
	stop := g.stop
	g.mu.Unlock()

	<-stop

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lost {
		return ErrConnectionClosed
	}
	logrus.Debug("IB gateway event loop stopped")
	return nil
}

func (g *GatewayClient) connectionClosed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return
	}
	logrus.Warn("IB gateway closed the connection")
	g.connected = false
	g.lost = true
	close(g.stop)
	g.wrapper.Error(gateway.NoValidID, gateway.ErrCodeNotConnected, "Connection to IB gateway closed")
}

func (g *GatewayClient) isConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *GatewayClient) ReqContractDetails(reqID int64, contract *gateway.Contract) {
	if contract == nil {
		g.wrapper.Error(reqID, gateway.ErrCodeBadRequest, "contract is required")
		g.wrapper.ContractDetailsEnd(reqID)
		return
	}
	if !g.isConnected() {
		g.wrapper.Error(reqID, gateway.ErrCodeNotConnected, "Not connected")
		g.wrapper.ContractDetailsEnd(reqID)
		return
	}
	g.api.ReqContractDetails(reqID, ContractToIB(*contract))
}

func (g *GatewayClient) ReqHistoricalData(reqID int64, contract *gateway.Contract, endDateTime string, duration string, barSize string, whatToShow string, useRTH bool, formatDate int, keepUpToDate bool, chartOptions []gateway.TagValue) {
	if contract == nil {
		g.wrapper.Error(reqID, gateway.ErrCodeBadRequest, "contract is required")
		g.wrapper.HistoricalDataEnd(reqID, "", "")
		return
	}
	if !g.isConnected() {
		g.wrapper.Error(reqID, gateway.ErrCodeNotConnected, "Not connected")
		g.wrapper.HistoricalDataEnd(reqID, "", "")
		return
	}
	g.api.ReqHistoricalData(reqID, ContractToIB(*contract), endDateTime, duration, barSize, whatToShow,
		useRTH, formatDate, keepUpToDate, tagValuesToIB(chartOptions))
}

func (g *GatewayClient) CancelHistoricalData(reqID int64) {
	if !g.isConnected() {
		return
	}
	g.api.CancelHistoricalData(reqID)
	logrus.Debugf("Historical request %d cancelled", reqID)
}

// Disconnect closes the socket and stops Run. It is safe to call twice.
func (g *GatewayClient) Disconnect() error {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return nil
	}
	g.connected = false
	close(g.stop)
	g.mu.Unlock()

	if err := g.api.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from IB gateway: %w", err)
	}
	return nil
}
