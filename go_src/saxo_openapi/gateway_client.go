package saxo_openapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"histdata/go_src/gateway"
)

// GatewayConfig configures a GatewayClient.
type GatewayConfig struct {
	Environment string
	Tokens      TokenSource
	HTTPTimeout time.Duration
}

type jobKind int

const (
	jobContractDetails jobKind = iota
	jobHistoricalData
)

type job struct {
	kind        jobKind
	reqID       int64
	contract    gateway.Contract
	endDateTime string
	duration    string
	barSize     string
	whatToShow  string
}

// GatewayClient implements gateway.EClient on top of the Saxo OpenAPI.
// Requests are queued and executed one at a time by Run; every request is
// answered through the wrapper and always ends with its End callback.
type GatewayClient struct {
	wrapper gateway.EWrapper
	cfg     GatewayConfig

	mu        sync.Mutex
	api       *Client
	connected bool
	stop      chan struct{}
	pending   []job
	wake      chan struct{}
	inflight  map[int64]context.CancelFunc
	cancelled map[int64]bool
}

var _ gateway.EClient = (*GatewayClient)(nil)

// NewGatewayClient creates a disconnected client delivering callbacks to w.
func NewGatewayClient(w gateway.EWrapper, cfg GatewayConfig) *GatewayClient {
	if cfg.Environment == "" {
		cfg.Environment = EnvironmentSimulation
	}
	return &GatewayClient{
		wrapper:   w,
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
		inflight:  make(map[int64]context.CancelFunc),
		cancelled: make(map[int64]bool),
	}
}

// Factory returns a constructor suitable for broker.NewSession.
func Factory(cfg GatewayConfig) func(w gateway.EWrapper) gateway.EClient {
	return func(w gateway.EWrapper) gateway.EClient {
		return NewGatewayClient(w, cfg)
	}
}

// Connect points the REST client at host:port and verifies the session.
// An empty host keeps the environment's default gateway. The client id is only logged.
func (g *GatewayClient) Connect(host string, port int, clientID int64) error {
	api, err := NewClient(g.cfg.Tokens, g.cfg.Environment, g.cfg.HTTPTimeout)
	if err != nil {
		return fmt.Errorf("failed to create Saxo client: %w", err)
	}
	if host != "" {
		base, err := baseURLFor(host, port)
		if err != nil {
			return err
		}
		api.SetAPIBaseURL(base)
	}

	ctx, cancel := context.WithTimeout(context.Background(), api.httpClient.Timeout)
	defer cancel()
	user, err := api.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify Saxo session at %s: %w", api.APIBaseURL(), err)
	}
	logrus.Infof("Saxo session verified for user %s (client key %s, client id %d)", user.UserID, user.ClientKey, clientID)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.api = api
	g.connected = true
	g.stop = make(chan struct{})
	g.pending = nil
	return nil
}

func baseURLFor(host string, port int) (string, error) {
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil {
			return "", fmt.Errorf("invalid gateway host '%s': %w", host, err)
		}
		if port > 0 && u.Port() == "" {
			u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
		}
		return strings.TrimRight(u.String(), "/"), nil
	}
	scheme := "http"
	if port == 443 {
		scheme = "https"
	}
	if port > 0 {
		return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port)), nil
	}
	return scheme + "://" + host, nil
}

// IsConnected reports whether Connect succeeded and Disconnect has not been called.
func (g *GatewayClient) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Run executes queued requests until Disconnect.
func (g *GatewayClient) Run() error {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return gateway.ErrNotConnected
	}
	stop := g.stop
	g.mu.Unlock()

	for {
		j, ok := g.next(stop)
		if !ok {
			logrus.Debug("Saxo gateway event loop stopped")
			return nil
		}
		g.execute(j)
	}
}

func (g *GatewayClient) next(stop <-chan struct{}) (job, bool) {
	for {
		g.mu.Lock()
		if len(g.pending) > 0 {
			j := g.pending[0]
			g.pending = g.pending[1:]
			g.mu.Unlock()
			return j, true
		}
		g.mu.Unlock()

		select {
		case <-g.wake:
		case <-stop:
			return job{}, false
		}
	}
}

func (g *GatewayClient) enqueue(j job) bool {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return false
	}
	delete(g.cancelled, j.reqID)
	g.pending = append(g.pending, j)
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
	return true
}

func (g *GatewayClient) ReqContractDetails(reqID int64, contract *gateway.Contract) {
	if contract == nil {
		g.wrapper.Error(reqID, gateway.ErrCodeBadRequest, "contract is required")
		g.wrapper.ContractDetailsEnd(reqID)
		return
	}
	if !g.enqueue(job{kind: jobContractDetails, reqID: reqID, contract: *contract}) {
		g.wrapper.Error(reqID, gateway.ErrCodeNotConnected, "Not connected")
		g.wrapper.ContractDetailsEnd(reqID)
	}
}

func (g *GatewayClient) ReqHistoricalData(reqID int64, contract *gateway.Contract, endDateTime string, duration string, barSize string, whatToShow string, useRTH bool, formatDate int, keepUpToDate bool, chartOptions []gateway.TagValue) {
	if contract == nil {
		g.wrapper.Error(reqID, gateway.ErrCodeBadRequest, "contract is required")
		g.wrapper.HistoricalDataEnd(reqID, "", "")
		return
	}
	if keepUpToDate {
		logrus.Warnf("Historical request %d: keepUpToDate is not supported, returning a snapshot", reqID)
	}
	if !useRTH {
		logrus.Debugf("Historical request %d: chart data always includes the full session", reqID)
	}
	j := job{
		kind:        jobHistoricalData,
		reqID:       reqID,
		contract:    *contract,
		endDateTime: endDateTime,
		duration:    duration,
		barSize:     barSize,
		whatToShow:  whatToShow,
	}
	if !g.enqueue(j) {
		g.wrapper.Error(reqID, gateway.ErrCodeNotConnected, "Not connected")
		g.wrapper.HistoricalDataEnd(reqID, "", "")
	}
}

// CancelHistoricalData aborts the in-flight request or drops a queued one.
// A cancelled request produces no further callbacks.
func (g *GatewayClient) CancelHistoricalData(reqID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled[reqID] = true
	if cancel, ok := g.inflight[reqID]; ok {
		cancel()
	}
	logrus.Debugf("Historical request %d cancelled", reqID)
}

// Disconnect stops Run and aborts the in-flight request. It is safe to call twice.
func (g *GatewayClient) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil
	}
	g.connected = false
	for _, cancel := range g.inflight {
		cancel()
	}
	g.pending = nil
	close(g.stop)
	return nil
}

func (g *GatewayClient) execute(j job) {
	g.mu.Lock()
	if g.cancelled[j.reqID] {
		delete(g.cancelled, j.reqID)
		g.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.inflight[j.reqID] = cancel
	api := g.api
	g.mu.Unlock()

	defer func() {
		cancel()
		g.mu.Lock()
		delete(g.inflight, j.reqID)
		g.mu.Unlock()
	}()

	switch j.kind {
	case jobContractDetails:
		g.contractDetails(ctx, api, j)
	case jobHistoricalData:
		g.historicalData(ctx, api, j)
	}
}

func (g *GatewayClient) contractDetails(ctx context.Context, api *Client, j job) {
	defer g.wrapper.ContractDetailsEnd(j.reqID)

	assetType, err := AssetTypeFor(j.contract.SecType)
	if err != nil {
		g.wrapper.Error(j.reqID, gateway.ErrCodeBadRequest, err.Error())
		return
	}
	params := &GetInstrumentsParams{
		Keywords:   &j.contract.Symbol,
		AssetTypes: &assetType,
	}
	if ex := j.contract.Exchange; ex != "" && !strings.EqualFold(ex, gateway.SmartExchange) {
		params.ExchangeID = &ex
	}
	resp, err := api.GetInstruments(ctx, params)
	if err != nil {
		g.wrapper.Error(j.reqID, codeFor(err, gateway.ErrCodeBadRequest), err.Error())
		return
	}

	found := 0
	for _, inst := range resp.Data {
		if !symbolMatches(inst.Symbol, j.contract.Symbol) {
			continue
		}
		if j.contract.Currency != "" && !strings.EqualFold(inst.CurrencyCode, j.contract.Currency) {
			continue
		}
		found++
		g.wrapper.ContractDetails(j.reqID, &gateway.ContractDetails{
			Contract: gateway.Contract{
				ConID:           inst.Identifier,
				Symbol:          j.contract.Symbol,
				SecType:         j.contract.SecType,
				Exchange:        j.contract.Exchange,
				PrimaryExchange: inst.ExchangeID,
				Currency:        inst.CurrencyCode,
				LocalSymbol:     inst.Symbol,
			},
			LongName: inst.Description,
		})
	}
	if found == 0 {
		g.wrapper.Error(j.reqID, gateway.ErrCodeNoSecurityDef, "No security definition has been found for the request")
	}
}

func (g *GatewayClient) historicalData(ctx context.Context, api *Client, j job) {
	var start, end time.Time
	aborted := false
	defer func() {
		if aborted || (ctx.Err() != nil && g.isCancelled(j.reqID)) {
			return
		}
		g.wrapper.HistoricalDataEnd(j.reqID, formatOrEmpty(start), formatOrEmpty(end))
	}()

	if !j.contract.IsResolved() {
		g.wrapper.Error(j.reqID, gateway.ErrCodeNoSecurityDef, fmt.Sprintf("contract %s is not resolved", j.contract))
		return
	}
	assetType, err := AssetTypeFor(j.contract.SecType)
	if err != nil {
		g.wrapper.Error(j.reqID, gateway.ErrCodeBadRequest, err.Error())
		return
	}
	horizon, err := gateway.BarSizeMinutes(j.barSize)
	if err != nil {
		g.wrapper.Error(j.reqID, gateway.ErrCodeBadRequest, err.Error())
		return
	}
	end = time.Now().UTC()
	if j.endDateTime != "" {
		if end, err = gateway.ParseEndDateTime(j.endDateTime); err != nil {
			g.wrapper.Error(j.reqID, gateway.ErrCodeBadRequest, err.Error())
			return
		}
	}
	spec, err := gateway.ParseDurationSpec(j.duration)
	if err != nil {
		g.wrapper.Error(j.reqID, gateway.ErrCodeBadRequest, err.Error())
		return
	}
	start = spec.Before(end)

	// Pages are delivered as they arrive so a slow download keeps the
	// caller's wait alive and a cancel keeps what was already received.
	err = api.EachChartPage(ctx, assetType, j.contract.ConID, horizon, start, end, func(page []ChartSample) {
		if ctx.Err() != nil {
			return
		}
		for _, s := range page {
			bar := SampleToBar(s, j.whatToShow)
			g.wrapper.HistoricalData(j.reqID, &bar)
		}
	})
	if err != nil {
		if ctx.Err() != nil && g.isCancelled(j.reqID) {
			aborted = true
			return
		}
		g.wrapper.Error(j.reqID, codeFor(err, gateway.ErrCodeHistoricalService),
			"Historical Market Data Service error message: "+err.Error())
	}
}

func (g *GatewayClient) isCancelled(reqID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelled[reqID] {
		delete(g.cancelled, reqID)
		return true
	}
	return !g.connected
}

func formatOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return gateway.FormatEndDateTime(t)
}

func codeFor(err error, fallback int64) int64 {
	if code := StatusCode(err); code != 0 {
		return int64(code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return gateway.ErrCodeHistoricalService
	}
	return fallback
}

// AssetTypeFor maps a security type to the Saxo asset type used for lookups and charts.
func AssetTypeFor(secType string) (string, error) {
	switch strings.ToUpper(secType) {
	case gateway.SecTypeStock:
		return "Stock", nil
	case gateway.SecTypeCash:
		return "FxSpot", nil
	case gateway.SecTypeFuture:
		return "ContractFutures", nil
	case gateway.SecTypeCFD:
		return "CfdOnStock", nil
	case gateway.SecTypeIndex:
		return "StockIndex", nil
	case gateway.SecTypeFund:
		return "Etf", nil
	case gateway.SecTypeBond:
		return "Bond", nil
	default:
		return "", fmt.Errorf("unsupported security type '%s'", secType)
	}
}

// symbolMatches compares a Saxo symbol such as "AMD:xnas" with a plain ticker.
func symbolMatches(saxoSymbol, ticker string) bool {
	base, _, _ := strings.Cut(saxoSymbol, ":")
	return strings.EqualFold(base, ticker) || strings.EqualFold(saxoSymbol, ticker)
}

// SampleToBar converts a chart sample to a bar. Quoted samples use bid, ask or
// mid prices depending on whatToShow; they carry no volume.
func SampleToBar(s ChartSample, whatToShow string) gateway.Bar {
	bar := gateway.Bar{Time: s.Time.Unix()}
	if !s.IsQuoted() {
		bar.Open, bar.High, bar.Low, bar.Close, bar.Volume = s.Open, s.High, s.Low, s.Close, s.Volume
		return bar
	}
	switch strings.ToUpper(whatToShow) {
	case "BID":
		bar.Open, bar.High, bar.Low, bar.Close = s.OpenBid, s.HighBid, s.LowBid, s.CloseBid
	case "ASK":
		bar.Open, bar.High, bar.Low, bar.Close = s.OpenAsk, s.HighAsk, s.LowAsk, s.CloseAsk
	default:
		bar.Open = (s.OpenBid + s.OpenAsk) / 2
		bar.High = (s.HighBid + s.HighAsk) / 2
		bar.Low = (s.LowBid + s.LowAsk) / 2
		bar.Close = (s.CloseBid + s.CloseAsk) / 2
	}
	return bar
}
