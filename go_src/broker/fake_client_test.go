package broker

import (
	"strings"
	"sync"
	"time"

	"histdata/go_src/gateway"
)

type histRequest struct {
	reqID       int64
	endDateTime string
	duration    string
	barSize     string
	whatToShow  string
	useRTH      bool
}

// fakeClient answers requests synchronously through the wrapper using the
// scripted handlers. Unset handlers leave the request unanswered.
type fakeClient struct {
	w gateway.EWrapper

	connectErr   error
	onContract   func(w gateway.EWrapper, reqID int64, c *gateway.Contract)
	onHistorical func(w gateway.EWrapper, req histRequest)

	mu           sync.Mutex
	connected    bool
	stop         chan struct{}
	stopOnce     sync.Once
	requests     []histRequest
	cancels      map[int64]int
	disconnects  int
	contractReqs []gateway.Contract
}

func newFakeClient(w gateway.EWrapper) *fakeClient {
	return &fakeClient{w: w, stop: make(chan struct{}), cancels: make(map[int64]int)}
}

// factoryFor returns a ClientFactory that configures and records the fake.
func factoryFor(setup func(*fakeClient), out **fakeClient) ClientFactory {
	return func(w gateway.EWrapper) gateway.EClient {
		fc := newFakeClient(w)
		if setup != nil {
			setup(fc)
		}
		*out = fc
		return fc
	}
}

func (f *fakeClient) Connect(host string, port int, clientID int64) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Run() error {
	<-f.stop
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) ReqContractDetails(reqID int64, contract *gateway.Contract) {
	f.mu.Lock()
	f.contractReqs = append(f.contractReqs, *contract)
	f.mu.Unlock()
	if f.onContract != nil {
		f.onContract(f.w, reqID, contract)
	}
}

func (f *fakeClient) ReqHistoricalData(reqID int64, contract *gateway.Contract, endDateTime string, duration string, barSize string, whatToShow string, useRTH bool, formatDate int, keepUpToDate bool, chartOptions []gateway.TagValue) {
	req := histRequest{reqID: reqID, endDateTime: endDateTime, duration: duration, barSize: barSize, whatToShow: whatToShow, useRTH: useRTH}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.onHistorical != nil {
		f.onHistorical(f.w, req)
	}
}

func (f *fakeClient) CancelHistoricalData(reqID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels[reqID]++
}

func (f *fakeClient) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stop) })
	return nil
}

func (f *fakeClient) cancelCount(reqID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels[reqID]
}

func (f *fakeClient) historicalRequests() []histRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]histRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// dailyBars answers a historical request with one bar per day of its window.
// With inclusiveEnd the bar at the window end is sent too, so adjacent
// chunks overlap by one bar.
func dailyBars(inclusiveEnd bool) func(w gateway.EWrapper, req histRequest) {
	return func(w gateway.EWrapper, req histRequest) {
		end, err := gateway.ParseEndDateTime(req.endDateTime)
		if err != nil {
			w.Error(req.reqID, gateway.ErrCodeBadRequest, err.Error())
			w.HistoricalDataEnd(req.reqID, "", "")
			return
		}
		spec, err := gateway.ParseDurationSpec(req.duration)
		if err != nil {
			w.Error(req.reqID, gateway.ErrCodeBadRequest, err.Error())
			w.HistoricalDataEnd(req.reqID, "", "")
			return
		}
		for day := spec.Before(end); day.Before(end) || (inclusiveEnd && day.Equal(end)); day = day.AddDate(0, 0, 1) {
			price := float64(day.Unix() % 1000)
			w.HistoricalData(req.reqID, &gateway.Bar{
				Time: day.Unix(), Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 100,
			})
		}
		w.HistoricalDataEnd(req.reqID, "", "")
	}
}

func shortTimeouts() Timeouts {
	return Timeouts{
		ContractDetails: 50 * time.Millisecond,
		HistoricalData:  50 * time.Millisecond,
		ErrorPoll:       20 * time.Millisecond,
	}
}

// recorder collects notifications.
type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) listen(msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *recorder) contains(substr string) bool {
	for _, m := range r.messages() {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}
