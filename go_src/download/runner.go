// Package download runs broker sessions in the background and relays their
// notifications to the caller through a per-run log queue.
package download

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"histdata/go_src/broker"
	"histdata/go_src/gateway"
)

// BarSink stores downloaded bars next to the CSV output.
type BarSink interface {
	StoreBars(runID, symbol, barSize string, bars []gateway.Bar) (int, error)
}

// RunRecord summarises a finished run.
type RunRecord struct {
	RunID    string
	Symbol   string
	BarSize  string
	From     time.Time
	To       time.Time
	State    State
	FileName string
	BarCount int
	Message  string
}

// RunRecorder keeps a history of finished runs.
type RunRecorder interface {
	RecordRun(rec RunRecord) error
}

// RunRecorderFunc adapts a func to RunRecorder.
type RunRecorderFunc func(rec RunRecord) error

func (f RunRecorderFunc) RecordRun(rec RunRecord) error { return f(rec) }

// ListenerFactory builds an extra notification listener for a run.
type ListenerFactory func(runID string) broker.Listener

// RunnerConfig configures every session the runner creates.
type RunnerConfig struct {
	Session broker.SessionConfig
}

// Option customises a Runner.
type Option func(*Runner)

// WithBarSink stores every successful download in sink.
func WithBarSink(sink BarSink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithRunRecorder records the outcome of every run.
func WithRunRecorder(rec RunRecorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithLogListener adds a listener built per run, e.g. a message queue publisher.
func WithLogListener(f ListenerFactory) Option {
	return func(r *Runner) {
		if f != nil {
			r.listeners = append(r.listeners, f)
		}
	}
}

// WithEventSink relays every notification and the final outcome of each run to sink.
func WithEventSink(sink EventSink) Option {
	return func(r *Runner) {
		if sink != nil {
			r.events = append(r.events, sink)
		}
	}
}

// Runner starts downloads on worker goroutines.
type Runner struct {
	factory   broker.ClientFactory
	cfg       RunnerConfig
	sink      BarSink
	recorder  RunRecorder
	listeners []ListenerFactory
	events    []EventSink
}

// NewRunner creates a runner whose sessions use gateway clients built by factory.
func NewRunner(factory broker.ClientFactory, cfg RunnerConfig, opts ...Option) *Runner {
	r := &Runner{factory: factory, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Task is a handle on a running download.
type Task struct {
	id   string
	done chan struct{}

	mu     sync.Mutex
	state  State
	result Result
}

// ID is the run id shared by logs, published notifications and stored bars.
func (t *Task) ID() string { return t.id }

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Wait blocks until the task reaches DONE or ERROR.
func (t *Task) Wait() Result {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Done is closed when the task has finished and its hooks have run.
func (t *Task) Done() <-chan struct{} { return t.done }

// Start launches the download described by req and returns immediately.
func (r *Runner) Start(req Request, hooks Hooks) *Task {
	task := &Task{id: uuid.NewString(), done: make(chan struct{}), state: NotStarted}

	logs := NewLogQueue()
	polled := NewPoller(logs, hooks.Log).Start()

	listeners := []broker.Listener{logs.Put}
	for _, f := range r.listeners {
		if l := f(task.id); l != nil {
			listeners = append(listeners, l)
		}
	}
	for _, sink := range r.events {
		sink := sink
		listeners = append(listeners, func(msg string) {
			sink.Publish(NewEvent(task.id, KindLog, msg))
		})
	}

	task.setState(Running)
	logrus.Infof("Download %s started: %s %s %s..%s", task.id, req.Contract.Ticker, req.Hist.BarSize,
		req.Hist.FromDate.Format("2006-01-02"), req.Hist.ToDate.Format("2006-01-02"))

	go func() {
		result := r.run(task.id, req, listeners)

		logs.Close()
		<-polled

		r.record(task.id, req, result)
		for _, sink := range r.events {
			sink.Publish(finalEvent(task.id, result))
		}

		task.mu.Lock()
		task.state = result.State
		task.result = result
		task.mu.Unlock()

		switch result.State {
		case Done:
			logrus.Infof("Download %s finished: %d bars in %s", task.id, len(result.Bars), result.FileName)
			if hooks.Done != nil {
				hooks.Done(result.Bars, result.FileName)
			}
		default:
			logrus.Errorf("Download %s failed: %s", task.id, result.Message)
			if hooks.Error != nil {
				hooks.Error(result.Message)
			}
		}
		close(task.done)
	}()
	return task
}

// Run starts a download and waits for it.
func (r *Runner) Run(req Request, hooks Hooks) Result {
	return r.Start(req, hooks).Wait()
}

func (r *Runner) run(runID string, req Request, listeners []broker.Listener) (result Result) {
	notifier := broker.NewNotifier(listeners...)

	defer func() {
		if p := recover(); p != nil {
			logrus.Errorf("Download %s panicked: %v\n%s", runID, p, debug.Stack())
			msg := fmt.Sprintf("Download failed: %v", p)
			notifier.Notify(msg)
			result = Result{State: Error, Message: msg}
		}
	}()

	if err := req.Validate(); err != nil {
		msg := fmt.Sprintf("Invalid download request: %v", err)
		notifier.Notify(msg)
		return Result{State: Error, Message: msg}
	}

	session := broker.NewSession(r.factory, r.cfg.Session, listeners...)
	defer session.Disconnect()

	conn := req.Connection
	if err := session.Connect(conn.Host, conn.Port, conn.ClientID); err != nil {
		const msg = "Cannot connect to client"
		notifier.Notify(msg)
		return Result{State: Error, Message: msg}
	}

	spec := req.Contract
	contract := session.BuildContract(spec.Ticker, spec.SecType, spec.Exchange, spec.Currency)

	notifier.Notify("Downloading is started..")
	bars := session.FetchHistoricalData(contract, req.Hist.FromDate, req.Hist.ToDate, req.Hist.BarSize)
	notifier.Notify("Downloading is finished")

	name := BuildFileName(spec.Ticker, req.Hist.FromDate, req.Hist.ToDate, req.Hist.BarSize)
	path, err := session.SaveAsCSV(bars, name)
	if err != nil {
		msg := fmt.Sprintf("Failed to save data: %v", err)
		notifier.Notify(msg)
		return Result{State: Error, Bars: bars, Message: msg}
	}

	if r.sink != nil && len(bars) > 0 {
		n, err := r.sink.StoreBars(runID, spec.Ticker, req.Hist.BarSize, bars)
		if err != nil {
			logrus.Warnf("Download %s: storing bars failed: %v", runID, err)
			notifier.Notifyf("Failed to store bars in database: %v", err)
		} else {
			notifier.Notifyf("Stored %d bars in database", n)
		}
	}

	return Result{State: Done, Bars: bars, FileName: path}
}

func (r *Runner) record(runID string, req Request, result Result) {
	if r.recorder == nil {
		return
	}
	rec := RunRecord{
		RunID:    runID,
		Symbol:   req.Contract.Ticker,
		BarSize:  req.Hist.BarSize,
		From:     req.Hist.FromDate,
		To:       req.Hist.ToDate,
		State:    result.State,
		FileName: result.FileName,
		BarCount: len(result.Bars),
		Message:  result.Message,
	}
	if err := r.recorder.RecordRun(rec); err != nil {
		logrus.Warnf("Download %s: recording run failed: %v", runID, err)
	}
}
