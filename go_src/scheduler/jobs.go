// Package scheduler turns configured download tasks into recurring jobs.
package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"histdata/go_src/configuration"
	"histdata/go_src/download"
)

// RunDownloadFunc runs a download to completion.
type RunDownloadFunc func(req download.Request, hooks download.Hooks) download.Result

// Jobs builds and runs the download of a configured task.
type Jobs struct {
	gateway configuration.Gateway
	run     RunDownloadFunc
	now     func() time.Time
}

// NewJobs creates the job set. run is usually (*download.Runner).Run.
func NewJobs(cfg *configuration.Config, run RunDownloadFunc) (*Jobs, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if run == nil {
		return nil, fmt.Errorf("run function is nil")
	}
	return &Jobs{gateway: cfg.Gateway, run: run, now: time.Now}, nil
}

// RequestFor covers the last task.LookbackDays days, up to today's midnight UTC.
func (j *Jobs) RequestFor(task configuration.DownloadTask) download.Request {
	now := j.now().UTC()
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	lookback := task.LookbackDays
	if lookback <= 0 {
		lookback = 1
	}
	return download.Request{
		Connection: download.Connection{
			Host:     j.gateway.Host,
			Port:     j.gateway.Port,
			ClientID: j.gateway.ClientID,
		},
		Contract: download.ContractSpec{
			Ticker:   task.Ticker,
			SecType:  task.SecType,
			Exchange: task.Exchange,
			Currency: task.Currency,
		},
		Hist: download.HistInfo{
			FromDate: to.AddDate(0, 0, -lookback),
			ToDate:   to,
			BarSize:  task.BarSize,
		},
	}
}

// Download runs task synchronously and logs its outcome.
func (j *Jobs) Download(task configuration.DownloadTask) download.Result {
	req := j.RequestFor(task)
	logrus.Infof("Scheduler: running %s (%s %s %s..%s)", task.Name, task.Ticker, task.BarSize,
		req.Hist.FromDate.Format("2006-01-02"), req.Hist.ToDate.Format("2006-01-02"))

	result := j.run(req, download.Hooks{
		Log: func(line string) { logrus.Debugf("Scheduler: %s: %s", task.Name, line) },
	})
	if result.State == download.Done {
		logrus.Infof("Scheduler: %s finished with %d bars in %s", task.Name, len(result.Bars), result.FileName)
	} else {
		logrus.Errorf("Scheduler: %s ended in state %s: %s", task.Name, result.State, result.Message)
	}
	return result
}

// Schedule registers every enabled task as a cron job on s.
func (j *Jobs) Schedule(s gocron.Scheduler, tasks []configuration.DownloadTask) ([]gocron.Job, error) {
	var jobs []gocron.Job
	for _, task := range tasks {
		if task.Disabled {
			logrus.Infof("Scheduler: task %s is disabled, skipping", task.Name)
			continue
		}
		job, err := s.NewJob(
			gocron.CronJob(task.CronExpr, false),
			gocron.NewTask(func(t configuration.DownloadTask) { j.Download(t) }, task),
			gocron.WithName(task.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return jobs, fmt.Errorf("failed to schedule task %s (%s): %w", task.Name, task.CronExpr, err)
		}
		logrus.Infof("Scheduler: task %s scheduled with cron '%s'", task.Name, task.CronExpr)
		jobs = append(jobs, job)
	}
	return jobs, nil
}
