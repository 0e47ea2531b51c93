package main

import (
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"

	"histdata/go_src/app"
	"histdata/go_src/configuration"
	"histdata/go_src/database"
	"histdata/go_src/download"
	"histdata/go_src/gateway"
	"histdata/go_src/logging_helper"
)

const (
	appName    = "histdata"
	dateLayout = "2006-01-02"
)

type cliOptions struct {
	configPath string
	host       string
	port       int
	clientID   int64
	ticker     string
	secType    string
	exchange   string
	currency   string
	from       string
	to         string
	barSize    string
	history    bool
	limit      int
}

func parseFlags(args []string) (cliOptions, error) {
	var o cliOptions
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", configuration.PathFromEnv(), "configuration file (JSON or YAML)")
	fs.StringVar(&o.host, "host", "", "gateway host (default from config)")
	fs.IntVar(&o.port, "port", 0, "gateway port (default from config)")
	fs.Int64Var(&o.clientID, "client-id", -1, "gateway client id (default from config)")
	fs.StringVar(&o.ticker, "ticker", "", "instrument symbol, e.g. AMD")
	fs.StringVar(&o.secType, "sec-type", gateway.SecTypeStock, "security type: STK, CASH, FUT, CFD, IND, FUND, BOND")
	fs.StringVar(&o.exchange, "exchange", gateway.SmartExchange, "exchange")
	fs.StringVar(&o.currency, "currency", "USD", "currency")
	fs.StringVar(&o.from, "from", "", "first day to download, "+dateLayout)
	fs.StringVar(&o.to, "to", "", "day after the last day to download, "+dateLayout+" (default today)")
	fs.StringVar(&o.barSize, "bar-size", "1 day", "bar size, e.g. \"1 min\", \"1 hour\", \"1 day\"")
	fs.BoolVar(&o.history, "history", false, "list recorded downloads instead of downloading")
	fs.IntVar(&o.limit, "limit", 20, "number of downloads listed by -history")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

func buildRequest(o cliOptions, cfg *configuration.Config, now time.Time) (download.Request, error) {
	if o.ticker == "" {
		return download.Request{}, fmt.Errorf("-ticker is required")
	}
	if o.from == "" {
		return download.Request{}, fmt.Errorf("-from is required")
	}
	from, err := time.ParseInLocation(dateLayout, o.from, time.UTC)
	if err != nil {
		return download.Request{}, fmt.Errorf("invalid -from date '%s': %w", o.from, err)
	}
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if o.to != "" {
		if to, err = time.ParseInLocation(dateLayout, o.to, time.UTC); err != nil {
			return download.Request{}, fmt.Errorf("invalid -to date '%s': %w", o.to, err)
		}
	}

	conn := download.Connection{Host: cfg.Gateway.Host, Port: cfg.Gateway.Port, ClientID: cfg.Gateway.ClientID}
	if o.host != "" {
		conn.Host = o.host
	}
	if o.port > 0 {
		conn.Port = o.port
	}
	if o.clientID >= 0 {
		conn.ClientID = o.clientID
	}

	return download.Request{
		Connection: conn,
		Contract:   download.ContractSpec{Ticker: o.ticker, SecType: o.secType, Exchange: o.exchange, Currency: o.currency},
		Hist:       download.HistInfo{FromDate: from, ToDate: to, BarSize: o.barSize},
	}, nil
}

func printHistory(a *app.App, limit int, ticker string) error {
	if a.DB == nil {
		return fmt.Errorf("the database is disabled in the configuration")
	}
	records, err := database.NewDownloadLog(a.DB).ListDownloads(ticker, limit)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%s  %-36s  %-8s %-8s %s..%s  %-5s %6d bars  %s%s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.RunID, r.Symbol, r.BarSize,
			r.FromDate.Format(dateLayout), r.ToDate.Format(dateLayout), r.State, r.BarCount, r.FileName, r.Message)
	}
	return nil
}

// newApp is swapped in tests.
var newApp = app.New

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code: 2 for usage errors, 1 for a failed download.
// Usage errors are reported before any output is opened.
func run(args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		return 2
	}

	cfg, err := configuration.LoadConfig(opts.configPath)
	if err != nil {
		stdlog.Printf("Failed to load configuration from %s: %v", opts.configPath, err)
		return 1
	}
	if err := cfg.ValidateConfig(); err != nil {
		stdlog.Printf("Invalid configuration: %v", err)
		return 1
	}

	var req download.Request
	if !opts.history {
		req, err = buildRequest(opts, cfg, time.Now().UTC())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	}

	logCloser, err := logging_helper.SetupLogging(cfg, appName)
	if err != nil {
		stdlog.Printf("Failed to setup logging: %v", err)
		return 1
	}
	defer logCloser.Close()

	a, err := newApp(cfg)
	if err != nil {
		logrus.Errorf("Failed to start %s: %v", appName, err)
		return 1
	}
	defer a.Close()

	if opts.history {
		if err := printHistory(a, opts.limit, opts.ticker); err != nil {
			logrus.Errorf("Failed to list downloads: %v", err)
			return 1
		}
		return 0
	}

	task := a.Runner.Start(req, download.Hooks{
		Log:   func(line string) { fmt.Println(line) },
		Done:  func(bars []gateway.Bar, fileName string) { fmt.Printf("Downloaded %d bars to %s\n", len(bars), fileName) },
		Error: func(msg string) { fmt.Fprintf(os.Stderr, "Download failed: %s\n", msg) },
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case <-task.Done():
	case sig := <-quit:
		logrus.Warnf("Received %s, waiting for download %s to stop", sig, task.ID())
		<-task.Done()
	}

	if task.State() != download.Done {
		return 1
	}
	return 0
}
