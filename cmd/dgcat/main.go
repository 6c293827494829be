// Command dgcat relays length-preserving datagrams between a source
// endpoint (UDP socket, file, stdin, or a random generator) and a
// destination endpoint (UDP socket, file, or stdout), framing records on
// non-datagram transports. A flat list of flag.XxxVar calls, positional
// args via flag.Args(), fmt.Fprintf(os.Stderr, ...) banners and a closing
// stats line.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaydg/dgcat/internal/config"
	"github.com/relaydg/dgcat/internal/copier"
	"github.com/relaydg/dgcat/internal/endpoint"
	"github.com/relaydg/dgcat/internal/ifacestat"
)

func main() {
	os.Exit(run())
}

func run() int {
	var cfg config.Config
	var noHandleSignals bool
	var nicStats string
	var eofTimeoutSecs, startTimeoutSecs float64

	flag.IntVar(&cfg.MaxDatagramSize, "max-datagram-size", 0,
		"per-datagram receive buffer size in bytes (0 = default)")
	flag.IntVar(&cfg.MaxBacklog, "max-backlog", 0,
		"ring capacity in bytes, including length prefixes (0 = default)")
	flag.Float64Var(&eofTimeoutSecs, "eof-timeout", config.DefaultEOFTimeout.Seconds(),
		"seconds of idle on a UDP source before synthesizing end-of-stream; <=0 means infinite")
	flag.Float64Var(&startTimeoutSecs, "start-timeout", -1,
		"like eof-timeout but applied only before the first datagram; negative inherits eof-timeout")
	flag.Float64Var(&cfg.MaxDatagramRate, "max-datagram-rate", 0,
		"max datagrams/second at a UDP destination; <=0 means unlimited")
	flag.Uint64Var(&cfg.MaxDatagrams, "max-datagrams", 0,
		"stop a UDP destination after N records; 0 means unlimited")
	flag.IntVar(&cfg.MaxReadSize, "max-read-size", 0,
		"read() chunk ceiling in bytes (0 = default)")
	flag.IntVar(&cfg.MaxWriteSize, "max-write-size", 0,
		"write() chunk ceiling in bytes (0 = default)")
	flag.IntVar(&cfg.MaxIovecs, "max-iovecs", 0,
		"batch width for vectored receive; 0 = OS maximum")
	flag.BoolVar(&cfg.Append, "append", false,
		"append to the destination file instead of truncating")
	flag.BoolVar(&noHandleSignals, "no-handle-signals", false,
		"disable the SIGINT/SIGUSR1 handling goroutine")
	flag.StringVar(&cfg.LogLevel, "log-level", "info",
		"debug|info|warning|error|critical")
	flag.BoolVar(&cfg.Traceback, "tb", false,
		"print a full stack trace on fatal errors")
	flag.StringVar(&nicStats, "nic-stats", "",
		"comma-separated interfaces to report ethtool -S counters for")
	flag.DurationVar(&cfg.NICStatsInterval, "nic-stats-interval", 5*time.Second,
		"how often nic-stats samples are printed")
	flag.Parse()

	cfg.HandleSignals = !noHandleSignals
	cfg.EOFTimeout = time.Duration(eofTimeoutSecs * float64(time.Second))
	cfg.StartTimeout = time.Duration(startTimeoutSecs * float64(time.Second))
	if nicStats != "" {
		cfg.NICStatsInterfaces = strings.Split(nicStats, ",")
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "dgcat: %s\n", formatErr(err, cfg.Traceback))
		return 1
	}

	args := flag.Args()
	if len(args) > 2 {
		fmt.Fprintln(os.Stderr, "dgcat: too many positional arguments (expected src [dst])")
		return 1
	}
	src, dst := "stdin", "stdout"
	if len(args) > 0 {
		src = args[0]
	}
	if len(args) > 1 {
		dst = args[1]
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logLevelToLogrus(cfg.NormalizedLogLevel()))

	fmt.Fprintf(os.Stderr, "dgcat: %s -> %s\n", src, dst)

	sourceEp, err := endpoint.NewSource(src, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dgcat: opening source: %s\n", formatErr(err, cfg.Traceback))
		return 1
	}
	destEp, err := endpoint.NewDestination(dst, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dgcat: opening destination: %s\n", formatErr(err, cfg.Traceback))
		return 1
	}

	var monitor *ifacestat.Monitor
	if len(cfg.NICStatsInterfaces) > 0 {
		monitor = ifacestat.NewMonitor(cfg.NICStatsInterfaces, cfg.NICStatsInterval, os.Stderr)
		monitor.Start()
		defer monitor.Stop()
	}

	c := copier.New(cfg, log, sourceEp, destEp)
	c.Start()
	runErr := c.Wait()

	fmt.Fprintf(os.Stderr, "dgcat: %s\n", c.Stats().BriefString())

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "dgcat: %s\n", formatErr(runErr, cfg.Traceback))
		return 1
	}
	return 0
}

func formatErr(err error, traceback bool) string {
	if traceback {
		return fmt.Sprintf("%+v", err)
	}
	return err.Error()
}

func logLevelToLogrus(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "critical":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}
