package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookgo/inject"
	"github.com/facebookgo/startstop"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"

	"github.com/honeycombio/intake/app"
	"github.com/honeycombio/intake/collect"
	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/internal/health"
	"github.com/honeycombio/intake/internal/redis"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
	"github.com/honeycombio/intake/receive/kafka"
	"github.com/honeycombio/intake/receive/pulsar"
	"github.com/honeycombio/intake/receive/sqs"
	"github.com/honeycombio/intake/route"
	"github.com/honeycombio/intake/sample"
)

// set by the release build.
var BuildID string
var version string

type graphLogger struct{}

func (g graphLogger) Debugf(format string, v ...interface{}) {
	fmt.Printf(format, v...)
	fmt.Println()
}

func main() {
	opts, err := config.NewCmdEnvOptions(os.Args)
	if err != nil {
		fmt.Printf("Command line parsing error '%s' -- call with --help for usage.\n", err)
		os.Exit(1)
	}

	if BuildID == "" {
		version = "dev"
	} else {
		version = BuildID
	}

	if opts.Version {
		fmt.Println("Version: " + version)
		os.Exit(0)
	}

	a := app.App{}

	c, err := config.NewConfig(opts, func(err error) {
		if a.Logger != nil {
			a.Logger.Error().WithField("error", err.Error()).Logf("error reloading config")
		}
	})
	if err != nil {
		fmt.Printf("%+v\n", err)
		os.Exit(1)
	}
	if opts.Validate {
		fmt.Println("Config validated successfully.")
		os.Exit(0)
	}

	lgr := logger.GetLoggerImplementation(c)
	if err := lgr.SetLevel(c.GetLoggerLevel().String()); err != nil {
		fmt.Printf("unable to set logging level: %v\n", err)
		os.Exit(1)
	}
	metricsSingleton := metrics.GetMetricsImplementation(c, lgr)

	store, err := app.NewStorage(c)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	// upstreamTransport is the http transport used to send things on to Honeycomb
	upstreamTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	var g inject.Graph
	if os.Getenv("INTAKE_DEBUG_INJECT") != "" {
		g.Logger = graphLogger{}
	}
	objects := []*inject.Object{
		{Value: c},
		{Value: lgr},
		{Value: upstreamTransport, Name: "upstreamTransport"},
		{Value: clockwork.NewRealClock()},
		{Value: metricsSingleton, Name: "metrics"},
		{Value: version, Name: "version"},
		{Value: store, Name: "storage"},
		{Value: &redis.Client{}},
		{Value: &sample.SamplerFactory{}},
		{Value: &collect.Collector{}},
		{Value: &health.Health{}},
		{Value: &route.Router{}},
		{Value: &kafka.Receiver{}},
		{Value: &pulsar.Receiver{}},
		{Value: &sqs.Receiver{}},
		{Value: &a},
	}
	if err := g.Provide(objects...); err != nil {
		fmt.Printf("failed to provide injection graph. error: %+v\n", err)
		os.Exit(1)
	}
	if err := g.Populate(); err != nil {
		fmt.Printf("failed to populate injection graph. error: %+v\n", err)
		os.Exit(1)
	}

	// the logger provided to startstop must be valid before any service is
	// started, meaning it can't rely on injected configs. make a custom logger
	// just for this step
	ststLogger := logrus.New()
	ststLogger.SetLevel(logrus.InfoLevel)

	defer startstop.Stop(g.Objects(), ststLogger)
	if err := startstop.Start(g.Objects(), ststLogger); err != nil {
		fmt.Printf("failed to start injected dependencies. error: %+v\n", err)
		os.Exit(1)
	}

	// set up signal channel to exit
	sigsToExit := make(chan os.Signal, 1)
	signal.Notify(sigsToExit, syscall.SIGINT, syscall.SIGTERM)

	// block on our signal handler to exit
	sig := <-sigsToExit
	a.Logger.Error().Logf("Caught signal \"%s\"", sig)
}
