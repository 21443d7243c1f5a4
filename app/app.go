package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/internal/health"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
	"github.com/honeycombio/intake/route"
	"github.com/honeycombio/intake/storage"
	"github.com/honeycombio/intake/storage/honeycomb"
	"github.com/honeycombio/intake/storage/inmem"
	"github.com/honeycombio/intake/storage/redisstore"
)

// StorageCheckInterval is how often the storage backend is probed for
// readiness.
var StorageCheckInterval = 5 * time.Second

type App struct {
	Config  config.Config     `inject:""`
	Logger  logger.Logger     `inject:""`
	Router  *route.Router     `inject:""`
	Health  *health.Health    `inject:""`
	Storage storage.Component `inject:"storage"`
	Metrics metrics.Metrics   `inject:"metrics"`

	// Version is the build ID for intake so that the running process may answer
	// requests for the version
	Version string `inject:"version"`

	reload chan os.Signal
}

// Start runs after every dependency has started. It begins probing storage
// and listening for spans, and returns once the listeners are bound.
func (a *App) Start() error {
	a.Logger.Debug().Logf("Starting up App...")

	a.Health.Watch("storage", StorageCheckInterval, a.Storage.Check)
	a.Metrics.Store("start_time", float64(time.Now().Unix()))

	a.Config.RegisterReloadCallback(a.onReload)
	a.reload = make(chan os.Signal, 1)
	signal.Notify(a.reload, syscall.SIGUSR1)
	go a.listenForReload()

	if err := a.Router.LnS(); err != nil {
		return err
	}
	a.Logger.Info().WithString("version", a.Version).Logf("intake started")
	return nil
}

func (a *App) listenForReload() {
	for sig := range a.reload {
		a.Logger.Info().Logf("Caught signal \"%s\"; reloading config", sig)
		a.Config.Reload()
	}
}

// onReload applies the settings that can change without a restart.
func (a *App) onReload(hash string) {
	level := a.Config.GetLoggerLevel().String()
	if err := a.Logger.SetLevel(level); err != nil {
		a.Logger.Error().WithField("error", err.Error()).Logf("failed to apply reloaded log level")
	}
	a.Logger.Info().WithFields(map[string]any{
		"hash":  hash,
		"level": level,
	}).Logf("config reloaded")
}

func (a *App) Stop() error {
	a.Logger.Debug().Logf("Shutting down App...")
	if a.reload != nil {
		signal.Stop(a.reload)
		close(a.reload)
	}
	return nil
}

// NewStorage returns the unstarted storage backend named by the config. It
// is provided to the injection graph as "storage".
func NewStorage(c config.Config) (storage.Component, error) {
	switch t := c.GetStorageConfig().Type; t {
	case "inmem", "":
		return &inmem.Storage{}, nil
	case "redis":
		return &redisstore.Storage{}, nil
	case "honeycomb":
		return &honeycomb.Storage{}, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", t)
	}
}
