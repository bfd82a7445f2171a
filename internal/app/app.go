package app

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	runtime "github.com/banzaicloud/logrus-runtime-formatter"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// App holds attributes for the pms application
type App struct {
	// Viper loads configuration parameters.
	v *viper.Viper
	// Sync waitgroup to wait for running go routines on termination.
	SyncWG *sync.WaitGroup
	// PMS configuration.
	Config *Configuration
	// TermCh is the channel to terminate the app based on a signal
	TermCh chan os.Signal
	// Logger is the app logger
	Logger *logrus.Logger
}

// New returns returns a new instance of the pms app
func New(cfgFile string, loglevel int) (*App, error) {
	app := &App{
		v:      viper.New(),
		Config: &Configuration{},
		SyncWG: &sync.WaitGroup{},
		Logger: logrus.New(),
		TermCh: make(chan os.Signal, 1),
	}

	if err := app.LoadConfiguration(cfgFile); err != nil {
		return nil, err
	}

	// set log level, format
	switch loglevel {
	case model.LogLevelDebug:
		app.Logger.Level = logrus.DebugLevel
	case model.LogLevelTrace:
		app.Logger.Level = logrus.TraceLevel
	default:
		app.Logger.Level = logrus.InfoLevel

		// the configured level applies when no verbose flag was given
		if level, err := logrus.ParseLevel(app.Config.LogLevel); err == nil {
			app.Logger.Level = level
		}
	}

	app.Logger.SetFormatter(
		&runtime.Formatter{ChildFormatter: &logrus.JSONFormatter{}},
	)

	// register for SIGINT, SIGTERM
	signal.Notify(app.TermCh, syscall.SIGINT, syscall.SIGTERM)

	return app, nil
}
