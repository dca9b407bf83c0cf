package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gwillem/njoint/pkg/backend"
	"github.com/gwillem/njoint/pkg/driver"
	"github.com/gwillem/njoint/pkg/robot"
)

type Options struct {
	Config  string `short:"c" long:"config" default:"njoint.yml" description:"Robot configuration file"`
	Verbose bool   `short:"v" long:"verbose" description:"Log debug messages"`

	Setup    SetupCommand    `command:"setup" description:"Write a robot configuration"`
	Show     ConfigCommand   `command:"config" description:"Show the robot configuration"`
	Run      RunCommand      `command:"run" description:"Initialize the robot and run the demo loop"`
	Position PositionCommand `command:"position" alias:"pos" description:"Initialize the robot and print joint positions"`
	SelfTest SelfTestCommand `command:"selftest" description:"Check reachable and unreachable goals"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "njoint - driver for torque-controlled N-joint robots"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// newLogger builds the console logger. Output goes to paths instead of
// stderr when given.
func newLogger(paths ...string) (*zap.SugaredLogger, error) {
	zc := zap.NewDevelopmentConfig()
	if !opts.Verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	if len(paths) > 0 {
		zc.OutputPaths = paths
		zc.ErrorOutputPaths = paths
	}
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func loadConfig() (*robot.Config, error) {
	cfg, err := robot.LoadConfigFrom(opts.Config)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Errorf("no configuration found at %s, run 'njoint setup' first", opts.Config)
		}
		return nil, err
	}
	for _, w := range cfg.Warnings {
		fmt.Fprintln(os.Stderr, warnStyle.Render("warning: ")+w)
	}
	return cfg, nil
}

// session is an opened robot. close shuts the driver down if that has not
// happened yet and releases the backend.
type session struct {
	cfg    *robot.Config
	act    backend.Actuation
	driver *driver.Driver
	logger *zap.SugaredLogger
}

func openSession(logger *zap.SugaredLogger) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	act, err := backend.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &session{
		cfg:    cfg,
		act:    act,
		driver: driver.New(cfg, act, logger),
		logger: logger,
	}, nil
}

func (s *session) close() error {
	var err error
	if st := s.driver.State(); st != driver.StateStopped {
		err = s.driver.Shutdown()
	}
	return multierr.Append(err, s.act.Close())
}
