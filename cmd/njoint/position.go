package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/gwillem/njoint/pkg/demo"
)

type PositionCommand struct {
	Hz    int `long:"hz" default:"10" description:"Print rate"`
	Steps int `long:"steps" description:"Stop after this many control cycles (0 runs until interrupted)"`
}

// Execute initializes the robot and then sends zero torque, so the joints
// can be moved by hand while their positions are printed.
func (c *PositionCommand) Execute(args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	s, err := openSession(logger)
	if err != nil {
		return err
	}
	if err := s.driver.Initialize(); err != nil {
		return multierr.Append(err, s.close())
	}

	ctrl, err := demo.NewController(s.driver, demo.Config{
		Mode:      demo.ModePassive,
		Steps:     c.Steps,
		PublishHz: c.Hz,
	}, logger)
	if err != nil {
		return multierr.Append(err, s.close())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- ctrl.Start(ctx) }()

	names := s.cfg.AllJoints()
	fmt.Println(headerStyle.Render(strings.Join(names, "\t")))
	for {
		select {
		case st := <-ctrl.States():
			fields := make([]string, len(st.Observation.Position))
			for i, p := range st.Observation.Position {
				fields[i] = fmt.Sprintf("%+.4f", p)
			}
			fmt.Println(strings.Join(fields, "\t"))
		case err := <-done:
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return multierr.Append(err, s.close())
		}
	}
}
