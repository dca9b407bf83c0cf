package main

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/gwillem/njoint/pkg/selftest"
)

type SelfTestCommand struct {
	Tolerance float64 `long:"tolerance" description:"Position tolerance in rad (overrides the config)"`
	HoldSteps int     `long:"hold-steps" description:"Control cycles per goal (overrides the config)"`
}

var errSelfTestFailed = errors.New("self test failed")

func (c *SelfTestCommand) Execute(args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	s, err := openSession(logger)
	if err != nil {
		return err
	}

	tc := s.cfg.SelfTest
	if c.Tolerance > 0 {
		tc.PositionTolerance = c.Tolerance
	}
	if c.HoldSteps > 0 {
		tc.HoldSteps = c.HoldSteps
	}
	if len(tc.ReachableGoals) == 0 && len(tc.UnreachableGoals) == 0 {
		return multierr.Append(
			errors.Errorf("no self test goals in %s", opts.Config), s.close())
	}

	if err := s.driver.Initialize(); err != nil {
		return multierr.Append(err, s.close())
	}

	res, err := selftest.Run(s.driver, tc, logger)
	err = multierr.Append(err, s.close())
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(subHeaderStyle.Render("Self test"))
	for _, check := range res.Checks {
		line := fmt.Sprintf("  %s (distance %.3f)", check, check.Distance)
		if check.Passed {
			fmt.Println(successStyle.Render(line))
		} else {
			fmt.Println(failStyle.Render(line))
		}
	}
	fmt.Println()

	if err := res.Err(); err != nil {
		for _, e := range multierr.Errors(err) {
			logger.Error(e)
		}
		fmt.Println(failStyle.Render("Self test failed."))
		return errSelfTestFailed
	}
	fmt.Println(successStyle.Render("Self test passed."))
	return nil
}
