//go:build !linux

package driver

import "github.com/pkg/errors"

func setRealtimePriority() error {
	return errors.New("real-time scheduling is only supported on linux")
}
