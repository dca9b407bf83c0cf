package driver

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// writeRunDurationLogs appends "<unix_timestamp>\t<action_count>" to every
// file. A file that cannot be written is logged and does not keep the
// others from being written.
func writeRunDurationLogs(files []string, timestamp int64, count uint64, logger *zap.SugaredLogger) error {
	var errs error
	for _, name := range files {
		logger.Infow("write run duration log", "file", name)
		if err := appendRunDuration(name, timestamp, count); err != nil {
			logger.Errorw("failed to write run duration log", "file", name, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func appendRunDuration(name string, timestamp int64, count uint64) (err error) {
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open run duration log %s", name)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	_, err = fmt.Fprintf(f, "%d\t%d\n", timestamp, count)
	return errors.Wrapf(err, "write run duration log %s", name)
}
