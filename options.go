package zarr

import (
	"runtime"

	"github.com/sirupsen/logrus"
)

type options struct {
	workers int
	logger  *logrus.Entry
}

func defaultOptions() options {
	return options{
		workers: runtime.GOMAXPROCS(0),
		logger:  log,
	}
}

// Option configures an Array when it is created or opened
type Option func(*options)

// WithWorkers bounds how many chunks a single Read or Write call processes
// concurrently. Values below 1 mean one worker.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.workers = n
	}
}

// WithLogger sets the logger an array reports to. A nil entry keeps the
// package default.
func WithLogger(l *logrus.Entry) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
