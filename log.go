package zarr

import "github.com/sirupsen/logrus"

// log is the package default. Arrays derive their own entry from it unless
// WithLogger overrides it.
var log = logrus.WithField("lib", "zarr")

// SetLogger replaces the package default logger used by arrays created or
// opened without WithLogger.
func SetLogger(l *logrus.Logger) {
	log = logrus.NewEntry(l).WithField("lib", "zarr")
}
