package imgfixture

import (
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()
var log logrus.FieldLogger

func init() {
	log = logger.WithField("prefix", "imgfixture")
}

// Logger returns the package logger so that callers can set its level,
// formatter, and output.
func Logger() *logrus.Logger {
	return logger
}
