// Package logging builds the logrus logger shared by the commands.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// EnvJSON switches output to JSON when set to a true value.
const EnvJSON = "BLESERVER_LOG_JSON"

// New returns a logger writing to out at level.
func New(out io.Writer, level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvJSON))); err == nil && v {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
