// Package vlog builds the structured logger every vproc component uses.
//
// adapted from lazydocker's pkg/log/log.go
package vlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/emkey1/pscal-vproc/pkg/config"
	"github.com/sirupsen/logrus"
)

// New returns a logger entry tagged with the component name, routed to a
// development log file when debugging is enabled and discarded otherwise.
func New(cfg *config.AppConfig, component string) *logrus.Entry {
	var log *logrus.Logger
	if cfg.Debug || os.Getenv("DEBUG") == "TRUE" {
		log = newDevelopmentLogger(cfg)
	} else {
		log = newProductionLogger()
	}

	log.Formatter = &logrus.JSONFormatter{}

	return log.WithFields(logrus.Fields{
		"component": component,
		"debug":     cfg.Debug,
	})
}

func getLogLevel() logrus.Level {
	strLevel := os.Getenv("LOG_LEVEL")
	level, err := logrus.ParseLevel(strLevel)
	if err != nil {
		return logrus.DebugLevel
	}
	return level
}

func newDevelopmentLogger(cfg *config.AppConfig) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(getLogLevel())
	file, err := os.OpenFile(filepath.Join(cfg.ConfigDir, "vproc-development.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		fmt.Println("unable to log to file, falling back to stderr")
		log.SetOutput(os.Stderr)
		return log
	}
	log.SetOutput(file)
	return log
}

func newProductionLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	log.SetLevel(logrus.ErrorLevel)
	return log
}
