package logging

import (
	"os"

	"github.com/Domenick1991/venuebooking/config"
	"github.com/sirupsen/logrus"
)

// New builds the process logger. An unknown level falls back to info.
func New(cfg config.LogConfig) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if cfg.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l
}
