package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// New creates a logger writing to out. Level "off" or "none" discards everything,
// unknown levels fall back to info. Format "json" selects the JSON formatter.
func New(level, format string, out io.Writer) *logrus.Logger {
	logger := logrus.New()

	switch strings.ToLower(level) {
	case "off", "none":
		logger.SetOutput(io.Discard)
	default:
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		logger.SetLevel(lvl)
		logger.SetOutput(out)
	}

	if strings.ToLower(format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000000",
		})
	}

	return logger
}

// Discard returns a logger that drops all entries
func Discard() *logrus.Logger {
	return New("off", "text", io.Discard)
}
