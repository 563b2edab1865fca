package tools

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// SetupLogging formats the standard logrus logger as JSON, so it can be parsed
// by datadog, and records anything we log in logFile as well as stdout.
func SetupLogging(level string, logFile string) error {
	log.SetFormatter(&log.JSONFormatter{})
	switch level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	if logFile == "" {
		log.SetOutput(os.Stdout)
		return nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(f, os.Stdout))
	return nil
}
