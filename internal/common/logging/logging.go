package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

// ConfigureLogging sets up the standard logrus logger from the supplied config.
// An empty level or format falls back to info/text.
func ConfigureLogging(c Config) error {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatText
	}
	if err := validate(c); err != nil {
		return err
	}
	configure(log.StandardLogger(), os.Stdout, c)
	return nil
}

func configure(logger *log.Logger, out io.Writer, c Config) {
	level, _ := log.ParseLevel(c.Level)
	logger.SetLevel(level)
	logger.SetOutput(out)
	if strings.ToLower(c.Format) == FormatJson {
		logger.SetFormatter(&log.JSONFormatter{TimestampFormat: RFC3339Milli})
	} else {
		logger.SetFormatter(&log.TextFormatter{
			ForceColors:     c.Colours,
			DisableColors:   !c.Colours,
			FullTimestamp:   true,
			TimestampFormat: RFC3339Milli,
		})
	}
}
