package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// _log is shared process-wide; Init reconfigures it in place so entries
// handed out earlier keep writing to the new destination.
var _log = logrus.New()

// Init points the process logger at out. Debug runs get human-readable text
// at debug level; everything else emits JSON at info, which is what the log
// shipper expects.
func Init(debug bool, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	_log.SetOutput(out)
	if debug {
		_log.SetLevel(logrus.DebugLevel)
		_log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		_log.SetLevel(logrus.InfoLevel)
		_log.SetFormatter(&logrus.JSONFormatter{})
	}
}

// Log returns a fresh entry bound to the process logger.
func Log() *logrus.Entry {
	return logrus.NewEntry(_log)
}

// WithFields returns an entry carrying the given structured fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log().WithFields(fields)
}
