package obs

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggerOnce sync.Once
	logger     *logrus.Logger
)

// Logger returns the process-wide JSON logger. Components that are handed a
// nil logger fall back to it.
func Logger() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = NewLogger("info", "json", os.Stdout)
	})
	return logger
}

// NewLogger builds a logger writing to out. Unknown levels fall back to info;
// format "text" selects the human readable formatter, anything else JSON.
func NewLogger(level, format string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}
	l := logrus.New()
	l.SetOutput(out)
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
				logrus.FieldKeyMsg:  "msg",
			},
		})
	}
	return l
}

// Or returns l, or the process logger when l is nil.
func Or(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return Logger()
	}
	return l
}

// LogRequest emits a structured line with common HTTP fields.
func LogRequest(l logrus.FieldLogger, fields map[string]any) {
	Or(l).WithFields(logrus.Fields(fields)).Info("http request")
}
