package logbus

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// ConsoleFormatter renders one colored line per entry: time, level, message,
// then key=value fields in sorted order.
type ConsoleFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

func (f *ConsoleFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	tsFormat := f.TimestampFormat
	if tsFormat == "" {
		tsFormat = time.RFC3339
	}

	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	levelColor := levelColor(entry.Level)
	keyColor := color.New(color.FgCyan)
	timeColor := color.New(color.FgYellow)
	if f.DisableColors {
		levelColor.DisableColor()
		keyColor.DisableColor()
		timeColor.DisableColor()
	}

	b.WriteString(timeColor.Sprint(entry.Time.Format(tsFormat)))
	b.WriteByte(' ')
	b.WriteString(levelColor.Sprintf("%-7s", strings.ToUpper(entry.Level.String())))
	b.WriteByte(' ')
	b.WriteString(levelColor.Sprint(entry.Message))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", keyColor.Sprint(k), entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelColor(level logrus.Level) *color.Color {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return color.New(color.FgHiBlack)
	case logrus.WarnLevel:
		return color.New(color.FgYellow)
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgGreen)
	}
}

// NewLogger builds the process logger. format "json" selects logrus' JSON
// formatter, anything else the console formatter.
func NewLogger(level, format string) *logrus.Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&ConsoleFormatter{})
	}
	return l
}
