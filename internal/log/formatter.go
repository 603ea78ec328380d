package log

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// newFormatter returns the logrus formatter for a configured format.
func newFormatter(cfg Config) (logrus.Formatter, error) {
	layout := cfg.Time
	if layout == "" {
		layout = DefaultTimeLayout
	}

	switch strings.ToLower(cfg.Format) {
	case "", FormatText:
		return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: layout}, nil
	case FormatJSON:
		return &logrus.JSONFormatter{TimestampFormat: layout}, nil
	case FormatConsole:
		return &prefixed.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: layout,
			ForceFormatting: true,
		}, nil
	case FormatPattern:
		pattern := cfg.Pattern
		if pattern == "" {
			pattern = DefaultPattern
		}
		return &patternFormatter{pattern: pattern, time: layout}, nil
	}
	return nil, fmt.Errorf("unknown log format %q", cfg.Format)
}

// patternFormatter renders entries through a pattern with the
// placeholders %time, %level, %field, %msg and %caller.
type patternFormatter struct {
	pattern string
	time    string
}

func (f *patternFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	r := strings.NewReplacer(
		"%time", entry.Time.Format(f.time),
		"%level", strings.ToUpper(entry.Level.String()),
		"%field", buildFields(entry),
		"%msg", entry.Message,
		"%caller", caller(entry),
	)
	return []byte(r.Replace(f.pattern)), nil
}

// caller returns file:line of the call site when caller reporting is on.
func caller(entry *logrus.Entry) string {
	if !entry.HasCaller() {
		return "-"
	}
	file := entry.Caller.File
	if i := strings.LastIndex(file, "/"); i >= 0 {
		file = file[i+1:]
	}
	return fmt.Sprintf("%s:%d", file, entry.Caller.Line)
}

// buildFields renders fields as k=v pairs in key order.
func buildFields(entry *logrus.Entry) string {
	if len(entry.Data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		fmt.Fprint(&b, entry.Data[k])
	}
	return b.String()
}
