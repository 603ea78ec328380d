package log

import "gopkg.in/natefinch/lumberjack.v2"

// AddFileAppender adds a size-rotated log file.
func (m *MultiWriter) AddFileAppender(opts FileOptions) *MultiWriter {
	return m.addOwned(&lumberjack.Logger{
		Filename:   opts.Filename,
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   opts.Compress,
	})
}
