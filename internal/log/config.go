package log

// Config configures the process logger.
type Config struct {
	Level string `mapstructure:"level" yaml:"level"`
	// Format is one of text, json, console or pattern.
	Format string `mapstructure:"format" yaml:"format"`
	// Pattern is used by the pattern format, e.g. "%time [%level] %msg %field\n".
	Pattern string      `mapstructure:"pattern" yaml:"pattern,omitempty"`
	Time    string      `mapstructure:"time" yaml:"time,omitempty"`
	File    FileOptions `mapstructure:"file" yaml:"file"`
}

// FileOptions configures the rotating file appender.
type FileOptions struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Filename   string `mapstructure:"filename" yaml:"filename,omitempty"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size,omitempty"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups,omitempty"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age,omitempty"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress,omitempty"`
}

const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatConsole = "console"
	FormatPattern = "pattern"

	DefaultPattern    = "%time [%level] %msg %field\n"
	DefaultTimeLayout = "2006-01-02 15:04:05.000"
)
