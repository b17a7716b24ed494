package log

import "gopkg.in/natefinch/lumberjack.v2"

// defaultFileMaxSizeMB bounds an agent.log file before lumberjack
// rotates it, if the operator's TOML leaves FileAppenderOpt.MaxSize unset.
const defaultFileMaxSizeMB = 100

type FileAppenderOpt struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes; 0 -> defaultFileMaxSizeMB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days; 0 -> lumberjack never deletes by age
	Compress   bool   `mapstructure:"compress"`
}

// AddFileAppender wires a rotating file sink into the MultiWriter. The
// *lumberjack.Logger it returns implements io.Closer, so a later
// MultiWriter.Close flushes and closes the current log file.
func (m *MultiWriter) AddFileAppender(options FileAppenderOpt) *MultiWriter {
	maxSize := options.MaxSize
	if maxSize <= 0 {
		maxSize = defaultFileMaxSizeMB
	}
	return m.Add(&lumberjack.Logger{
		Filename:   options.Filename,
		MaxSize:    maxSize,
		MaxBackups: options.MaxBackups,
		MaxAge:     options.MaxAge,
		Compress:   options.Compress,
	})
}
