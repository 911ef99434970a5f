package engine

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	ini "gopkg.in/ini.v1"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	coreLog *logrus.Entry

	logFile    *lumberjack.Logger
	consoleMin = logrus.InfoLevel
	fileMin    = logrus.PanicLevel
)

func init() {
	// Before InitLogging runs (tests, embedders) only warnings and
	// worse reach the console.
	coreLog = newLogger("core", logrus.WarnLevel, logrus.WarnLevel, logrus.PanicLevel, nil)
}

// InitLogging configures the shared logging destinations and the core
// logger from the [logging] section.
func InitLogging(cfg *ini.File) error {
	sec := cfg.Section("logging")
	consoleMin = ToLogLevel(sec.Key("console_min_level").MustInt(2))
	fileMin = ToLogLevel(sec.Key("file_min_level").MustInt(1))
	logFile = &lumberjack.Logger{
		Filename:   sec.Key("file").MustString("localpbx.log"),
		MaxSize:    100,
		MaxBackups: 1,
	}
	coreLog = NewLogger("core", ToLogLevel(sec.Key("core").MustInt(2)))
	return nil
}

// CloseLogging flushes and closes the shared log file.
func CloseLogging() {
	if logFile != nil {
		logFile.Close()
	}
}

// NewLogger builds a named logger wired to the console and, once
// InitLogging ran, the shared rotating log file.
func NewLogger(name string, level logrus.Level) *logrus.Entry {
	return newLogger(name, level, consoleMin, fileMin, fileWriter())
}

// ToLogLevel maps the integer levels used in configuration files to
// logrus levels.
func ToLogLevel(level int) logrus.Level {
	switch {
	case level <= 0:
		return logrus.TraceLevel
	case level == 1:
		return logrus.DebugLevel
	case level == 2:
		return logrus.InfoLevel
	case level == 3:
		return logrus.WarnLevel
	case level == 4:
		return logrus.ErrorLevel
	case level == 5:
		return logrus.FatalLevel
	default:
		return logrus.PanicLevel
	}
}

func fileWriter() io.Writer {
	if logFile == nil {
		return nil
	}
	return logFile
}

func newLogger(name string, level, consoleMinLevel, fileMinLevel logrus.Level, file io.Writer) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	logger.AddHook(&writerHook{Writer: os.Stdout, LogLevels: availableLevels(consoleMinLevel)})
	if file != nil {
		logger.AddHook(&writerHook{Writer: file, LogLevels: availableLevels(fileMinLevel)})
	}
	return logger.WithField("name", name)
}

type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
}

func (hook *writerHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	_, err = hook.Writer.Write([]byte(line))
	return err
}

func (hook *writerHook) Levels() []logrus.Level {
	return hook.LogLevels
}

func availableLevels(minLevel logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, level := range logrus.AllLevels {
		if level <= minLevel {
			levels = append(levels, level)
		}
	}
	return levels
}
