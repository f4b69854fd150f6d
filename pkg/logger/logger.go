package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jrick/logrotate/rotator"
)

// LevelMap holds the tag printed for each level.
var LevelMap = map[string]string{
	"error": "[ERR]",
	"debug": "[DBG]",
	"warn":  "[WRN]",
	"info":  "[INF]",
}

// ValidateLevels rejects names other than the four levels and "all".
func ValidateLevels(levels []string) error {
	for _, l := range levels {
		if _, ok := LevelMap[l]; !ok && l != "all" {
			return fmt.Errorf("unknown log level %q", l)
		}
	}
	return nil
}

func levelSet(levels []string) map[string]bool {
	set := make(map[string]bool, len(LevelMap))
	for _, l := range levels {
		if l == "all" {
			for name := range LevelMap {
				set[name] = true
			}
			continue
		}
		set[l] = true
	}
	return set
}

const (
	ResetColor = "\033[0m"
	Green      = "\033[32m"
	Yellow     = "\033[33m"
	Gray       = "\033[90m"
	Red        = "\033[31m"
)

type CustomLogger struct {
	levels              map[string]bool
	logBackTraceEnabled bool
	subsystem           string
	out                 *log.Logger
}

type Options struct {
	LogBackTraceEnabled bool

	// Writer defaults to stdout.
	Writer io.Writer
}

func NewDefaultLogger() *CustomLogger {
	return &CustomLogger{
		levels:              levelSet([]string{"all"}),
		logBackTraceEnabled: true,
		out:                 log.New(os.Stdout, "", 0),
	}
}

func NewLoggerWithOptions(levels []string, options *Options) *CustomLogger {
	w := options.Writer
	if w == nil {
		w = os.Stdout
	}

	return &CustomLogger{
		levels:              levelSet(levels),
		logBackTraceEnabled: options.LogBackTraceEnabled,
		out:                 log.New(w, "", 0),
	}
}

// NewNopLogger discards everything, tests use it.
func NewNopLogger() *CustomLogger {
	return &CustomLogger{out: log.New(io.Discard, "", 0)}
}

// SubLogger returns a logger sharing the destination and levels whose lines
// are tagged with the subsystem name.
func (cl *CustomLogger) SubLogger(subsystem string) *CustomLogger {
	c := *cl
	c.subsystem = subsystem
	return &c
}

func (cl *CustomLogger) Info(msg string) {
	if cl.shouldLog("info") {
		cl.logMessage("info", Green, msg)
	}
}

func (cl *CustomLogger) Infof(format string, args ...interface{}) {
	cl.Info(fmt.Sprintf(format, args...))
}

func (cl *CustomLogger) Warn(msg string) {
	if cl.shouldLog("warn") {
		cl.logMessage("warn", Yellow, msg)
	}
}

func (cl *CustomLogger) Warnf(format string, args ...interface{}) {
	cl.Warn(fmt.Sprintf(format, args...))
}

func (cl *CustomLogger) Debug(msg string) {
	if cl.shouldLog("debug") {
		cl.logMessage("debug", Gray, msg)
	}
}

func (cl *CustomLogger) Debugf(format string, args ...interface{}) {
	cl.Debug(fmt.Sprintf(format, args...))
}

func (cl *CustomLogger) Error(msg string) {
	if cl.shouldLog("error") {
		if cl.logBackTraceEnabled {
			cl.logMessageWithBacktrace("error", Red, msg)
		} else {
			_, file, line, _ := runtime.Caller(1)
			cl.logMessage("error", Red, fmt.Sprintf("Error at line %s:%d : %s", file, line, msg))
		}
	}
}

func (cl *CustomLogger) Errorf(format string, args ...interface{}) {
	cl.Error(fmt.Sprintf(format, args...))
}

// Fatal logs and exits the process. Only process startup uses it.
func (cl *CustomLogger) Fatal(msg string) {
	cl.logMessageWithBacktrace("error", Red, msg)
	os.Exit(1)
}

func (cl *CustomLogger) logMessage(level, color, msg string) {
	prefix := fmt.Sprintf("%s %s %s: ", time.Now().Format("2006-01-02  15:04:05.000"), LevelMap[level], color)
	if cl.subsystem != "" {
		prefix += "[" + cl.subsystem + "] "
	}
	cl.out.Println(prefix+msg, ResetColor)
}

// logMessageWithBacktrace logs a message with a backtrace
func (cl *CustomLogger) logMessageWithBacktrace(level, color, msg string) {
	cl.logMessage(level, color, msg)
	stack := make([]byte, 1<<16)
	length := runtime.Stack(stack, false)
	cl.out.Printf("Stack trace:\n%s\n", stack[:length])
}

func (cl *CustomLogger) shouldLog(level string) bool {
	return cl.levels[level]
}

// NewRotatingWriter returns a writer that fans out to stdout and a size
// rotated log file. The returned close func stops the rotator.
func NewRotatingWriter(logFile string, maxFileSizeKB int64, maxFiles int) (io.Writer, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(logFile), 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(logFile, maxFileSizeKB, false, maxFiles)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		if err := r.Run(pr); err != nil {
			fmt.Fprintf(os.Stderr, "failed to run file rotator: %v\n", err)
		}
	}()

	closer := func() error {
		_ = pw.Close()
		return r.Close()
	}
	return io.MultiWriter(os.Stdout, pw), closer, nil
}
