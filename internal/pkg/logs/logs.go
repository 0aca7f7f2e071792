package logs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tgifai/taskd/internal/consts"
)

type Options struct {
	Level      string
	Format     string // text, json
	Output     string // stdout, file, both
	File       string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

var logger Logger = newLogrusLogger(logrus.New(), "stdout", "text", logrus.InfoLevel)

// SetLogger replaces the global logger. Not safe for concurrent use.
func SetLogger(l Logger) {
	if l != nil {
		logger = l
	}
}

func SetLogLevel(level LogLevel) { logger.SetLevel(level) }

func DefaultLogger() Logger { return logger }

func Init(opts Options) error {
	output := strings.ToLower(strings.TrimSpace(opts.Output))
	if output == "" {
		output = "stdout"
	}
	w, err := buildWriter(opts, output)
	if err != nil {
		return err
	}
	log := logrus.New()
	log.SetOutput(w)
	SetLogger(newLogrusLogger(log, output, opts.Format, parseLogLevel(opts.Level)))
	return nil
}

func Debug(format string, v ...interface{}) { logger.Debug(format, v...) }
func Info(format string, v ...interface{})  { logger.Info(format, v...) }
func Warn(format string, v ...interface{})  { logger.Warn(format, v...) }
func Error(format string, v ...interface{}) { logger.Error(format, v...) }
func Fatal(format string, v ...interface{}) { logger.Fatal(format, v...) }

func CtxDebug(ctx context.Context, format string, v ...interface{}) {
	logger.CtxDebug(ctx, format, v...)
}

func CtxInfo(ctx context.Context, format string, v ...interface{}) {
	logger.CtxInfo(ctx, format, v...)
}

func CtxWarn(ctx context.Context, format string, v ...interface{}) {
	logger.CtxWarn(ctx, format, v...)
}

func CtxError(ctx context.Context, format string, v ...interface{}) {
	logger.CtxError(ctx, format, v...)
}

func CtxFatal(ctx context.Context, format string, v ...interface{}) {
	logger.CtxFatal(ctx, format, v...)
}

func Flush() { logger.Flush() }

func NewLogID() string { return uuid.New().String() }

func GetLogID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(consts.CtxKeyLogID).(string)
	return id
}

func SetLogID(ctx context.Context, logID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, consts.CtxKeyLogID, logID)
}

// WithTask tags ctx so every line logged with it carries the task id.
func WithTask(ctx context.Context, taskID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if GetLogID(ctx) == "" {
		ctx = SetLogID(ctx, NewLogID())
	}
	return context.WithValue(ctx, consts.CtxKeyTaskID, taskID)
}

func GetTaskID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(consts.CtxKeyTaskID).(string)
	return id
}

type logrusLogger struct {
	log *logrus.Logger
}

func newLogrusLogger(log *logrus.Logger, output, format string, level logrus.Level) *logrusLogger {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
		log.AddHook(ctxFieldsHook{})
	} else {
		log.SetFormatter(&lineFormatter{color: output != "file" && !color.NoColor})
	}
	log.SetLevel(level)
	return &logrusLogger{log: log}
}

func buildWriter(opts Options, output string) (io.Writer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "file":
		return newRotateWriter(opts)
	case "both":
		w, err := newRotateWriter(opts)
		if err != nil {
			return nil, err
		}
		return &teeWriter{stdout: os.Stdout, file: w}, nil
	default:
		return nil, fmt.Errorf("unsupported log output: %s", output)
	}
}

// teeWriter mirrors to stdout and a file; the file copy is stripped of ANSI colors.
type teeWriter struct {
	stdout io.Writer
	file   io.Writer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	if _, err := w.stdout.Write(p); err != nil {
		return 0, err
	}
	if _, err := w.file.Write(ansiPattern.ReplaceAll(p, nil)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func newRotateWriter(opts Options) (io.Writer, error) {
	if strings.TrimSpace(opts.File) == "" {
		return nil, fmt.Errorf("log file is required when output includes file")
	}
	if dir := filepath.Dir(opts.File); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir failed: %w", err)
		}
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: max(opts.MaxBackups, 0),
		MaxAge:     max(opts.MaxAge, 0),
		Compress:   opts.Compress,
	}, nil
}

func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

var levelMapping = map[LogLevel]logrus.Level{
	DebugLevel: logrus.DebugLevel,
	InfoLevel:  logrus.InfoLevel,
	WarnLevel:  logrus.WarnLevel,
	ErrorLevel: logrus.ErrorLevel,
	FatalLevel: logrus.FatalLevel,
}

func (l *logrusLogger) GetLevel() LogLevel {
	cur := l.log.GetLevel()
	for k, v := range levelMapping {
		if v == cur {
			return k
		}
	}
	return InfoLevel
}

func (l *logrusLogger) SetLevel(level LogLevel) {
	if lv, ok := levelMapping[level]; ok {
		l.log.SetLevel(lv)
	}
}

func (l *logrusLogger) Debug(format string, v ...interface{}) { l.log.Debugf(format, v...) }
func (l *logrusLogger) Info(format string, v ...interface{})  { l.log.Infof(format, v...) }
func (l *logrusLogger) Warn(format string, v ...interface{})  { l.log.Warnf(format, v...) }
func (l *logrusLogger) Error(format string, v ...interface{}) { l.log.Errorf(format, v...) }
func (l *logrusLogger) Fatal(format string, v ...interface{}) { l.log.Fatalf(format, v...) }

func (l *logrusLogger) CtxDebug(ctx context.Context, format string, v ...interface{}) {
	l.log.WithContext(ctx).Debugf(format, v...)
}

func (l *logrusLogger) CtxInfo(ctx context.Context, format string, v ...interface{}) {
	l.log.WithContext(ctx).Infof(format, v...)
}

func (l *logrusLogger) CtxWarn(ctx context.Context, format string, v ...interface{}) {
	l.log.WithContext(ctx).Warnf(format, v...)
}

func (l *logrusLogger) CtxError(ctx context.Context, format string, v ...interface{}) {
	l.log.WithContext(ctx).Errorf(format, v...)
}

func (l *logrusLogger) CtxFatal(ctx context.Context, format string, v ...interface{}) {
	l.log.WithContext(ctx).Fatalf(format, v...)
}

func (l *logrusLogger) Flush() {}

// ctxFieldsHook copies log_id/task_id from the entry context into JSON fields.
type ctxFieldsHook struct{}

func (ctxFieldsHook) Levels() []logrus.Level { return logrus.AllLevels }

func (ctxFieldsHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}
	if id := GetLogID(entry.Context); id != "" {
		entry.Data["log_id"] = id
	}
	if id := GetTaskID(entry.Context); id != "" {
		entry.Data["task_id"] = id
	}
	return nil
}

type lineFormatter struct {
	color bool
}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(entry.Level.String())
	if f.color {
		level = colorizeLevel(entry.Level, level)
	}

	skip := 9
	if entry.Context != nil {
		skip = 8
	}
	_, file, line, ok := runtime.Caller(skip)
	if ok {
		file = shortFilePath(file)
	}

	var tags strings.Builder
	if entry.Context != nil {
		if id := GetLogID(entry.Context); id != "" {
			tags.WriteString(id)
			tags.WriteByte(' ')
		}
		if id := GetTaskID(entry.Context); id != "" {
			tags.WriteString("task=")
			tags.WriteString(id)
			tags.WriteByte(' ')
		}
	}

	return []byte(fmt.Sprintf("%s %s %s:%d %s%s\n",
		level,
		entry.Time.Format("2006-01-02 15:04:05,000"),
		file,
		line,
		tags.String(),
		entry.Message,
	)), nil
}

// shortFilePath returns "dir/file.go" when a parent directory exists.
func shortFilePath(fullPath string) string {
	dir, file := filepath.Split(fullPath)
	if dir == "" {
		return file
	}
	return filepath.Base(filepath.Clean(dir)) + "/" + file
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

var levelColors = map[logrus.Level]*color.Color{
	logrus.DebugLevel: color.New(color.FgCyan),
	logrus.InfoLevel:  color.New(color.FgGreen),
	logrus.WarnLevel:  color.New(color.FgYellow),
	logrus.ErrorLevel: color.New(color.FgRed),
	logrus.FatalLevel: color.New(color.FgRed),
	logrus.PanicLevel: color.New(color.FgRed),
}

func colorizeLevel(level logrus.Level, text string) string {
	if c, ok := levelColors[level]; ok {
		return c.Sprint(text)
	}
	return text
}
