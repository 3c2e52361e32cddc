package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// LogConfig 包含日志系统的配置信息
type LogConfig struct {
	// LogLevel 是最低输出的日志级别
	LogLevel string `yaml:"log_level"`
	// LogFile 是日志文件的路径，为空时不写文件
	LogFile string `yaml:"log_file"`
	// EnableConsole 决定是否同时将日志输出到控制台
	EnableConsole bool `yaml:"enable_console"`
	// EnableJSON 决定日志是否使用JSON格式
	EnableJSON bool `yaml:"enable_json"`
}

// LevelFatal 致命错误级别，记录后退出程序
const LevelFatal = slog.Level(12)

// 日志级别名称映射表
var levelNames = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
	"fatal": LevelFatal,
}

var (
	level  = new(slog.LevelVar)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
)

// Init 根据给定的配置初始化日志系统
// 参数：
//   - config：日志配置信息，包含日志级别、文件路径等
//
// 返回：
//   - error：如果初始化失败，返回错误信息
func Init(config *LogConfig) error {
	// 解析日志级别，如果配置的日志级别无效，默认使用info
	lvl, ok := levelNames[config.LogLevel]
	if !ok {
		lvl = slog.LevelInfo
	}
	level.Set(lvl)

	var output io.Writer
	if config.LogFile != "" {
		logDir := filepath.Dir(config.LogFile)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("创建日志目录失败：%w", err)
		}

		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("打开日志文件失败：%w", err)
		}

		if config.EnableConsole {
			output = io.MultiWriter(file, os.Stdout)
		} else {
			output = file
		}
	} else if config.EnableConsole {
		output = os.Stdout
	} else {
		output = io.Discard
	}

	SetOutput(output, config.EnableJSON)
	Infof("日志系统已初始化，级别：%s", lvl)
	return nil
}

// SetOutput 替换日志输出目标
func SetOutput(w io.Writer, json bool) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l >= LevelFatal {
					a.Value = slog.StringValue("FATAL")
				}
			}
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					a.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger = slog.New(handler)
}

// Logger 返回底层的结构化日志记录器
func Logger() *slog.Logger {
	return logger
}

// output 记录日志，调用位置跳过本包的包装函数
func output(lvl slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !logger.Enabled(ctx, lvl) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), lvl, fmt.Sprintf(format, args...), pcs[0])
	_ = logger.Handler().Handle(ctx, r)
}

// Debugf 以调试级别记录格式化的消息
func Debugf(format string, args ...interface{}) {
	output(slog.LevelDebug, format, args...)
}

// Infof 以信息级别记录格式化的消息
func Infof(format string, args ...interface{}) {
	output(slog.LevelInfo, format, args...)
}

// Warnf 以警告级别记录格式化的消息
func Warnf(format string, args ...interface{}) {
	output(slog.LevelWarn, format, args...)
}

// Errorf 以错误级别记录格式化的消息
func Errorf(format string, args ...interface{}) {
	output(slog.LevelError, format, args...)
}

// Fatalf 以致命错误级别记录格式化的消息，然后退出程序
func Fatalf(format string, args ...interface{}) {
	output(LevelFatal, format, args...)
	os.Exit(1)
}
