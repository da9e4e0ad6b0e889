// Package logging 创建全局使用的 slog.Logger
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel 支持 debug / info / warn / error，大小写不敏感
func ParseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo, fmt.Errorf("无效的日志级别 %q: %w", value, err)
	}
	return level, nil
}

// New 输出到标准错误，format 为 json 时使用 JSON 格式
func New(level, format string) (*slog.Logger, error) {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter 同 New，输出到 w
func NewWithWriter(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("无效的日志格式 %q", format)
	}
	return slog.New(handler), nil
}
