package logutil

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

var levelNames = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Setup builds the process logger from the logging.* config keys,
// installs it as the slog default, and returns it. --trace lowers the
// level to debug unless logging.level was set explicitly.
func Setup() (*slog.Logger, error) {
	levelName := viper.GetString("logging.level")
	if !viper.IsSet("logging.level") && viper.GetBool("trace") {
		levelName = "debug"
	}
	level, ok := levelNames[strings.ToLower(strings.TrimSpace(levelName))]
	if !ok {
		return nil, fmt.Errorf("unknown logging.level: %s", levelName)
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: viper.GetBool("logging.add_source"),
	}
	var handler slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(viper.GetString("logging.format"))); format {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown logging.format: %s", format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
