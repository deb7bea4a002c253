package main

import (
	"os"
	"strings"

	"github.com/btcsync-io/btcsyncd/internal/xlog"
)

func parseLevel(s string) xlog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return xlog.LevelTrace
	case "debug":
		return xlog.LevelDebug
	case "warn":
		return xlog.LevelWarn
	case "error":
		return xlog.LevelError
	case "crit":
		return xlog.LevelCrit
	default:
		return xlog.LevelInfo
	}
}

func setupLogging(levelStr string) xlog.Logger {
	log := xlog.New(xlog.NewTerminalHandler(os.Stderr, parseLevel(levelStr)))
	xlog.SetDefault(log)
	return log
}
