// Package logging configures the bracketed status-line output format
// required by spec.md §6: user-visible lines prefixed by ">>> " (free mode)
// or ">>> (<group>) " (in_group mode), with the message itself wrapped in
// square brackets.
//
// The format is carried over unchanged from original_source's
// client.py/server.py, which configure Python's root logger with
// `logging.basicConfig(format=">>> [%(message)s]")`. Here a zap.Logger
// plays the same role: one process-wide logger, configured (via a custom
// EncoderConfig, per SPEC_FULL.md) to emit bare message text with no
// timestamp, level, or caller noise, pulled from ryandielhenn-zephyrcache's
// go.mod dependency on go.uber.org/zap.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process-wide status logger. Internal diagnostics (decode
// errors, dropped frames, reply send failures) are logged through the
// same logger at Info/Warn/Error via its structured API; only the Status
// helper below produces the bracketed, prefixed user-facing lines.
func New() *zap.Logger {
	cfg := zapcore.EncoderConfig{
		MessageKey:     "M",
		LevelKey:       "",
		NameKey:        "N",
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stdout), zapcore.InfoLevel)
	return zap.New(core)
}

// Status logs a single bracketed, mode-prefixed line: ">>> [message]" in
// free mode, or ">>> (<group>) [message]" while in a group (spec.md §6).
// Pass group == "" for free mode.
func Status(log *zap.Logger, group string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	prefix := ">>> "
	if group != "" {
		prefix = fmt.Sprintf(">>> (%s) ", group)
	}
	log.Info(prefix + "[" + msg + "]")
}

// Line logs a single unbracketed, unprefixed line: the
// `Group_Message <from>: <text>` line (spec.md §8, scenario S6), the member
// names listed by list_members, and the inbox lines drained on leave_group.
func Line(log *zap.Logger, format string, args ...any) {
	log.Info(fmt.Sprintf(format, args...))
}
