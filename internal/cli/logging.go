package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/pflag"
)

// levelFlag is a pflag.Value accepting syslog style level names.
type levelFlag struct {
	level logiface.Level
}

var _ pflag.Value = (*levelFlag)(nil)

var levelNames = map[string]logiface.Level{
	"disabled": logiface.LevelDisabled,
	"off":      logiface.LevelDisabled,
	"error":    logiface.LevelError,
	"err":      logiface.LevelError,
	"warning":  logiface.LevelWarning,
	"warn":     logiface.LevelWarning,
	"notice":   logiface.LevelNotice,
	"info":     logiface.LevelInformational,
	"debug":    logiface.LevelDebug,
	"trace":    logiface.LevelTrace,
}

// ParseLevel maps a level name, case-insensitively, to a logiface.Level.
func ParseLevel(s string) (logiface.Level, error) {
	if level, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level, nil
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}

func (x *levelFlag) String() string {
	if !x.level.Enabled() {
		return "disabled"
	}
	return x.level.String()
}

func (x *levelFlag) Set(s string) error {
	level, err := ParseLevel(s)
	if err != nil {
		return err
	}
	x.level = level
	return nil
}

func (x *levelFlag) Type() string { return "level" }

// NewLogger builds a JSON logger writing to w.
func NewLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}
