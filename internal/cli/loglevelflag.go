package cli

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// levelFlag adapts a zapcore.Level to pflag.Value.
type levelFlag struct {
	level *zapcore.Level
}

func (f levelFlag) String() string {
	if f.level == nil {
		return zapcore.InfoLevel.String()
	}
	return f.level.String()
}

func (f levelFlag) Set(s string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("log level %q: want debug, info, warn or error", s)
	}
	*f.level = l
	return nil
}

func (levelFlag) Type() string { return "level" }

// LevelVar registers a log level flag storing into p, which starts at value.
func LevelVar(fs *pflag.FlagSet, p *zapcore.Level, name string, value zapcore.Level, usage string) {
	*p = value
	fs.Var(levelFlag{level: p}, name, usage)
}
