// Package cli wires cobra commands to flags, environment variables and an
// optional config file through viper.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// ConfigFlag names the option holding a config file path.
const ConfigFlag = "config"

// Opt is a single command-line option
type Opt struct {
	DestP   any // pointer to the destination
	Flag    string
	Default any
	Desc    string
}

// Program is one command and its options.
type Program struct {
	// Run is invoked by cobra on execute, after every option is resolved.
	Run func(args []string) error
	// Name is the command name in help usage.
	Name  string
	Short string
	Args  cobra.PositionalArgs
	// EnvPrefix prefixes every environment variable. Defaults to Name.
	EnvPrefix string
	Opts      []Opt
}

// NewCommand creates a cobra command whose options are read, in order of
// precedence, from flags, PREFIX_FLAG_NAME environment variables, the file
// named by the config option, and the defaults.
func NewCommand(v *viper.Viper, p *Program) *cobra.Command {
	prefix := p.EnvPrefix
	if prefix == "" {
		prefix = p.Name
	}
	args := p.Args
	if args == nil {
		args = cobra.NoArgs
	}

	cmd := &cobra.Command{
		Use:           p.Name,
		Short:         p.Short,
		Args:          args,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			if err := readConfig(v); err != nil {
				return err
			}
			if err := Resolve(v, p.Opts); err != nil {
				return err
			}
			return p.Run(args)
		},
	}

	v.SetEnvPrefix(strings.ToUpper(prefix))
	v.AutomaticEnv()
	// This normalizes "-" to an underscore in env names.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	BindOptions(v, cmd, p.Opts)
	return cmd
}

// BindOptions adds opts to the specified command and registers them with v.
func BindOptions(v *viper.Viper, cmd *cobra.Command, opts []Opt) {
	fs := cmd.Flags()
	for _, o := range opts {
		switch destP := o.DestP.(type) {
		case *string:
			var d string
			if o.Default != nil {
				d = o.Default.(string)
			}
			fs.StringVar(destP, o.Flag, d, o.Desc)
		case *int:
			var d int
			if o.Default != nil {
				d = o.Default.(int)
			}
			fs.IntVar(destP, o.Flag, d, o.Desc)
		case *uint64:
			var d uint64
			if o.Default != nil {
				d = o.Default.(uint64)
			}
			fs.Uint64Var(destP, o.Flag, d, o.Desc)
		case *bool:
			var d bool
			if o.Default != nil {
				d = o.Default.(bool)
			}
			fs.BoolVar(destP, o.Flag, d, o.Desc)
		case *zapcore.Level:
			d := zapcore.InfoLevel
			if o.Default != nil {
				d = o.Default.(zapcore.Level)
			}
			LevelVar(fs, destP, o.Flag, d, o.Desc)
		default:
			panic(fmt.Errorf("unknown destination type %T", o.DestP))
		}
		mustBindPFlag(v, o.Flag, cmd)
	}
}

// Resolve stores the effective value of every option into its destination.
func Resolve(v *viper.Viper, opts []Opt) error {
	for _, o := range opts {
		switch destP := o.DestP.(type) {
		case *string:
			*destP = v.GetString(o.Flag)
		case *int:
			*destP = v.GetInt(o.Flag)
		case *uint64:
			*destP = v.GetUint64(o.Flag)
		case *bool:
			*destP = v.GetBool(o.Flag)
		case *zapcore.Level:
			if err := destP.UnmarshalText([]byte(v.GetString(o.Flag))); err != nil {
				return fmt.Errorf("option %s: %w", o.Flag, err)
			}
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	path := v.GetString(ConfigFlag)
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func mustBindPFlag(v *viper.Viper, key string, cmd *cobra.Command) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
		panic(err)
	}
}
