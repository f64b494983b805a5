package main

import (
	"fmt"
	"io"
	"os"
	"runtime/pprof"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rawbytedev/objpack"
	"github.com/rawbytedev/objpack/internal/cli"
	"github.com/rawbytedev/objpack/internal/logger"
	"github.com/rawbytedev/objpack/pkg/compactwire"
	"github.com/rawbytedev/objpack/pkg/manifest"
)

type linkOptions struct {
	manifest   string
	out        string
	compress   bool
	shuffle    bool
	seed       uint64
	zstd       bool
	verify     bool
	metrics    bool
	level      zapcore.Level
	config     string
	cpuProfile string
}

func newLinkCommand(stdout, stderr io.Writer) *cobra.Command {
	var o linkOptions
	return cli.NewCommand(viper.New(), &cli.Program{
		Name:      "link",
		Short:     "Build a payload from a manifest",
		EnvPrefix: "objpack",
		Run: func([]string) error {
			return o.run(stdout, stderr)
		},
		Opts: []cli.Opt{
			{DestP: &o.manifest, Flag: "manifest", Desc: "YAML or TOML manifest describing the objects"},
			{DestP: &o.out, Flag: "out", Default: "payload.op", Desc: "path of the payload frame to write"},
			{DestP: &o.compress, Flag: "compress", Default: true, Desc: "stack objects into each other's free space"},
			{DestP: &o.shuffle, Flag: "shuffle", Desc: "shuffle non-root objects before allocation"},
			{DestP: &o.seed, Flag: "seed", Desc: "shuffle seed"},
			{DestP: &o.zstd, Flag: "zstd", Desc: "zstd-compress the frame's data section"},
			{DestP: &o.verify, Flag: "verify", Default: true, Desc: "check the layout for overlapping occupied dwords"},
			{DestP: &o.metrics, Flag: "metrics", Desc: "print build metrics after linking"},
			{DestP: &o.level, Flag: "log-level", Default: zapcore.InfoLevel, Desc: "supported log levels are debug, info, warn and error"},
			{DestP: &o.config, Flag: cli.ConfigFlag, Desc: "config file providing defaults for these options"},
			{DestP: &o.cpuProfile, Flag: "cpuprofile", Desc: "write a CPU profile to this file"},
		},
	})
}

func (o *linkOptions) run(stdout, stderr io.Writer) error {
	if o.manifest == "" {
		return fmt.Errorf("--manifest is required")
	}
	if o.cpuProfile != "" {
		f, err := os.Create(o.cpuProfile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	log := logger.New(stderr, o.level)
	defer func() { _ = log.Sync() }()

	m, err := manifest.Load(o.manifest)
	if err != nil {
		return err
	}
	roots, objs, err := m.Build()
	if err != nil {
		return err
	}
	log.Debug("Loaded manifest", zap.String("path", o.manifest), zap.Int("objects", len(objs)))

	reg := prometheus.NewRegistry()
	metrics := objpack.NewMetrics()
	reg.MustRegister(metrics.PrometheusCollectors()...)

	b := objpack.NewBuilder(
		objpack.WithCompress(o.compress),
		objpack.WithShuffle(o.shuffle),
		objpack.WithSeed(o.seed),
		objpack.WithVerifyOverlap(o.verify),
		objpack.WithLogger(log),
		objpack.WithMetrics(metrics),
	)
	p, err := b.CreatePayload(roots...)
	if err != nil {
		return err
	}

	var flags byte
	if o.zstd {
		flags |= compactwire.FlagZstd
	}
	frame, err := compactwire.EncodePayload(p, flags)
	if err != nil {
		return err
	}
	if err := os.WriteFile(o.out, frame, 0o644); err != nil {
		return err
	}

	st := b.Stats()
	fmt.Fprintf(stdout, "%s: %d objects, %s payload (%s saved), %d epd / %d ptr relocations, %s frame, digest %016x\n",
		o.out, st.Objects,
		humanize.Bytes(uint64(st.Size)), humanize.Bytes(uint64(st.Saved())),
		st.EPDRelocs, st.PtrRelocs,
		humanize.Bytes(uint64(len(frame))), compactwire.Digest(p.Data))

	if o.metrics {
		return writeMetrics(stdout, reg)
	}
	return nil
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
