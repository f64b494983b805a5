package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rawbytedev/objpack/internal/cli"
	"github.com/rawbytedev/objpack/pkg/compactwire"
)

type inspectOptions struct {
	base uint64
	dump bool
}

func newInspectCommand(stdout io.Writer) *cobra.Command {
	var o inspectOptions
	return cli.NewCommand(viper.New(), &cli.Program{
		Name:      "inspect FILE",
		Short:     "Print the contents of a payload frame",
		Args:      cobra.ExactArgs(1),
		EnvPrefix: "objpack",
		Run: func(args []string) error {
			return o.run(stdout, args[0])
		},
		Opts: []cli.Opt{
			{DestP: &o.dump, Flag: "dump", Desc: "hex dump the data, relocated to --base"},
			{DestP: &o.base, Flag: "base", Desc: "load address used by --dump"},
		},
	})
}

func (o *inspectOptions) run(w io.Writer, path string) error {
	frame, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	p, flags, err := compactwire.DecodePayload(frame)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	encoding := "raw"
	if flags&compactwire.FlagZstd != 0 {
		encoding = "zstd"
	}
	fmt.Fprintf(w, "frame:  %s (%s)\n", humanize.Bytes(uint64(len(frame))), encoding)
	fmt.Fprintf(w, "data:   %s\n", humanize.Bytes(uint64(len(p.Data))))
	fmt.Fprintf(w, "digest: %016x\n", compactwire.Digest(p.Data))
	printTable(w, "epd", p.EPDRelocs)
	printTable(w, "ptr", p.PtrRelocs)

	if o.dump {
		if o.base > 0xFFFFFFFF {
			return fmt.Errorf("--base %#x does not fit in 32 bits", o.base)
		}
		fmt.Fprint(w, hex.Dump(p.Relocate(uint32(o.base))))
	}
	return nil
}

func printTable(w io.Writer, name string, offsets []int) {
	fmt.Fprintf(w, "%s:    %d relocations\n", name, len(offsets))
	for _, off := range offsets {
		fmt.Fprintf(w, "  0x%08X\n", off)
	}
}
