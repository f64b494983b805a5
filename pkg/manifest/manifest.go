// Package manifest describes object graphs in YAML or TOML files.
package manifest

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/rawbytedev/objpack"
	"github.com/rawbytedev/objpack/pkg/objects"
)

type Format int

const (
	YAML Format = iota
	TOML
)

// Object kinds.
const (
	KindBytes   = "bytes"
	KindString  = "string"
	KindZero    = "zero"
	KindArray   = "array"
	KindReserve = "reserve"
)

var (
	ErrUnknownFormat = errors.New("unknown manifest format")
	ErrInvalid       = errors.New("invalid manifest")
)

// Manifest lists the objects of a payload. Roots are laid out first, in
// order; everything they reach is pulled in.
type Manifest struct {
	Roots   []string `yaml:"roots" toml:"roots"`
	Objects []Object `yaml:"objects" toml:"objects"`
}

// Object describes one payload object. Which fields apply depends on Kind.
type Object struct {
	Name    string   `yaml:"name" toml:"name"`
	Kind    string   `yaml:"kind" toml:"kind"`
	Hex     string   `yaml:"hex,omitempty" toml:"hex,omitempty"`
	Value   string   `yaml:"value,omitempty" toml:"value,omitempty"`
	Items   []string `yaml:"items,omitempty" toml:"items,omitempty"`
	Size    int      `yaml:"size,omitempty" toml:"size,omitempty"`
	Space   int      `yaml:"space,omitempty" toml:"space,omitempty"`
	Dynamic bool     `yaml:"dynamic,omitempty" toml:"dynamic,omitempty"`
}

// FormatOf picks a format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

func Load(path string) (*Manifest, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, format)
}

func Parse(data []byte, format Format) (*Manifest, error) {
	m := &Manifest{}
	switch format {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(m); err != nil {
			return nil, fmt.Errorf("parse yaml manifest: %w", err)
		}
	case TOML:
		md, err := toml.Decode(string(data), m)
		if err != nil {
			return nil, fmt.Errorf("parse toml manifest: %w", err)
		}
		if keys := md.Undecoded(); len(keys) > 0 {
			return nil, fmt.Errorf("%w: unknown key %s", ErrInvalid, keys[0])
		}
	default:
		return nil, ErrUnknownFormat
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate reports every problem in m at once.
func (m *Manifest) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	names := make(map[string]bool, len(m.Objects))
	for i, o := range m.Objects {
		switch {
		case o.Name == "":
			fail("object %d has no name", i)
		case names[o.Name]:
			fail("duplicate object %q", o.Name)
		}
		names[o.Name] = true
	}

	for _, o := range m.Objects {
		switch o.Kind {
		case KindBytes:
			if _, err := hex.DecodeString(o.Hex); err != nil {
				fail("object %q: bad hex: %v", o.Name, err)
			}
		case KindString:
			if strings.IndexByte(o.Value, 0) >= 0 {
				fail("object %q: %v", o.Name, objects.ErrNulInString)
			}
		case KindZero:
			if o.Size <= 0 {
				fail("object %q: size must be positive", o.Name)
			}
		case KindArray:
			if o.Dynamic && o.Size < len(o.Items) {
				fail("object %q: %d items exceed size %d", o.Name, len(o.Items), o.Size)
			}
			for _, item := range o.Items {
				ref, err := parseItem(item)
				if err != nil {
					fail("object %q: %v", o.Name, err)
					continue
				}
				if ref.name != "" && !names[ref.name] {
					fail("object %q references unknown object %q", o.Name, ref.name)
				}
			}
		case KindReserve:
			if _, err := hex.DecodeString(o.Hex); err != nil {
				fail("object %q: bad hex: %v", o.Name, err)
			}
			if o.Space < 0 {
				fail("object %q: negative space", o.Name)
			}
		default:
			fail("object %q: unknown kind %q", o.Name, o.Kind)
		}
	}

	if len(m.Roots) == 0 {
		fail("no roots")
	}
	for _, r := range m.Roots {
		if !names[r] {
			fail("unknown root %q", r)
		}
	}
	return result.ErrorOrNil()
}

// Build creates the objects of m and returns an address expression for
// each root.
func (m *Manifest) Build() ([]objpack.Expr, []objpack.Object, error) {
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}

	byName := make(map[string]objpack.Object, len(m.Objects))
	arrays := make(map[string]*objects.Array)
	objs := make([]objpack.Object, 0, len(m.Objects))
	for _, o := range m.Objects {
		var obj objpack.Object
		switch o.Kind {
		case KindBytes:
			data, _ := hex.DecodeString(o.Hex)
			obj = objects.NewDb(o.Name, data)
		case KindString:
			s, err := objects.NewString(o.Name, o.Value)
			if err != nil {
				return nil, nil, err
			}
			obj = s
		case KindZero:
			obj = objects.NewZeroDb(o.Name, o.Size)
		case KindArray:
			var a *objects.Array
			if o.Dynamic {
				a = objects.NewDynamicArray(o.Name, o.Size)
			} else {
				a = objects.NewArray(o.Name, make([]objpack.Expr, len(o.Items))...)
			}
			arrays[o.Name] = a
			obj = a
		case KindReserve:
			header, _ := hex.DecodeString(o.Hex)
			obj = objects.NewReserve(o.Name, header, o.Space)
		}
		byName[o.Name] = obj
		objs = append(objs, obj)
	}

	for _, o := range m.Objects {
		a, ok := arrays[o.Name]
		if !ok {
			continue
		}
		for i, item := range o.Items {
			ref, _ := parseItem(item)
			if err := a.Set(i, ref.expr(byName)); err != nil {
				return nil, nil, err
			}
		}
	}

	roots := make([]objpack.Expr, len(m.Roots))
	for i, r := range m.Roots {
		roots[i] = objpack.Addr(byName[r])
	}
	return roots, objs, nil
}
