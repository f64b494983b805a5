package objpack

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/rawbytedev/objpack/internal/common"
)

type packPlan struct {
	format string
	size   int
	fields []packField
}

type packField struct {
	idx    int
	kind   reflect.Kind
	size   int
	isExpr bool
}

type planCache struct {
	mu   sync.RWMutex
	plan map[reflect.Type]*packPlan
}

var (
	plans    = &planCache{plan: make(map[reflect.Type]*packPlan)}
	exprType = reflect.TypeOf((*Expr)(nil)).Elem()
)

func (c *planCache) get(t reflect.Type) (*packPlan, error) {
	c.mu.RLock()
	if plan, ok := c.plan[t]; ok {
		c.mu.RUnlock()
		return plan, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check
	if plan, ok := c.plan[t]; ok {
		return plan, nil
	}

	plan := &packPlan{}
	var format strings.Builder
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" || sf.Tag.Get("pack") == "-" {
			continue
		}

		f := packField{idx: i, kind: sf.Type.Kind()}
		switch {
		case sf.Type.Implements(exprType):
			f.isExpr = true
			f.size = 4
		case common.IsPackKind(f.kind):
			f.size = common.FixedSize(f.kind)
		default:
			return nil, fmt.Errorf("%w: field %s.%s of type %s", ErrBadFormat, t.Name(), sf.Name, sf.Type)
		}

		format.WriteByte(common.FormatChar(f.size))
		plan.size += f.size
		plan.fields = append(plan.fields, f)
	}
	plan.format = format.String()

	c.plan[t] = plan
	return plan, nil
}

func structValue(val any) (reflect.Value, error) {
	v := reflect.ValueOf(val)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %T is not a struct", ErrBadFormat, val)
	}
	return v, nil
}

// PackSize returns the number of bytes PackStruct writes for val.
func PackSize(val any) (int, error) {
	v, err := structValue(val)
	if err != nil {
		return 0, err
	}
	plan, err := plans.get(v.Type())
	if err != nil {
		return 0, err
	}
	return plan.size, nil
}

// PackFormat returns the WritePack format derived from val's fields.
func PackFormat(val any) (string, error) {
	v, err := structValue(val)
	if err != nil {
		return "", err
	}
	plan, err := plans.get(v.Type())
	if err != nil {
		return "", err
	}
	return plan.format, nil
}

// PackStruct writes the exported fields of val, in declaration order, as a
// single WritePack call. Integer fields of 8, 16 and 32 bits and fields
// holding an Expr are supported; a field tagged `pack:"-"` is skipped.
func PackStruct(w Sink, val any) error {
	v, err := structValue(val)
	if err != nil {
		return err
	}
	plan, err := plans.get(v.Type())
	if err != nil {
		return err
	}

	args := make([]Expr, len(plan.fields))
	for i, f := range plan.fields {
		fv := v.Field(f.idx)
		switch {
		case f.isExpr:
			if (fv.Kind() == reflect.Interface || fv.Kind() == reflect.Ptr) && fv.IsNil() {
				args[i] = Int(0)
			} else {
				args[i] = fv.Interface().(Expr)
			}
		case f.kind == reflect.Bool:
			if fv.Bool() {
				args[i] = Int(1)
			} else {
				args[i] = Int(0)
			}
		case fv.CanInt():
			args[i] = Int(int32(fv.Int()))
		default:
			args[i] = Int(int32(uint32(fv.Uint())))
		}
	}
	return w.WritePack(plan.format, args...)
}
