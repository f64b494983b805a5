package manifest

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rawbytedev/objpack"
)

// item is a parsed array entry: a constant, or a reference of the form
// [epd:]@name[+N|-N].
type item struct {
	name   string
	offset int32
	epd    bool
}

func parseItem(s string) (item, error) {
	s = strings.TrimSpace(s)
	var it item
	if rest, ok := strings.CutPrefix(s, "epd:"); ok {
		it.epd = true
		s = rest
		if !strings.HasPrefix(s, "@") {
			return it, fmt.Errorf("epd: needs a reference, got %q", s)
		}
	}

	if !strings.HasPrefix(s, "@") {
		v, err := parseInt(s)
		if err != nil {
			return it, err
		}
		it.offset = v
		return it, nil
	}

	s = s[1:]
	it.name = s
	// Names may contain signs; the displacement is the first signed
	// suffix that reads as an integer.
	for i := 1; i < len(s); i++ {
		if s[i] != '+' && s[i] != '-' {
			continue
		}
		if v, err := parseInt(s[i:]); err == nil {
			it.name, it.offset = s[:i], v
			break
		}
	}
	if it.name == "" || strings.HasPrefix(it.name, "+") || strings.HasPrefix(it.name, "-") {
		return it, fmt.Errorf("empty reference in %q", s)
	}
	return it, nil
}

func parseInt(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad integer %q", s)
	}
	if v < math.MinInt32 || v > math.MaxUint32 {
		return 0, fmt.Errorf("integer %q does not fit in a dword", s)
	}
	return int32(uint32(v)), nil
}

func (it item) expr(byName map[string]objpack.Object) objpack.Expr {
	if it.name == "" {
		return objpack.Int(it.offset)
	}
	addr := objpack.Addr(byName[it.name]).Add(it.offset)
	if it.epd {
		return objpack.EPD(addr)
	}
	return addr
}
