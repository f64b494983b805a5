package objpack

import (
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// collectingSink evaluates every expression it is handed so the
// builder sees each referenced object. It produces no bytes.
type collectingSink struct {
	r Resolver
}

func (c collectingSink) WriteByte(byte) error { return nil }
func (c collectingSink) WriteWord(uint16) error { return nil }
func (c collectingSink) WriteBytes([]byte) error { return nil }
func (c collectingSink) WriteSpace(int) error { return nil }

func (c collectingSink) WriteDword(e Expr) error {
	_, err := Evaluate(c.r, e)
	return err
}

func (c collectingSink) WritePack(format string, args ...Expr) error {
	for _, e := range args {
		if _, err := Evaluate(c.r, e); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) reset() {
	b.found = b.found[:0]
	b.index = make(map[Object]int)
	b.untraversed = b.untraversed[:0]
	b.dynamic = b.dynamic[:0]
	b.maps = nil
	b.offsets = nil
	b.size = 0
	b.stats = Stats{}
}

// Collect discovers every object reachable from roots. The first object
// found stays first in layout order.
func (b *Builder) Collect(roots ...Expr) error {
	const op = "objpack.Collect"
	start := time.Now()
	b.reset()
	b.phase = PhaseCollecting
	defer func() { b.phase = PhaseIdle }()

	b.log.Info("Collecting objects", zap.Int("roots", len(roots)))

	sink := collectingSink{r: b}
	for _, root := range roots {
		if _, err := Evaluate(b, root); err != nil {
			return wrapOp(op, fmt.Errorf("evaluating root: %w", err))
		}
	}

	for len(b.untraversed) > 0 {
		for len(b.untraversed) > 0 {
			obj := b.untraversed[len(b.untraversed)-1]
			b.untraversed = b.untraversed[:len(b.untraversed)-1]
			if err := collectDependency(obj, sink); err != nil {
				return wrapOp(op, fmt.Errorf("collecting %s: %w", ObjectName(obj), err))
			}
			b.report(PhaseCollecting, len(b.found)-len(b.untraversed), len(b.found))
		}

		// Dynamic objects may now reference objects found since their
		// last scan. Objects they discover land in untraversed.
		for i := 0; i < len(b.dynamic); i++ {
			if err := collectDependency(b.dynamic[i], sink); err != nil {
				return wrapOp(op, fmt.Errorf("collecting %s: %w", ObjectName(b.dynamic[i]), err))
			}
		}
	}

	if len(b.found) == 0 {
		return wrapOp(op, ErrNoObjects)
	}

	callbacks := b.afterCollect
	b.afterCollect = nil
	if err := runCallbacks(callbacks); err != nil {
		return wrapOp(op, err)
	}

	if b.shuffle {
		b.shuffleObjects()
	}
	b.stats.Objects = len(b.found)
	b.stats.Shuffled = b.shuffle

	if b.metrics != nil {
		b.metrics.Objects.Add(float64(len(b.found)))
	}
	b.log.Info("Collected objects",
		zap.Int("objects", len(b.found)),
		zap.Int("dynamic", len(b.dynamic)),
		zap.Duration("elapsed", time.Since(start)))
	b.observe(PhaseCollecting, start)
	return nil
}

// shuffleObjects permutes every object but the root. The permutation
// depends only on the seed.
func (b *Builder) shuffleObjects() {
	rng := rand.New(rand.NewPCG(b.seed, b.seed^0x9E3779B97F4A7C15))
	rest := b.found[1:]
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	for i, obj := range b.found {
		b.index[obj] = i
	}
}
