package objpack

import (
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/rawbytedev/objpack/pkg/rloc"
	"github.com/rawbytedev/objpack/pkg/stack"
)

// Phase is the build stage a Builder is in.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCollecting
	PhaseAllocating
	PhaseWriting
)

func (p Phase) String() string {
	switch p {
	case PhaseCollecting:
		return "collecting"
	case PhaseAllocating:
		return "allocating"
	case PhaseWriting:
		return "writing"
	}
	return "idle"
}

// ProgressFunc is called as objects go through a phase.
type ProgressFunc func(phase Phase, done, total int)

type Option func(*Builder)

// WithCompress toggles stacking. When off, objects are laid out back to back.
func WithCompress(on bool) Option { return func(b *Builder) { b.compress = on } }

// WithShuffle permutes every object but the root after collection.
func WithShuffle(on bool) Option { return func(b *Builder) { b.shuffle = on } }

func WithSeed(seed uint64) Option { return func(b *Builder) { b.seed = seed } }

func WithLogger(log *zap.Logger) Option { return func(b *Builder) { b.log = log } }

func WithMetrics(m *Metrics) Option { return func(b *Builder) { b.metrics = m } }

func WithProgress(f ProgressFunc) Option { return func(b *Builder) { b.progress = f } }

// WithVerifyOverlap re-checks the packed layout for colliding dwords.
func WithVerifyOverlap(on bool) Option { return func(b *Builder) { b.verify = on } }

// Builder turns a graph of objects into a Payload. It is not safe for
// concurrent use.
type Builder struct {
	log      *zap.Logger
	metrics  *Metrics
	progress ProgressFunc
	compress bool
	shuffle  bool
	seed     uint64
	verify   bool

	phase       Phase
	found       []Object
	index       map[Object]int
	untraversed []Object
	dynamic     []Object

	maps    []stack.Map
	offsets []int
	size    int
	stats   Stats

	onCreate     []func() error
	afterCollect []func() error
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		log:      zap.NewNop(),
		compress: true,
		verify:   true,
		index:    make(map[Object]int),
	}
	for _, o := range opts {
		o(b)
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	return b
}

// OnCreatePayload registers f to run once at the start of the next
// CreatePayload.
func (b *Builder) OnCreatePayload(f func() error) {
	b.onCreate = append(b.onCreate, f)
}

// AfterCollecting registers f to run once after the next collection.
func (b *Builder) AfterCollecting(f func() error) {
	b.afterCollect = append(b.afterCollect, f)
}

func (b *Builder) Phase() Phase { return b.phase }

// Objects returns the collected objects in layout order.
func (b *Builder) Objects() []Object {
	out := make([]Object, len(b.found))
	copy(out, b.found)
	return out
}

// Offset returns the byte offset assigned to obj by Allocate.
func (b *Builder) Offset(obj Object) (int, bool) {
	i, ok := b.index[obj]
	if !ok || i >= len(b.offsets) {
		return 0, false
	}
	return b.offsets[i], true
}

func (b *Builder) Stats() Stats { return b.stats }

var defaultAddr = rloc.New(0, rloc.Ptr)

// ObjectAddr resolves obj for the current phase. While collecting it
// registers obj; before writing every address is a placeholder pointer.
func (b *Builder) ObjectAddr(obj Object) (rloc.RlocInt, error) {
	switch b.phase {
	case PhaseCollecting:
		if _, ok := b.index[obj]; !ok {
			b.register(obj)
		}
		return defaultAddr, nil
	case PhaseAllocating:
		return defaultAddr, nil
	case PhaseWriting:
		i, ok := b.index[obj]
		if !ok {
			return rloc.RlocInt{}, fmt.Errorf("%w: %s", ErrUnknownObject, ObjectName(obj))
		}
		return rloc.New(int32(b.offsets[i]), rloc.Ptr), nil
	}
	return rloc.RlocInt{}, ErrNoPhase
}

func (b *Builder) register(obj Object) {
	b.index[obj] = len(b.found)
	b.found = append(b.found, obj)
	b.untraversed = append(b.untraversed, obj)
	if isDynamic(obj) {
		b.dynamic = append(b.dynamic, obj)
	}
}

func (b *Builder) report(phase Phase, done, total int) {
	if b.progress != nil {
		b.progress(phase, done, total)
	}
}

func (b *Builder) observe(phase Phase, start time.Time) {
	if b.metrics != nil {
		b.metrics.StageDuration.WithLabelValues(phase.String()).Observe(time.Since(start).Seconds())
	}
}

func runCallbacks(fs []func() error) error {
	for _, f := range fs {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// CreatePayload runs every stage on the graph reachable from roots.
func (b *Builder) CreatePayload(roots ...Expr) (p *Payload, err error) {
	defer func() {
		if b.metrics == nil {
			return
		}
		if err != nil {
			b.metrics.Builds.WithLabelValues(LabelError).Inc()
			return
		}
		b.metrics.Builds.WithLabelValues(LabelSuccess).Inc()
	}()

	callbacks := b.onCreate
	b.onCreate = nil
	if err := runCallbacks(callbacks); err != nil {
		return nil, wrapOp("objpack.CreatePayload", err)
	}
	if err := b.Collect(roots...); err != nil {
		return nil, err
	}
	if err := b.Allocate(); err != nil {
		return nil, err
	}
	return b.Construct()
}

// Allocate probes every collected object and assigns its offset.
func (b *Builder) Allocate() error {
	const op = "objpack.Allocate"
	if len(b.found) == 0 {
		return wrapOp(op, ErrNoObjects)
	}
	start := time.Now()
	b.phase = PhaseAllocating
	defer func() { b.phase = PhaseIdle }()

	b.log.Info("Allocating objects", zap.Int("objects", len(b.found)), zap.Bool("compress", b.compress))

	prober := NewProber()
	b.maps = make([]stack.Map, len(b.found))
	sizes := make([]int, len(b.found))
	for i, obj := range b.found {
		m, err := prober.Probe(obj)
		if err != nil {
			return wrapOp(op, fmt.Errorf("probing %s: %w", ObjectName(obj), err))
		}
		b.maps[i] = m
		sizes[i] = obj.DataSize()
		b.report(PhaseAllocating, i+1, len(b.found))
	}

	seq := stack.Sequential(sizes)
	layout := seq
	if b.compress {
		layout = stack.Stack(b.maps)
	}
	if b.verify {
		if err := verifyLayout(b.found, b.maps, layout.Offsets); err != nil {
			return wrapOp(op, err)
		}
	}
	b.offsets = layout.Offsets
	b.size = layout.Size
	b.stats.Size = layout.Size
	b.stats.Sequential = seq.Size
	b.stats.Compressed = b.compress

	b.log.Info("Allocated objects",
		zap.Int("objects", len(b.found)),
		zap.Int("size", layout.Size),
		zap.Int("saved", seq.Size-layout.Size),
		zap.Duration("elapsed", time.Since(start)))
	b.observe(PhaseAllocating, start)
	return nil
}

// Construct writes every object at its offset and returns the payload.
func (b *Builder) Construct() (*Payload, error) {
	const op = "objpack.Construct"
	if len(b.offsets) != len(b.found) || len(b.found) == 0 {
		return nil, wrapOp(op, ErrNoObjects)
	}
	start := time.Now()
	b.phase = PhaseWriting
	defer func() { b.phase = PhaseIdle }()

	b.log.Info("Constructing payload", zap.Int("objects", len(b.found)), zap.Int("size", b.size))

	buf := NewPayloadBuffer(b.size, b)
	for i, obj := range b.found {
		buf.obj = obj
		buf.StartWrite(b.offsets[i])
		if err := obj.WritePayload(buf); err != nil {
			return nil, wrapOp(op, fmt.Errorf("writing %s: %w", ObjectName(obj), err))
		}
		written := buf.EndWrite()
		if written != obj.DataSize() {
			return nil, wrapOp(op, &AllocationError{
				Object:   obj,
				Name:     ObjectName(obj),
				Phase:    PhaseWriting,
				Declared: obj.DataSize(),
				Actual:   written,
			})
		}
		if occ := buf.Occupancy(); !slices.Equal(occ, b.maps[i]) {
			return nil, wrapOp(op, &AllocationError{
				Object:   obj,
				Name:     ObjectName(obj),
				Phase:    PhaseWriting,
				Declared: obj.DataSize(),
				Actual:   written,
				Reason:   fmt.Sprintf("wrote dwords %s but probed %s", occ, b.maps[i]),
			})
		}
		b.log.Debug("Wrote object", zap.String("object", ObjectName(obj)), zap.Int("offset", b.offsets[i]))
		b.report(PhaseWriting, i+1, len(b.found))
	}

	p, err := buf.CreatePayload()
	if err != nil {
		return nil, wrapOp(op, err)
	}
	b.stats.EPDRelocs = len(p.EPDRelocs)
	b.stats.PtrRelocs = len(p.PtrRelocs)

	if b.metrics != nil {
		b.metrics.PayloadBytes.Set(float64(len(p.Data)))
		b.metrics.SavedBytes.Set(float64(b.stats.Saved()))
		b.metrics.Relocations.WithLabelValues("epd").Add(float64(len(p.EPDRelocs)))
		b.metrics.Relocations.WithLabelValues("ptr").Add(float64(len(p.PtrRelocs)))
	}
	b.log.Info("Constructed payload",
		zap.Int("size", len(p.Data)),
		zap.Int("epd_relocs", len(p.EPDRelocs)),
		zap.Int("ptr_relocs", len(p.PtrRelocs)),
		zap.Duration("elapsed", time.Since(start)))
	b.observe(PhaseWriting, start)
	return p, nil
}
