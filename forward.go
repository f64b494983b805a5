package objpack

import (
	"github.com/rawbytedev/objpack/pkg/rloc"
)

// Forward is an expression bound after it has been referenced.
type Forward struct {
	expr Expr
	busy bool
}

func NewForward() *Forward { return &Forward{} }

func (f *Forward) Bind(e Expr) error {
	if f.expr != nil {
		return ErrAlreadyBound
	}
	if e == nil {
		return ErrUnbound
	}
	if fe, ok := e.(*Forward); ok && fe == f {
		return ErrSelfBind
	}
	f.expr = e
	return nil
}

func (f *Forward) Reset() { f.expr = nil }

func (f *Forward) IsSet() bool { return f.expr != nil }

// Target returns the bound expression, nil while unbound.
func (f *Forward) Target() Expr { return f.expr }

func (f *Forward) Evaluate(r Resolver) (rloc.RlocInt, error) {
	if f.expr == nil {
		return rloc.RlocInt{}, ErrUnbound
	}
	// Any reference cycle passes through a Forward, so re-entry means one.
	if f.busy {
		return rloc.RlocInt{}, ErrCycle
	}
	f.busy = true
	defer func() { f.busy = false }()
	return f.expr.Evaluate(r)
}
