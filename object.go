package objpack

import (
	"fmt"
	"reflect"

	"github.com/rawbytedev/objpack/pkg/rloc"
)

// Object is a unit of payload. Implementations must be comparable, and
// WritePayload must emit exactly DataSize bytes every time it is called.
type Object interface {
	DataSize() int
	WritePayload(w Sink) error
}

// DynamicObject marks objects whose references may change once other
// objects have been discovered.
type DynamicObject interface {
	Object
	DynamicConstructed() bool
}

// DependencyCollector lets an object declare its references without
// emitting its whole payload. Objects without it are collected by
// running WritePayload against the collecting sink.
type DependencyCollector interface {
	CollectDependency(w Sink) error
}

// AddressEvaluator overrides how Addr resolves an object.
type AddressEvaluator interface {
	EvaluateAddr(r Resolver) (rloc.RlocInt, error)
}

// ObjectName identifies obj in errors and logs.
func ObjectName(obj Object) string {
	if s, ok := obj.(fmt.Stringer); ok {
		return s.String()
	}
	if reflect.ValueOf(obj).Kind() == reflect.Pointer {
		return fmt.Sprintf("%T@%p", obj, obj)
	}
	return fmt.Sprintf("%T", obj)
}

func isDynamic(obj Object) bool {
	d, ok := obj.(DynamicObject)
	return ok && d.DynamicConstructed()
}

func collectDependency(obj Object, w Sink) error {
	if dc, ok := obj.(DependencyCollector); ok {
		return dc.CollectDependency(w)
	}
	return obj.WritePayload(w)
}
