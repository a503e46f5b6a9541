package optional

import (
	"github.com/Blackdeer1524/txnsim/src/pkg/assert"
)

type Optional[T any] struct {
	present bool
	value   T
}

func Some[T any](value T) Optional[T] {
	return Optional[T]{present: true, value: value}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

// FromLookup adapts the comma-ok result of a map read.
func FromLookup[T any](value T, ok bool) Optional[T] {
	if !ok {
		return None[T]()
	}
	return Some(value)
}

func (opt Optional[T]) Unwrap() T {
	assert.Assert(opt.present, "unwrapping an empty optional")
	return opt.value
}

func (opt Optional[T]) ValueOr(fallback T) T {
	if !opt.present {
		return fallback
	}
	return opt.value
}

func (opt Optional[T]) IsSome() bool {
	return opt.present
}

func (opt Optional[T]) IsNone() bool {
	return !opt.present
}
