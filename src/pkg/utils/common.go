package utils

import (
	"cmp"
	"maps"
	"slices"
)

func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}

	return v
}

type Pair[T, K any] struct {
	First  T
	Second K
}

func (p Pair[T, K]) Destruct() (T, K) {
	return p.First, p.Second
}

// SortedKeys returns the keys of m in ascending order. Map iteration order is
// random, so everything that must replay identically under a fixed seed walks
// maps through it.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
