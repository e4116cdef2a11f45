// Package generic has small type-parameterised helpers shared across the module.
package generic

import "fmt"

// Option holds either one value of T or nothing, for lookups where absence is an ordinary outcome.
type Option[T any] struct {
	value    T
	hasValue bool
}

func Some[T any](value T) Option[T] {
	return Option[T]{value: value, hasValue: true}
}

func None[T any]() Option[T] {
	return Option[T]{}
}

func (o Option[T]) IsSome() bool {
	return o.hasValue
}

func (o Option[T]) IsNone() bool {
	return !o.hasValue
}

// Unwrap returns the value, and panics if there isn't one.
func (o Option[T]) Unwrap() T {
	if !o.hasValue {
		panic("tried to Unwrap() a None")
	}
	return o.value
}

func (o Option[T]) UnwrapOr(other T) T {
	if o.hasValue {
		return o.value
	}
	return other
}

// Unwrap returns value, or panics if err is set. Only for errors that indicate a programming mistake.
func Unwrap[T any](value T, err error) T {
	if err != nil {
		panic(fmt.Errorf("tried to Unwrap() an error: %w", err))
	}
	return value
}

// Unwrap_ is like Unwrap, but for calls that return only an error.
func Unwrap_(err error) {
	if err != nil {
		panic(fmt.Errorf("tried to Unwrap() an error: %w", err))
	}
}
