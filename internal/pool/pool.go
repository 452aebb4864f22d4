// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool provides typed object pooling and a [*bytes.Buffer] pool used
// when encoding wire payloads.
package pool

import (
	"bytes"
	"sync"
)

// maxPooledBuffer caps the capacity of buffers returned to [Bytes] so one
// large payload does not pin memory.
const maxPooledBuffer = 64 << 10

// Reseter is implemented by pooled values that clear themselves on Put.
type Reseter interface {
	Reset()
}

// Pool is a generics wrapper around [sync.Pool] to provide strongly-typed object pooling.
type Pool[T any] struct {
	p    sync.Pool
	keep func(T) bool
}

// New returns a new [Pool] for T, and will use fn to construct new T's when the pool is empty.
func New[T any](fn func() T) *Pool[T] {
	return &Pool[T]{
		p: sync.Pool{
			New: func() any {
				return fn()
			},
		},
	}
}

// Get gets a T from the pool, or creates a new one if the pool is empty.
func (p *Pool[T]) Get() T {
	return p.p.Get().(T)
}

// Put resets x and returns it into the pool.
func (p *Pool[T]) Put(x T) {
	if p.keep != nil && !p.keep(x) {
		return
	}
	if xx, ok := any(x).(Reseter); ok {
		xx.Reset()
	}
	p.p.Put(x)
}

// Bytes provides the [*bytes.Buffer] pooling objects.
var Bytes = func() *Pool[*bytes.Buffer] {
	p := New(func() *bytes.Buffer {
		return &bytes.Buffer{}
	})
	p.keep = func(b *bytes.Buffer) bool {
		return b.Cap() <= maxPooledBuffer
	}
	return p
}()
