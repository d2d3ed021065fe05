// Package kobj implements the reference-counted kernel objects that live
// behind capability table entries: the embeddable Object base plus files,
// directories, shared memory and blobs (spec §3.3, §4.3). Channels and
// pollsets live in pkg/ipc and embed Object from here.
//
// Grounded on original_source/viperdos/kernel/kobj/object.hpp. The C++
// Object base class hand-rolls an intrusive refcount and a Ref<T> smart
// pointer; Go gives us atomic.Int32 for the former and generics for the
// latter, so the translation keeps the same shape without the manual
// vtable-style as<T>() downcast.
package kobj

import (
	"sync/atomic"

	"github.com/splanck/viperdos/pkg/cap"
)

// Object is the embeddable base every kernel object type includes: a kind
// tag and an intrusive reference count starting at 1, mirroring
// kobj::Object (spec §4.3).
type Object struct {
	kind     cap.Kind
	refCount atomic.Int32
}

// NewObject initializes an Object header with the given kind and a
// starting reference count of 1.
func NewObject(kind cap.Kind) Object {
	o := Object{kind: kind}
	o.refCount.Store(1)
	return o
}

// Kind returns the object's kind tag, satisfying cap.Object.
func (o *Object) Kind() cap.Kind { return o.kind }

// Ref increments the reference count (spec §4.3 ref()).
func (o *Object) Ref() {
	o.refCount.Add(1)
}

// Unref decrements the reference count and reports whether it reached
// zero, i.e. whether the caller should finalize/destroy the object (spec
// §4.3 unref()).
func (o *Object) Unref() bool {
	return o.refCount.Add(-1) == 0
}

// RefCount returns the current reference count, for diagnostics and tests.
func (o *Object) RefCount() int32 {
	return o.refCount.Load()
}

// Finalizer is implemented by kernel objects that must release resources
// (wake waiters, close backing storage) once their last reference drops.
type Finalizer interface {
	Finalize()
}

// Release drops one reference to obj and finalizes it if that was the
// last one. This is the free-function companion to kobj::release() in
// the original, kept as a package function rather than a Ref[T] method so
// callers holding a bare pointer (not a Ref) can still use it.
func Release(obj interface {
	Unref() bool
}) {
	if obj.Unref() {
		if f, ok := obj.(Finalizer); ok {
			f.Finalize()
		}
	}
}

// refTarget is the constraint a type must satisfy to be held by Ref[T]:
// it must embed an Object (so Ref/Unref/Kind are available).
type refTarget interface {
	Ref()
	Unref() bool
}

// Ref is a RAII-style smart pointer over a reference-counted kernel
// object, mirroring kobj::Ref<T>. Go has no destructors, so callers must
// call Release explicitly when a Ref goes out of scope (typically via
// defer), the same discipline the original's comments place on callers
// that bypass RAII.
type Ref[T refTarget] struct {
	ptr T
}

// MakeRef wraps ptr in a Ref without taking an extra reference — used
// when the caller already owns the +1 from construction (spec: the
// "adopting" constructor in kobj::Ref<T>).
func MakeRef[T refTarget](ptr T) Ref[T] {
	return Ref[T]{ptr: ptr}
}

// NewRef wraps ptr and takes an additional reference, used when sharing
// an object the caller does not already own a reference to.
func NewRef[T refTarget](ptr T) Ref[T] {
	ptr.Ref()
	return Ref[T]{ptr: ptr}
}

// Get returns the underlying pointer without affecting the reference
// count.
func (r Ref[T]) Get() T {
	return r.ptr
}

// Valid reports whether this Ref holds a non-nil pointer.
func (r Ref[T]) Valid() bool {
	var zero T
	return any(r.ptr) != any(zero)
}

// Clone returns a new Ref to the same object, taking an additional
// reference (spec: the copy-constructor path of kobj::Ref<T>).
func (r Ref[T]) Clone() Ref[T] {
	r.ptr.Ref()
	return Ref[T]{ptr: r.ptr}
}

// Release drops the reference held by this Ref and, if it was the last
// one, finalizes the underlying object.
func (r Ref[T]) Release() {
	if !r.Valid() {
		return
	}
	if r.ptr.Unref() {
		if f, ok := any(r.ptr).(Finalizer); ok {
			f.Finalize()
		}
	}
}
