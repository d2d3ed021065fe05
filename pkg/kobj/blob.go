package kobj

import "github.com/splanck/viperdos/pkg/cap"

// Blob is an immutable, kernel-owned byte buffer (spec §3.3) — used for
// things like the arguments/environment a Viper is created with, or a
// capability-transferred message payload too large to inline.
type Blob struct {
	Object

	Data []byte
}

// NewBlob copies data into a new immutable Blob object.
func NewBlob(data []byte) *Blob {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &Blob{
		Object: NewObject(cap.KindBlob),
		Data:   cp,
	}
}
