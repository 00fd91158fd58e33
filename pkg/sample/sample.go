// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sample implements the universal, reference-counted, variable-length
// sample record that every sensor produces and every processor/output
// consumes, along with the type-indexed free-list pool that recycles its
// backing storage.
//
// Grounded on the teacher's internal/memorystore/buffer.go sync.Pool-backed
// buffer recycling: a Sample is obtained from a pool keyed by (type,
// capacity bucket), filled in place, handed to every subscriber by
// distribute (each subscriber calling HoldReference first), and returned to
// its pool once the last holder calls FreeReference.
package sample

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
)

// Type tags the element type of a Sample's payload.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeByte
	TypeUByte
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeInt64
	TypeFloat32
	TypeFloat64
)

// itemSize returns the size in bytes of one payload element of this type.
func (t Type) itemSize() int {
	switch t {
	case TypeByte, TypeUByte:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4
	case TypeInt64, TypeFloat64:
		return 8
	default:
		return 1
	}
}

func (t Type) String() string {
	switch t {
	case TypeByte:
		return "byte"
	case TypeUByte:
		return "ubyte"
	case TypeInt16:
		return "int16"
	case TypeUint16:
		return "uint16"
	case TypeInt32:
		return "int32"
	case TypeUint32:
		return "uint32"
	case TypeInt64:
		return "int64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// ID bit layout: high 6 bits station, middle 10 bits DSM, low 16 bits
// short-id, packed into a single uint32 for cheap routing/hashing/compares.
const (
	shortIDBits  = 16
	dsmIDBits    = 10
	stationBits  = 6
	shortIDMask  = (1 << shortIDBits) - 1
	dsmIDMask    = (1 << dsmIDBits) - 1
	stationMask  = (1 << stationBits) - 1
)

// MakeID packs a station id, DSM id and short id into the composite 32-bit
// sample id.
func MakeID(station, dsm, short uint32) uint32 {
	return (station&stationMask)<<(dsmIDBits+shortIDBits) | (dsm&dsmIDMask)<<shortIDBits | (short & shortIDMask)
}

// SplitID unpacks a composite sample id into its three fields.
func SplitID(id uint32) (station, dsm, short uint32) {
	short = id & shortIDMask
	dsm = (id >> shortIDBits) & dsmIDMask
	station = (id >> (dsmIDBits + shortIDBits)) & stationMask
	return
}

// Sample is the universal time-tagged, reference-counted record. It is
// immutable once handed to distribute; the only legal ways to share or
// release it are HoldReference and FreeReference.
type Sample struct {
	timetag  nidtime.UTime
	id       uint32
	typ      Type
	length   int // number of elements (payload-length-bytes = length * itemSize)
	refcount int32
	data     []byte // capacity is always a power-of-two number of bytes
	bucket   int
}

// TimeTag returns the sample's microsecond timetag.
func (s *Sample) TimeTag() nidtime.UTime { return s.timetag }

// SetTimeTag sets the sample's timetag. Only legal before distribute.
func (s *Sample) SetTimeTag(t nidtime.UTime) { s.timetag = t }

// ID returns the composite sample id.
func (s *Sample) ID() uint32 { return s.id }

// SetID sets the composite sample id. Only legal before distribute.
func (s *Sample) SetID(id uint32) { s.id = id }

// Type returns the payload element type.
func (s *Sample) Type() Type { return s.typ }

// Length returns the number of payload elements.
func (s *Sample) Length() int { return s.length }

// ByteLength returns the payload length in bytes.
func (s *Sample) ByteLength() int { return s.length * s.typ.itemSize() }

// Capacity returns the allocated capacity in bytes for this sample's bucket.
func (s *Sample) Capacity() int { return cap(s.data) }

// Bytes returns the raw payload bytes (length ByteLength()). Callers must
// not retain the slice past FreeReference.
func (s *Sample) Bytes() []byte { return s.data[:s.ByteLength()] }

// SetLength sets the number of valid elements; must be <= capacity/itemSize.
// Only legal before distribute.
func (s *Sample) SetLength(n int) error {
	need := n * s.typ.itemSize()
	if need > cap(s.data) {
		return fmt.Errorf("sample: length %d exceeds capacity %d bytes", n, cap(s.data))
	}
	s.length = n
	s.data = s.data[:need]
	return nil
}

// RefCount returns the current reference count (for tests/diagnostics).
func (s *Sample) RefCount() int32 { return atomic.LoadInt32(&s.refcount) }

// HoldReference increments the reference count. Every subscriber that
// queues the sample for later processing must call this exactly once
// before queuing.
func (s *Sample) HoldReference() {
	atomic.AddInt32(&s.refcount, 1)
}

// FreeReference decrements the reference count. When it reaches zero the
// sample is returned to the pool it came from.
func (s *Sample) FreeReference() {
	n := atomic.AddInt32(&s.refcount, -1)
	if n < 0 {
		panic("sample: FreeReference called more times than HoldReference")
	}
	if n == 0 {
		globalPool.put(s)
	}
}

// poolKey identifies one free-list: samples of a given type whose capacity
// falls in a given power-of-two bucket.
type poolKey struct {
	typ    Type
	bucket int // log2(capacity bytes)
}

// Pool is the set of type/capacity-indexed free-lists samples are obtained
// from and returned to.
type Pool struct {
	mu    sync.Mutex
	lists map[poolKey]*sync.Pool
}

func newPool() *Pool {
	return &Pool{lists: make(map[poolKey]*sync.Pool)}
}

var globalPool = newPool()

// GlobalPool returns the process-wide sample pool.
func GlobalPool() *Pool { return globalPool }

func bucketFor(nbytes int) int {
	if nbytes <= 1 {
		return 0
	}
	return bits.Len(uint(nbytes - 1))
}

func (p *Pool) listFor(key poolKey) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.lists[key]
	if !ok {
		capBytes := 1 << key.bucket
		sp = &sync.Pool{
			New: func() any {
				return &Sample{data: make([]byte, 0, capBytes)}
			},
		}
		p.lists[key] = sp
	}
	return sp
}

// Get obtains a sample able to hold at least nElements of typ, with
// refcount starting at 1, capacity rounded up to a power-of-two bucket.
func (p *Pool) Get(typ Type, nElements int) *Sample {
	nbytes := nElements * typ.itemSize()
	bucket := bucketFor(nbytes)
	key := poolKey{typ: typ, bucket: bucket}
	sp := p.listFor(key)
	s := sp.Get().(*Sample)
	s.typ = typ
	s.bucket = bucket
	s.refcount = 1
	s.length = nElements
	s.data = s.data[:0:cap(s.data)]
	s.data = s.data[:nbytes]
	for i := range s.data {
		s.data[i] = 0
	}
	return s
}

func (p *Pool) put(s *Sample) {
	key := poolKey{typ: s.typ, bucket: s.bucket}
	sp := p.listFor(key)
	s.id = 0
	s.timetag = 0
	s.length = 0
	sp.Put(s)
}

// Get is a convenience wrapper around GlobalPool().Get.
func Get(typ Type, nElements int) *Sample { return globalPool.Get(typ, nElements) }
