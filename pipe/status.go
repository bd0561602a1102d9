// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package pipe

import "fmt"

// Status is the lifecycle phase of a pooled Buffer.
type Status uint8

const (
	// Idle buffers may be claimed for any index.
	Idle Status = iota
	// Populating buffers are being filled by exactly one goroutine.
	Populating
	// Busy buffers hold immutable content for their index until released.
	Busy
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Populating:
		return "populating"
	case Busy:
		return "busy"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// MaxIndex is the largest epoch index a pooled buffer can represent.
// The low two bits of the packed state word hold the status and the
// remaining bits hold index+1, leaving zero for a buffer never claimed.
const MaxIndex = 1<<62 - 2

const statusBits = 2

// tag packs (index, status) into one word so control decisions read both
// fields from a single atomic load.
type tag uint64

func makeTag(index uint64, s Status) tag {
	return tag((index+1)<<statusBits | uint64(s))
}

// fresh reports whether the buffer has never been claimed.
func (t tag) fresh() bool { return uint64(t)>>statusBits == 0 }

func (t tag) index() uint64 {
	if t.fresh() {
		return 0
	}
	return uint64(t)>>statusBits - 1
}

func (t tag) status() Status { return Status(t & (1<<statusBits - 1)) }

// covers reports whether a buffer in state t has already claimed index or
// moved past it. Indices routed to one buffer only ever grow, so an older
// or equal index means that epoch was claimed by someone else.
func (t tag) covers(index uint64) bool {
	return !t.fresh() && t.index() >= index
}
