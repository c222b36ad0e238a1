// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package esdm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test_SeedBuffer_NewHasOneSlotPerSource confirms slot count matches the
// supplied name list.
func Test_SeedBuffer_NewHasOneSlotPerSource(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	sb := newSeedBuffer([]string{"a", "b", "c"})
	is.Len(sb.slots, 3)
	is.Equal(uint32(0), sb.CreditedBits())
}

// Test_SeedBuffer_ResetClearsPayloadsAndCredit confirms reset zeroes every
// slot's payload and the aggregate credit.
func Test_SeedBuffer_ResetClearsPayloadsAndCredit(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	sb := newSeedBuffer([]string{"a"})
	sb.slots[0].payload[0] = 0xff
	sb.slots[0].creditBits = 128
	sb.creditedBits = 128

	sb.reset()

	is.Equal(byte(0), sb.slots[0].payload[0])
	is.Equal(uint32(0), sb.slots[0].creditBits)
	is.Equal(uint32(0), sb.CreditedBits())
}

// Test_SeedBuffer_BytesConcatenatesAllSlots confirms Bytes returns every
// slot's payload in order.
func Test_SeedBuffer_BytesConcatenatesAllSlots(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	sb := newSeedBuffer([]string{"a", "b"})
	sb.slots[0].payload[0] = 0x01
	sb.slots[1].payload[0] = 0x02

	out := sb.Bytes()
	is.Len(out, 2*seedSlotBytes)
	is.Equal(byte(0x01), out[0])
	is.Equal(byte(0x02), out[seedSlotBytes])
}

// Test_SeedBuffer_ZeroizeClearsPayloads confirms Zeroize has the same
// effect as reset on the payloads.
func Test_SeedBuffer_ZeroizeClearsPayloads(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	sb := newSeedBuffer([]string{"a"})
	sb.slots[0].payload[0] = 0xaa

	sb.Zeroize()

	is.Equal(byte(0), sb.slots[0].payload[0])
}
