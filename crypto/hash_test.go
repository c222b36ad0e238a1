// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test_BuiltinSHA512_SelfTest validates the known-answer test passes for
// the built-in SHA-512 conditioning hash.
func Test_BuiltinSHA512_SelfTest(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	is.NoError(BuiltinSHA512.SelfTest())
}

// Test_BuiltinSHA512_Sum confirms Sum concatenates all parts before
// hashing, rather than hashing each independently.
func Test_BuiltinSHA512_Sum(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	whole := BuiltinSHA512.Sum([]byte("abc"))
	split := BuiltinSHA512.Sum([]byte("a"), []byte("b"), []byte("c"))
	is.Equal(whole, split, "Sum should hash the concatenation of its parts")
}

// Test_BuiltinSHA512_Name reports a stable implementation identifier.
func Test_BuiltinSHA512_Name(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	is.Equal("sha512", BuiltinSHA512.Name())
}
