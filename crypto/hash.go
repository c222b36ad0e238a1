// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

// Package crypto provides the built-in cryptographic capability sets
// (cryptocb.HashCallback, cryptocb.DRNGCallback, cryptocb.AtomicCallback)
// that seed and drive ESDM's DRNG instances. It is named "crypto" rather
// than "cryptocb" because it holds implementations, not contracts — see
// the sibling cryptocb package for the interfaces themselves.
package crypto

import (
	"bytes"
	"crypto/sha512"
	"errors"

	"github.com/sixafter/esdm/cryptocb"
)

// ErrHashSelfTestFailed indicates the SHA-512 known-answer test did not
// match its reference vector.
var ErrHashSelfTestFailed = errors.New("crypto: sha512 self-test failed")

// sha512Hash implements cryptocb.HashCallback over stdlib crypto/sha512.
// No ecosystem package implements the specific SP 800-90B
// conditioning-hash primitive named by the spec beyond stdlib SHA-512
// itself (see DESIGN.md).
type sha512Hash struct{}

// BuiltinSHA512 is the default hash callback: a SHA-512 conditioning
// hash, available from process start and requiring no allocation beyond
// the digest itself.
var BuiltinSHA512 cryptocb.HashCallback = sha512Hash{}

func (sha512Hash) Name() string { return "sha512" }

func (sha512Hash) Sum(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// known-answer test vector: SHA-512("abc") per NIST FIPS 180-4.
var (
	sha512KATInput    = []byte("abc")
	sha512KATExpected = []byte{
		0xdd, 0xaf, 0x35, 0xa1, 0x93, 0x61, 0x7a, 0xba,
		0xcc, 0x41, 0x73, 0x49, 0xae, 0x20, 0x41, 0x31,
		0x12, 0xe6, 0xfa, 0x4e, 0x89, 0xa9, 0x7e, 0xa2,
		0x0a, 0x9e, 0xee, 0xe6, 0x4b, 0x55, 0xd3, 0x9a,
		0x21, 0x92, 0x99, 0x2a, 0x27, 0x4f, 0xc1, 0xa8,
		0x36, 0xba, 0x3c, 0x23, 0xa3, 0xfe, 0xeb, 0xbd,
		0x45, 0x4d, 0x44, 0x23, 0x64, 0x3c, 0xe8, 0x0e,
		0x2a, 0x9a, 0xc9, 0x4f, 0xa5, 0x4c, 0xa4, 0x9f,
	}
)

func (sha512Hash) SelfTest() error {
	got := sha512.Sum512(sha512KATInput)
	if !bytes.Equal(got[:], sha512KATExpected) {
		return ErrHashSelfTestFailed
	}
	return nil
}
