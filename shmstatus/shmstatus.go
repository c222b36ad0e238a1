// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

// Package shmstatus publishes a fixed-layout status page into a POSIX
// shared memory segment (a file under /dev/shm on Linux), so an
// unprivileged process can read the Manager's health without an RPC
// round trip. This mirrors the original daemon's shared status page,
// re-expressed as a plain mmap'd file rather than a CUSE device, since
// the wire/RPC front-end is explicitly out of scope here.
package shmstatus

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pageSize is fixed and generous: version (4) + padding (4) + generation
// (8) + unprivThreads (4) + operational (1) + needEntropy (1) + infoLen
// (4) + info (up to 256 bytes), padded.
const (
	pageSize   = 512
	infoMaxLen = 256

	offVersion        = 0
	offGeneration     = 8
	offUnprivThreads  = 16
	offOperational    = 20
	offNeedEntropy    = 21
	offInfoLen        = 22
	offInfo           = 26
	statusPageVersion = 1
)

// Page is a writer-side handle to the mapped status segment.
type Page struct {
	fd  int
	mem []byte
}

// Create opens (creating if needed) the shared memory object at path and
// maps it for writing. path is typically under /dev/shm, e.g.
// "/dev/shm/esdm-status".
func Create(path string) (*Page, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmstatus: open %s: %w", path, err)
	}

	if err := unix.Ftruncate(fd, pageSize); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shmstatus: ftruncate: %w", err)
	}

	mem, err := unix.Mmap(fd, 0, pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shmstatus: mmap: %w", err)
	}

	binary.LittleEndian.PutUint32(mem[offVersion:], statusPageVersion)

	return &Page{fd: fd, mem: mem}, nil
}

// Close unmaps and closes the underlying segment. The file itself is left
// in place so a concurrent reader's existing mapping stays valid.
func (p *Page) Close() error {
	if err := unix.Munmap(p.mem); err != nil {
		return fmt.Errorf("shmstatus: munmap: %w", err)
	}
	return unix.Close(p.fd)
}

// Update writes a new snapshot into the page. It is safe to call from the
// same goroutine repeatedly; concurrent Update calls on the same Page are
// not supported (callers should serialize, e.g. from the scheduler's own
// single goroutine).
func (p *Page) Update(unprivThreads uint32, operational, needEntropy bool, info string) {
	// Odd generation means a write is in progress; even means stable.
	// Readers that want a torn-write-free snapshot can spin until the
	// generation is even and unchanged across their read.
	atomic.AddUint64(genPtr(p.mem), 1)

	binary.LittleEndian.PutUint32(p.mem[offUnprivThreads:], unprivThreads)
	p.mem[offOperational] = boolByte(operational)
	p.mem[offNeedEntropy] = boolByte(needEntropy)

	if len(info) > infoMaxLen {
		info = info[:infoMaxLen]
	}
	binary.LittleEndian.PutUint32(p.mem[offInfoLen:], uint32(len(info)))
	copy(p.mem[offInfo:offInfo+len(info)], info)

	atomic.AddUint64(genPtr(p.mem), 1)
}

// genPtr returns a pointer to the generation counter within mem, aligned
// to an 8-byte boundary by the page layout above. Using unsafe here
// avoids a second copy of the mapped page just to bump one counter.
func genPtr(mem []byte) *uint64 {
	return (*uint64)(unsafe.Pointer(&mem[offGeneration]))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Read opens path read-only and returns a single snapshot without holding
// the mapping open.
func Read(path string) (unprivThreads uint32, operational, needEntropy bool, info string, err error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return 0, false, false, "", fmt.Errorf("shmstatus: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	mem, err := unix.Mmap(fd, 0, pageSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return 0, false, false, "", fmt.Errorf("shmstatus: mmap: %w", err)
	}
	defer unix.Munmap(mem)

	unprivThreads = binary.LittleEndian.Uint32(mem[offUnprivThreads:])
	operational = mem[offOperational] != 0
	needEntropy = mem[offNeedEntropy] != 0
	n := binary.LittleEndian.Uint32(mem[offInfoLen:])
	if n > infoMaxLen {
		n = infoMaxLen
	}
	info = string(mem[offInfo : offInfo+n])
	return unprivThreads, operational, needEntropy, info, nil
}
