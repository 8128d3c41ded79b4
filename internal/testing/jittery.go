// go-insnav
// Copyright (c) 2025 The go-insnav Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-insnav.
//
// go-insnav is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-insnav is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-insnav; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package testing

import (
	"math/rand/v2"
	"net"
	"sync"
	"time"
)

// JitterConfig controls how JitteryConn distorts the read side of a link.
type JitterConfig struct {
	// MaxLatency is the upper bound of the random delay before each read.
	MaxLatency time.Duration
	// FragmentMinBytes is the smallest fragment returned when fragmenting.
	FragmentMinBytes int
	// SegmentSize, when set, never lets a read cross a multiple of it,
	// mimicking TCP segment or serial FIFO boundaries.
	SegmentSize int
	// NoiseEvery, when set, inserts one to NoiseMaxBytes random bytes before
	// roughly every NoiseEvery-th read.
	NoiseEvery    int
	NoiseMaxBytes int
	// Seed makes the distortion reproducible. Zero picks a random seed.
	Seed uint64
	// FragmentReads splits reads at random points.
	FragmentReads bool
}

// DefaultJitterConfig fragments reads and adds up to 5ms of latency.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:       5 * time.Millisecond,
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

// JitteryConn wraps a net.Conn and delivers its bytes late, in random
// fragments, optionally with line noise in between. Writes and deadlines
// pass straight through.
type JitteryConn struct {
	net.Conn
	rng      *rand.Rand
	pending  []byte
	scratch  []byte
	config   JitterConfig
	consumed int
	reads    int
	mu       sync.Mutex
}

// NewJitteryConn wraps conn.
func NewJitteryConn(conn net.Conn, config JitterConfig) *JitteryConn {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // Test code, not crypto
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}
	if config.NoiseMaxBytes < 1 {
		config.NoiseMaxBytes = 1
	}
	return &JitteryConn{
		Conn:    conn,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0x5EED)), //nolint:gosec // Test code, not crypto
		scratch: make([]byte, 4096),
	}
}

// Read returns at most one distorted fragment of the underlying stream.
func (j *JitteryConn) Read(buf []byte) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.config.MaxLatency > 0 {
		if d := time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)); d > 0 {
			time.Sleep(d)
		}
	}

	if len(j.pending) == 0 {
		n, err := j.Conn.Read(j.scratch)
		if n == 0 {
			return 0, err //nolint:wrapcheck // pass-through
		}
		j.pending = append(j.pending, j.scratch[:n]...)
	}

	j.reads++
	if j.config.NoiseEvery > 0 && j.rng.IntN(j.config.NoiseEvery) == 0 {
		noise := make([]byte, 1+j.rng.IntN(j.config.NoiseMaxBytes))
		for i := range noise {
			noise[i] = byte(j.rng.UintN(256))
		}
		j.pending = append(noise, j.pending...)
	}

	n := min(len(j.pending), len(buf))
	if size := j.config.SegmentSize; size > 0 {
		if until := size - j.consumed%size; until < n {
			n = until
		}
	}
	if j.config.FragmentReads && n > j.config.FragmentMinBytes {
		n = j.config.FragmentMinBytes + j.rng.IntN(n-j.config.FragmentMinBytes+1)
	}

	copy(buf, j.pending[:n])
	j.pending = j.pending[n:]
	j.consumed += n
	return n, nil
}

// Reads returns how many reads have been served.
func (j *JitteryConn) Reads() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reads
}
