// Copyright 2026 The go-insnav Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package frame

import "sync"

// BufferPool manages reusable byte slices for the two sizes used on the hot
// path: transport read chunks and whole frames.
type BufferPool struct {
	readPool  sync.Pool
	framePool sync.Pool
}

// Size thresholds for buffer categories
const (
	ReadBufferSize  = 4096           // One transport read
	FrameBufferSize = MaxFrameLength // Largest frame the synchronizer accepts
)

var defaultPool = NewBufferPool()

// NewBufferPool creates a new buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		readPool: sync.Pool{
			New: func() any {
				buf := make([]byte, ReadBufferSize)
				return &buf
			},
		},
		framePool: sync.Pool{
			New: func() any {
				buf := make([]byte, 0, FrameBufferSize)
				return &buf
			},
		},
	}
}

// GetReadBuffer returns a ReadBufferSize slice. Return it with PutReadBuffer.
func (p *BufferPool) GetReadBuffer() []byte {
	bufPtr, ok := p.readPool.Get().(*[]byte)
	if !ok {
		return make([]byte, ReadBufferSize)
	}
	return (*bufPtr)[:ReadBufferSize]
}

// PutReadBuffer returns a read buffer to the pool.
func (p *BufferPool) PutReadBuffer(buf []byte) {
	if cap(buf) != ReadBufferSize {
		return
	}
	buf = buf[:ReadBufferSize]
	p.readPool.Put(&buf)
}

// GetFrameBuffer returns an empty slice with room for one full frame.
func (p *BufferPool) GetFrameBuffer() []byte {
	bufPtr, ok := p.framePool.Get().(*[]byte)
	if !ok {
		return make([]byte, 0, FrameBufferSize)
	}
	return (*bufPtr)[:0]
}

// PutFrameBuffer clears and returns a frame buffer to the pool.
func (p *BufferPool) PutFrameBuffer(buf []byte) {
	if cap(buf) != FrameBufferSize {
		return
	}
	clear(buf[:cap(buf)])
	buf = buf[:0]
	p.framePool.Put(&buf)
}

// GetReadBuffer acquires a read buffer from the default pool.
func GetReadBuffer() []byte {
	return defaultPool.GetReadBuffer()
}

// PutReadBuffer returns a read buffer to the default pool.
func PutReadBuffer(buf []byte) {
	defaultPool.PutReadBuffer(buf)
}

// GetFrameBuffer acquires a frame buffer from the default pool.
func GetFrameBuffer() []byte {
	return defaultPool.GetFrameBuffer()
}

// PutFrameBuffer returns a frame buffer to the default pool.
func PutFrameBuffer(buf []byte) {
	defaultPool.PutFrameBuffer(buf)
}
