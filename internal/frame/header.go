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

package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortFrame           = errors.New("frame: shorter than header and footer")
	ErrBadSync              = errors.New("frame: missing sync byte")
	ErrLengthMismatch       = errors.New("frame: declared length does not match frame size")
	ErrFrameTooLarge        = errors.New("frame: payload too large")
	ErrTruncatedFrame       = errors.New("frame: truncated frame")
	ErrInvalidLength        = errors.New("frame: invalid declared length")
	ErrTrustedRequiresNoCRC = errors.New("frame: trusted mode requires CRC checking to be disabled")
)

// Header is the fixed 16-byte frame header. All multi-byte fields are little-endian.
type Header struct {
	TowSec   uint32
	TowUsec  uint32
	Length   uint16 // total frame length including header and footer
	Week     uint16
	Sync     byte
	ID       byte
	Counter  byte
	Reserved byte
}

// PayloadLen returns the payload size implied by the declared length.
func (h Header) PayloadLen() int {
	return int(h.Length) - Overhead
}

// AppendTo appends the wire form of the header to b.
func (h Header) AppendTo(b []byte) []byte {
	b = append(b, h.Sync, h.ID, h.Counter, h.Reserved)
	b = binary.LittleEndian.AppendUint16(b, h.Length)
	b = binary.LittleEndian.AppendUint16(b, h.Week)
	b = binary.LittleEndian.AppendUint32(b, h.TowSec)
	b = binary.LittleEndian.AppendUint32(b, h.TowUsec)
	return b
}

// DecodeHeader parses the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	return Header{
		Sync:     b[0],
		ID:       b[offID],
		Counter:  b[offCounter],
		Reserved: b[offReserved],
		Length:   binary.LittleEndian.Uint16(b[offLength:]),
		Week:     binary.LittleEndian.Uint16(b[offWeek:]),
		TowSec:   binary.LittleEndian.Uint32(b[offTowSec:]),
		TowUsec:  binary.LittleEndian.Uint32(b[offTowUsec:]),
	}, nil
}

// Footer is the trailing status word and checksum.
type Footer struct {
	Status uint16
	CRC    uint16
}

// DecodeFooter parses the last FooterSize bytes of b.
func DecodeFooter(b []byte) (Footer, error) {
	if len(b) < FooterSize {
		return Footer{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	tail := b[len(b)-FooterSize:]
	return Footer{
		Status: binary.LittleEndian.Uint16(tail[0:2]),
		CRC:    binary.LittleEndian.Uint16(tail[2:4]),
	}, nil
}

// Split breaks a complete frame into header, payload and footer. The payload
// aliases raw.
func Split(raw []byte) (Header, []byte, Footer, error) {
	if len(raw) < Overhead {
		return Header{}, nil, Footer{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(raw))
	}
	h, err := DecodeHeader(raw)
	if err != nil {
		return Header{}, nil, Footer{}, err
	}
	if h.Sync != SyncByte {
		return Header{}, nil, Footer{}, ErrBadSync
	}
	if int(h.Length) != len(raw) {
		return Header{}, nil, Footer{}, fmt.Errorf("%w: header says %d, got %d",
			ErrLengthMismatch, h.Length, len(raw))
	}
	f, err := DecodeFooter(raw)
	if err != nil {
		return Header{}, nil, Footer{}, err
	}
	return h, raw[HeaderSize : len(raw)-FooterSize], f, nil
}

// Build assembles a complete outbound frame. Sync and Length in h are
// overwritten. The checksum covers header and payload followed by two zero
// bytes standing in for the status word, so status never contributes to it.
func Build(h Header, payload []byte, status uint16) ([]byte, error) {
	total := Overhead + len(payload)
	if total > MaxFrameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}
	h.Sync = SyncByte
	h.Length = uint16(total)

	out := make([]byte, 0, total)
	out = h.AppendTo(out)
	out = append(out, payload...)
	out = append(out, 0x00, 0x00)
	crc := CRC16(out)

	out = out[:len(out)-2]
	out = binary.LittleEndian.AppendUint16(out, status)
	out = binary.LittleEndian.AppendUint16(out, crc)
	return out, nil
}
