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

package schema

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"slices"
)

var le = binary.LittleEndian

// Defaults returns a value map with every field zeroed: 0 for integers, 0.0
// for floats, a zero-filled buffer for strings. Order is declaration order.
func (s *Schema) Defaults() *Values {
	v := NewValues(len(s.fields))
	for _, f := range s.fields {
		v.Set(f.Name, decodeField(f, make([]byte, f.Size())))
	}
	return v
}

// Decode unpacks payload into a new value map. The payload must be exactly
// Size() bytes.
func (s *Schema) Decode(payload []byte) (*Values, error) {
	v := NewValues(len(s.fields))
	if err := s.DecodeInto(v, payload); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeInto unpacks payload into v, overwriting fields already present and
// appending the rest. Scalars decode to the Go type matching the element
// type, sequences to typed slices and strings to []byte.
func (s *Schema) DecodeInto(v *Values, payload []byte) error {
	if len(payload) != s.size {
		return &SchemaMismatchError{Schema: s.name, Want: s.size, Got: len(payload)}
	}
	off := 0
	for _, f := range s.fields {
		n := f.Size()
		v.Set(f.Name, decodeField(f, payload[off:off+n]))
		off += n
	}
	return nil
}

// Encode packs v in order. The keys of v must be exactly the schema's field
// names in declaration order.
func (s *Schema) Encode(v *Values) ([]byte, error) {
	return s.AppendEncode(make([]byte, 0, s.size), v)
}

// AppendEncode is like Encode but appends to dst.
func (s *Schema) AppendEncode(dst []byte, v *Values) ([]byte, error) {
	if err := s.checkOrder(v); err != nil {
		return nil, err
	}
	var err error
	for _, f := range s.fields {
		val, _ := v.Get(f.Name)
		dst, err = appendField(dst, f, val)
		if err != nil {
			return nil, &FieldError{Schema: s.name, Field: f.Name, Err: err}
		}
	}
	return dst, nil
}

func (s *Schema) checkOrder(v *Values) error {
	keys := v.Keys()
	for i, f := range s.fields {
		if i >= len(keys) || (keys[i] != f.Name && !v.Has(f.Name)) {
			return &FieldError{Schema: s.name, Field: f.Name, Err: ErrMissingField}
		}
		if keys[i] == f.Name {
			continue
		}
		if _, declared := s.index[keys[i]]; !declared {
			return &FieldError{Schema: s.name, Field: keys[i], Err: ErrUnexpectedField}
		}
		return &FieldError{Schema: s.name, Field: keys[i], Err: ErrFieldOrder}
	}
	if len(keys) > len(s.fields) {
		return &FieldError{Schema: s.name, Field: keys[len(s.fields)], Err: ErrUnexpectedField}
	}
	return nil
}

func decodeField(f Field, b []byte) any {
	if f.Type == String {
		return slices.Clone(b)
	}
	if f.Count == 1 {
		return decodeScalar(f.Type, b)
	}

	switch f.Type {
	case Int8:
		return decodeSeq(b, 1, func(p []byte) int8 { return int8(p[0]) })
	case Uint8:
		return slices.Clone(b)
	case Int16:
		return decodeSeq(b, 2, func(p []byte) int16 { return int16(le.Uint16(p)) })
	case Uint16:
		return decodeSeq(b, 2, le.Uint16)
	case Int32:
		return decodeSeq(b, 4, func(p []byte) int32 { return int32(le.Uint32(p)) })
	case Uint32:
		return decodeSeq(b, 4, le.Uint32)
	case Int64:
		return decodeSeq(b, 8, func(p []byte) int64 { return int64(le.Uint64(p)) })
	case Uint64:
		return decodeSeq(b, 8, le.Uint64)
	case Float32:
		return decodeSeq(b, 4, func(p []byte) float32 { return math.Float32frombits(le.Uint32(p)) })
	case Float64:
		return decodeSeq(b, 8, func(p []byte) float64 { return math.Float64frombits(le.Uint64(p)) })
	default:
		return nil
	}
}

func decodeSeq[T any](b []byte, width int, conv func([]byte) T) []T {
	out := make([]T, len(b)/width)
	for i := range out {
		out[i] = conv(b[i*width:])
	}
	return out
}

func decodeScalar(t Type, b []byte) any {
	switch t {
	case Int8:
		return int8(b[0])
	case Uint8:
		return b[0]
	case Int16:
		return int16(le.Uint16(b))
	case Uint16:
		return le.Uint16(b)
	case Int32:
		return int32(le.Uint32(b))
	case Uint32:
		return le.Uint32(b)
	case Int64:
		return int64(le.Uint64(b))
	case Uint64:
		return le.Uint64(b)
	case Float32:
		return math.Float32frombits(le.Uint32(b))
	case Float64:
		return math.Float64frombits(le.Uint64(b))
	default:
		return nil
	}
}

func appendField(dst []byte, f Field, val any) ([]byte, error) {
	if f.Type == String {
		return appendString(dst, f.Count, val)
	}
	if f.Count == 1 {
		return appendScalar(dst, f.Type, val)
	}

	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: %T for %d element field", ErrValueType, val, f.Count)
	}
	if rv.Len() != f.Count {
		return nil, fmt.Errorf("%w: %d elements, want %d", ErrValueRange, rv.Len(), f.Count)
	}
	var err error
	for i := range f.Count {
		dst, err = appendScalar(dst, f.Type, rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return dst, nil
}

func appendString(dst []byte, size int, val any) ([]byte, error) {
	var b []byte
	switch x := val.(type) {
	case []byte:
		b = x
	case string:
		b = []byte(x)
	default:
		return nil, fmt.Errorf("%w: %T for string field", ErrValueType, val)
	}
	if len(b) > size {
		return nil, fmt.Errorf("%w: %d bytes, field holds %d", ErrValueRange, len(b), size)
	}
	dst = append(dst, b...)
	for range size - len(b) {
		dst = append(dst, 0)
	}
	return dst, nil
}

func appendScalar(dst []byte, t Type, val any) ([]byte, error) {
	switch {
	case t.float():
		f, err := toFloat64(val)
		if err != nil {
			return nil, err
		}
		if t == Float32 {
			if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
				return nil, fmt.Errorf("%w: %g overflows float32", ErrValueRange, f)
			}
			return le.AppendUint32(dst, math.Float32bits(float32(f))), nil
		}
		return le.AppendUint64(dst, math.Float64bits(f)), nil

	case t.signed():
		i, err := toInt64(val)
		if err != nil {
			return nil, err
		}
		bits := uint(t.Width() * 8)
		lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
		if bits == 64 {
			lo, hi = math.MinInt64, math.MaxInt64
		}
		if i < lo || i > hi {
			return nil, fmt.Errorf("%w: %d overflows %s", ErrValueRange, i, t)
		}
		return appendUint(dst, t.Width(), uint64(i)), nil

	case t.unsigned():
		u, err := toUint64(val)
		if err != nil {
			return nil, err
		}
		if t.Width() < 8 && u > uint64(1)<<(t.Width()*8)-1 {
			return nil, fmt.Errorf("%w: %d overflows %s", ErrValueRange, u, t)
		}
		return appendUint(dst, t.Width(), u), nil

	default:
		return nil, fmt.Errorf("%w: element type %s", ErrValueType, t)
	}
}

func appendUint(dst []byte, width int, u uint64) []byte {
	switch width {
	case 1:
		return append(dst, byte(u))
	case 2:
		return le.AppendUint16(dst, uint16(u))
	case 4:
		return le.AppendUint32(dst, uint32(u))
	default:
		return le.AppendUint64(dst, u)
	}
}

func toInt64(val any) (int64, error) {
	switch x := val.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint, uint8, uint16, uint32, uint64:
		u, _ := toUint64(x)
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", ErrValueRange, u)
		}
		return int64(u), nil
	case float32, float64:
		f, _ := toFloat64(x)
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: %g is not an integer", ErrValueRange, f)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrValueType, val)
	}
}

func toUint64(val any) (uint64, error) {
	switch x := val.(type) {
	case uint:
		return uint64(x), nil
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	case int, int8, int16, int32, int64:
		i, _ := toInt64(x)
		if i < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrValueRange, i)
		}
		return uint64(i), nil
	case float32, float64:
		f, _ := toFloat64(x)
		if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
			return 0, fmt.Errorf("%w: %g is not an unsigned integer", ErrValueRange, f)
		}
		return uint64(f), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrValueType, val)
	}
}

func toFloat64(val any) (float64, error) {
	switch x := val.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case int, int8, int16, int32, int64:
		i, _ := toInt64(x)
		return float64(i), nil
	case uint, uint8, uint16, uint32, uint64:
		u, _ := toUint64(x)
		return float64(u), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrValueType, val)
	}
}
