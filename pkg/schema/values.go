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
	"bytes"
	"slices"
)

// Values is an insertion-ordered map from field name to value. Encode walks
// it in order, so for a schema-produced map the order is the declaration
// order of the schema.
//
// Thread Safety: Values is not safe for concurrent mutation.
type Values struct {
	m    map[string]any
	keys []string
}

// NewValues returns an empty map with room for n entries.
func NewValues(n int) *Values {
	return &Values{
		m:    make(map[string]any, n),
		keys: make([]string, 0, n),
	}
}

// Get returns the value stored under name.
func (v *Values) Get(name string) (any, bool) {
	if v == nil {
		return nil, false
	}
	val, ok := v.m[name]
	return val, ok
}

// Has reports whether name is present.
func (v *Values) Has(name string) bool {
	_, ok := v.Get(name)
	return ok
}

// Set stores val under name. An existing entry keeps its position; a new one
// is appended.
func (v *Values) Set(name string, val any) {
	if _, ok := v.m[name]; !ok {
		v.keys = append(v.keys, name)
	}
	v.m[name] = val
}

// Delete removes name, keeping the order of the remaining entries.
func (v *Values) Delete(name string) {
	if _, ok := v.m[name]; !ok {
		return
	}
	delete(v.m, name)
	v.keys = slices.DeleteFunc(v.keys, func(k string) bool { return k == name })
}

// Keys returns the names in order.
func (v *Values) Keys() []string {
	if v == nil {
		return nil
	}
	return slices.Clone(v.keys)
}

// Len returns the number of entries.
func (v *Values) Len() int {
	if v == nil {
		return 0
	}
	return len(v.keys)
}

// Range calls fn for each entry in order until fn returns false.
func (v *Values) Range(fn func(name string, val any) bool) {
	if v == nil {
		return
	}
	for _, k := range v.keys {
		if !fn(k, v.m[k]) {
			return
		}
	}
}

// Clone returns a copy. Slice values are copied so the clone can be mutated
// independently.
func (v *Values) Clone() *Values {
	out := NewValues(v.Len())
	v.Range(func(k string, val any) bool {
		out.Set(k, cloneValue(val))
		return true
	})
	return out
}

// Equal reports whether both maps hold the same names in the same order
// with equal values.
func (v *Values) Equal(o *Values) bool {
	if v.Len() != o.Len() {
		return false
	}
	if v.Len() == 0 {
		return true
	}
	for i, k := range v.keys {
		if o.keys[i] != k || !valueEqual(v.m[k], o.m[k]) {
			return false
		}
	}
	return true
}

func cloneValue(val any) any {
	switch x := val.(type) {
	case []byte:
		return slices.Clone(x)
	case []int8:
		return slices.Clone(x)
	case []int16:
		return slices.Clone(x)
	case []int32:
		return slices.Clone(x)
	case []int64:
		return slices.Clone(x)
	case []uint16:
		return slices.Clone(x)
	case []uint32:
		return slices.Clone(x)
	case []uint64:
		return slices.Clone(x)
	case []float32:
		return slices.Clone(x)
	case []float64:
		return slices.Clone(x)
	default:
		return val
	}
}

func valueEqual(a, b any) bool {
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case []int8:
		y, ok := b.([]int8)
		return ok && slices.Equal(x, y)
	case []int16:
		y, ok := b.([]int16)
		return ok && slices.Equal(x, y)
	case []int32:
		y, ok := b.([]int32)
		return ok && slices.Equal(x, y)
	case []int64:
		y, ok := b.([]int64)
		return ok && slices.Equal(x, y)
	case []uint16:
		y, ok := b.([]uint16)
		return ok && slices.Equal(x, y)
	case []uint32:
		y, ok := b.([]uint32)
		return ok && slices.Equal(x, y)
	case []uint64:
		y, ok := b.([]uint64)
		return ok && slices.Equal(x, y)
	case []float32:
		y, ok := b.([]float32)
		return ok && slices.Equal(x, y)
	case []float64:
		y, ok := b.([]float64)
		return ok && slices.Equal(x, y)
	default:
		return a == b
	}
}
