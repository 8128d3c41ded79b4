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
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrSchemaMismatch  = errors.New("schema: payload size does not match schema")
	ErrDuplicateField  = errors.New("schema: duplicate field name")
	ErrInvalidField    = errors.New("schema: invalid field descriptor")
	ErrFieldOrder      = errors.New("schema: field out of declaration order")
	ErrMissingField    = errors.New("schema: missing field value")
	ErrUnexpectedField = errors.New("schema: value for undeclared field")
	ErrValueType       = errors.New("schema: unsupported value type")
	ErrValueRange      = errors.New("schema: value out of range")
	ErrInvalidBitmask  = errors.New("schema: invalid bitmask schema")
	ErrDuplicateID     = errors.New("schema: id already registered")
	ErrReservedID      = errors.New("schema: id is reserved")
)

// SchemaMismatchError reports a payload whose size differs from the size of
// the schema used to decode it.
type SchemaMismatchError struct {
	Schema string
	Want   int
	Got    int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema %s: want %d bytes, got %d", e.Schema, e.Want, e.Got)
}

func (*SchemaMismatchError) Unwrap() error {
	return ErrSchemaMismatch
}

// FieldError wraps an encoding failure with the schema and field it occurred in.
type FieldError struct {
	Err    error
	Schema string
	Field  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("schema %s: field %s: %v", e.Schema, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
