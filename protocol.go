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

package insnav

import (
	"fmt"
	"sync"

	"github.com/insnav/go-insnav/internal/frame"
	"github.com/insnav/go-insnav/pkg/schema"
)

// Reserved top-level message ids. Every other id addresses a telemetry
// schema directly.
const (
	IDCommand   = frame.IDCommand
	IDResponse  = frame.IDResponse
	IDParameter = frame.IDParameter
)

// DefaultPort is the device's TCP port for requests and telemetry.
const DefaultPort = 3000

// Channel numbers the device multiplexes sessions over.
const (
	MinChannel = 0
	MaxChannel = 31
)

// Parameter actions carried in the second word of a parameter payload.
const (
	ParamActionSet     uint16 = 0
	ParamActionRequest uint16 = 1
)

// ResponseOK is the response code of an accepted request.
const ResponseOK uint16 = 0

// Core command sub-ids used by the session itself.
const (
	CmdOpenChannel  uint16 = 0x0001
	CmdCloseChannel uint16 = 0x0002
	CmdLogRequest   uint16 = 0x0003
)

// Well-known payload field names.
const (
	FieldCommandID   = "commandId"
	FieldParameterID = "parameterId"
	FieldAction      = "action"
	FieldCode        = "code"
	FieldTextLength  = "textLength"
	FieldText        = "text"
	FieldChannel     = "channel"
	FieldMessageID   = "messageId"
	FieldRate        = "rate"
)

// responseOverhead is the frame length of a response with empty text:
// header, code, text length and footer.
const responseOverhead = frame.Overhead + 4

// CommandBase and ParameterBase are the leading fields every command and
// parameter payload starts with. Catalogue schemas are built by appending
// to them.
var (
	CommandBase = []schema.Field{
		{Name: FieldCommandID, Type: schema.Uint16, Count: 1},
	}
	ParameterBase = []schema.Field{
		{Name: FieldParameterID, Type: schema.Uint16, Count: 1},
		{Name: FieldAction, Type: schema.Uint16, Count: 1},
	}
)

// Core command schemas.
var (
	OpenChannelSchema = schema.MustNew("openChannel", schema.Concat(CommandBase, []schema.Field{
		{Name: FieldChannel, Type: schema.Uint8, Count: 1},
	})...)
	CloseChannelSchema = schema.MustNew("closeChannel", schema.Concat(CommandBase, []schema.Field{
		{Name: FieldChannel, Type: schema.Uint8, Count: 1},
	})...)
	LogRequestSchema = schema.MustNew("logRequest", schema.Concat(CommandBase, []schema.Field{
		{Name: FieldMessageID, Type: schema.Uint8, Count: 1},
		{Name: FieldRate, Type: schema.Uint8, Count: 1, Description: "0 requests a single message"},
	})...)
)

// CommandSchema builds a command schema from the command base and body.
func CommandSchema(name string, body ...schema.Field) (*schema.Schema, error) {
	return schema.New(name, schema.Concat(CommandBase, body)...)
}

// ParameterSchema builds a parameter schema from the parameter base and body.
func ParameterSchema(name string, body ...schema.Field) (*schema.Schema, error) {
	return schema.New(name, schema.Concat(ParameterBase, body)...)
}

// CoreRegistry returns a registry holding the session's own command schemas
// plus whatever the extra functions register. Catalogues pass their
// registrations here.
func CoreRegistry(extra ...func(*schema.RegistryBuilder)) (*schema.Registry, error) {
	b := schema.NewRegistryBuilder().
		Command(CmdOpenChannel, OpenChannelSchema).
		Command(CmdCloseChannel, CloseChannelSchema).
		Command(CmdLogRequest, LogRequestSchema)
	for _, fn := range extra {
		fn(b)
	}
	return b.Build()
}

var responseSchemas sync.Map // text length -> *schema.Schema

// ResponseSchema returns the response layout for a frame of the given total
// length. The text field takes every byte between the fixed fields and the
// footer, so its size comes from the header, not the payload.
func ResponseSchema(frameLength uint16) (*schema.Schema, error) {
	textLen := int(frameLength) - responseOverhead
	if textLen < 0 {
		return nil, &schema.SchemaMismatchError{
			Schema: "response",
			Want:   responseOverhead - frame.Overhead,
			Got:    int(frameLength) - frame.Overhead,
		}
	}
	if s, ok := responseSchemas.Load(textLen); ok {
		return s.(*schema.Schema), nil //nolint:forcetypeassert // map only holds *schema.Schema
	}

	fields := []schema.Field{
		{Name: FieldCode, Type: schema.Uint16, Count: 1},
		{Name: FieldTextLength, Type: schema.Uint16, Count: 1},
	}
	if textLen > 0 {
		fields = append(fields, schema.Field{Name: FieldText, Type: schema.String, Count: textLen})
	}
	s, err := schema.New(fmt.Sprintf("response[%d]", textLen), fields...)
	if err != nil {
		return nil, err
	}
	actual, _ := responseSchemas.LoadOrStore(textLen, s)
	return actual.(*schema.Schema), nil //nolint:forcetypeassert // map only holds *schema.Schema
}
