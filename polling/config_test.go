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

package polling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleepRecoveryConfig_DetectSleep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      SleepRecoveryConfig
		elapsed  time.Duration
		interval time.Duration
		want     bool
	}{
		{name: "normal cycle", cfg: DefaultSleepRecoveryConfig(), elapsed: 250 * time.Millisecond, interval: 250 * time.Millisecond},
		{name: "at threshold", cfg: DefaultSleepRecoveryConfig(), elapsed: 2250 * time.Millisecond, interval: 250 * time.Millisecond},
		{name: "beyond threshold", cfg: DefaultSleepRecoveryConfig(), elapsed: 3 * time.Second, interval: 250 * time.Millisecond, want: true},
		{name: "disabled", cfg: SleepRecoveryConfig{TimeDiscontinuityThreshold: time.Second}, elapsed: time.Hour, interval: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cfg.DetectSleep(tt.elapsed, tt.interval))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.Error(t, cfg.Validate(), "message ids are required")

	cfg.MessageIDs = []byte{0x10}
	require.NoError(t, cfg.Validate())

	cfg.Interval = 0
	require.Error(t, cfg.Validate())

	cfg.Interval = time.Second
	cfg.Timeout = -1
	require.Error(t, cfg.Validate())
}
