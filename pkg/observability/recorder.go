// Copyright 2025 Kadir Pekel
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

package observability

import (
	"context"
	"sync"
	"time"
)

var (
	globalRecorder Recorder = NoopMetrics{}
	recorderMu     sync.RWMutex
)

// Recorder is what the engine records against. The concrete Metrics type
// backs it in production; NoopMetrics backs it in tests and when metrics
// are disabled.
type Recorder interface {
	RecordAdmit(ctx context.Context, admitted bool)
	RecordRouteRejection(ctx context.Context, route string)
	RecordEvaluation(ctx context.Context, duration time.Duration)
	RecordStoreCommit(ctx context.Context, duration time.Duration)
	RecordStoreConflict(ctx context.Context)
	RecordStoreError(ctx context.Context, op string)
	RecordDenylistHit(ctx context.Context)
	RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, respSize int64)
}

var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)

// SetGlobalMetrics installs the process-wide recorder. Passing nil resets
// to the no-op recorder.
func SetGlobalMetrics(r Recorder) {
	recorderMu.Lock()
	defer recorderMu.Unlock()
	if r == nil {
		globalRecorder = NoopMetrics{}
		return
	}
	globalRecorder = r
}

// GetGlobalMetrics returns the process-wide recorder. Never nil.
func GetGlobalMetrics() Recorder {
	recorderMu.RLock()
	defer recorderMu.RUnlock()
	return globalRecorder
}
