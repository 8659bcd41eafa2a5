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
	"net/http"
	"time"
)

// NoopManager returns a Manager that does nothing. Use it when
// observability is completely disabled.
func NoopManager() *Manager {
	return &Manager{}
}

// NoopMetrics is a Recorder that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) RecordAdmit(_ context.Context, _ bool)                  {}
func (NoopMetrics) RecordRouteRejection(_ context.Context, _ string)       {}
func (NoopMetrics) RecordEvaluation(_ context.Context, _ time.Duration)    {}
func (NoopMetrics) RecordStoreCommit(_ context.Context, _ time.Duration)   {}
func (NoopMetrics) RecordStoreConflict(_ context.Context)                  {}
func (NoopMetrics) RecordStoreError(_ context.Context, _ string)           {}
func (NoopMetrics) RecordDenylistHit(_ context.Context)                    {}
func (NoopMetrics) RecordHTTPRequest(_ context.Context, _, _ string, _ int, _ time.Duration, _ int64) {
}

// Handler returns a handler that answers 503 Service Unavailable.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}
