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

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kadirpekel/quotagate/pkg/observability"
	"github.com/kadirpekel/quotagate/pkg/quota"
)

type admitRequest struct {
	// Context carries the request attributes routes match on,
	// e.g. {"user_id": "42", "channel_id": "support"}.
	Context map[string]string `json:"context"`
}

type admitResponse struct {
	Admitted bool `json:"admitted"`
}

type remainingResponse struct {
	Routes []quota.RouteStatus `json:"routes"`
}

type routeInfo struct {
	Template     string     `json:"template"`
	RequiredKeys []string   `json:"required_keys"`
	Tiers        []tierInfo `json:"tiers"`
}

type tierInfo struct {
	WindowMillis int64  `json:"window_millis"`
	Quota        uint32 `json:"quota"`
	Burst        uint32 `json:"burst"`
}

// handleAdmit decides one request: 200 admitted, 429 rejected, 403 for a
// denylisted principal (no quota consumed), 503 when the store is down.
func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	var req admitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()

	if s.deny != nil {
		principal := req.Context[s.cfg.Denylist.PrincipalKey]
		if principal != "" {
			entry, err := s.deny.Check(ctx, principal)
			if err != nil {
				slog.Error("Denylist check failed", "principal", principal, "error", err)
				writeError(w, http.StatusServiceUnavailable, "denylist unavailable")
				return
			}
			if entry != nil {
				observability.GetGlobalMetrics().RecordDenylistHit(ctx)
				writeJSON(w, http.StatusForbidden, map[string]string{
					"error":  "principal is denylisted",
					"reason": entry.Reason,
				})
				return
			}
		}
	}

	admitted, err := s.coordinator.Admit(ctx, req.Context)
	if err != nil {
		slog.Error("Admission failed", "error", err, "request_id", RequestIDFromContext(ctx))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	status := http.StatusOK
	if !admitted {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, admitResponse{Admitted: admitted})
}

// handleRemaining reports per-tier availability for the context given as
// query parameters, without consuming anything.
func (s *Server) handleRemaining(w http.ResponseWriter, r *http.Request) {
	reqCtx := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			reqCtx[key] = values[0]
		}
	}

	statuses, err := s.coordinator.Inspect(r.Context(), reqCtx)
	if err != nil {
		slog.Error("Inspect failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, remainingResponse{Routes: statuses})
}

// handleRoutes dumps the static route table.
func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes := s.coordinator.Routes()

	infos := make([]routeInfo, 0, len(routes))
	for _, route := range routes {
		info := routeInfo{
			Template:     route.Template(),
			RequiredKeys: route.RequiredKeys(),
			Tiers:        make([]tierInfo, 0, len(route.Tiers())),
		}
		for _, tier := range route.Tiers() {
			info.Tiers = append(info.Tiers, tierInfo{
				WindowMillis: tier.Window.Milliseconds(),
				Quota:        tier.Quota,
				Burst:        tier.Burst,
			})
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, map[string][]routeInfo{"routes": infos})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
