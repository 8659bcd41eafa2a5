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

package config

import (
	"fmt"
	"time"
)

// RouteLimit declares one quota route: a path template with {placeholder}
// segments resolved from request context, and the tiers enforced on every
// path it resolves to. Routes are evaluated in declaration order, which is
// why limits form a list and not a map.
type RouteLimit struct {
	Path  string      `yaml:"path" json:"path" jsonschema:"title=Path template,description=Path template with {placeholder} segments resolved from request context"`
	Tiers []TierLimit `yaml:"tiers" json:"tiers" jsonschema:"title=Tiers,description=Time-windowed quotas enforced on this route"`
}

// TierLimit declares one time-windowed quota. Exactly one of the window
// fields must be set; burst defaults to quota-1 when omitted.
type TierLimit struct {
	Seconds int64   `yaml:"seconds,omitempty" json:"seconds,omitempty" jsonschema:"minimum=1"`
	Minutes int64   `yaml:"minutes,omitempty" json:"minutes,omitempty" jsonschema:"minimum=1"`
	Hours   int64   `yaml:"hours,omitempty" json:"hours,omitempty" jsonschema:"minimum=1"`
	Days    int64   `yaml:"days,omitempty" json:"days,omitempty" jsonschema:"minimum=1"`
	Quota   uint32  `yaml:"quota" json:"quota" jsonschema:"minimum=1"`
	Burst   *uint32 `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// Window returns the tier's window duration, or an error when the window
// fields do not declare exactly one positive window.
func (t *TierLimit) Window() (time.Duration, error) {
	var window time.Duration
	set := 0
	if t.Seconds > 0 {
		window = time.Duration(t.Seconds) * time.Second
		set++
	}
	if t.Minutes > 0 {
		window = time.Duration(t.Minutes) * time.Minute
		set++
	}
	if t.Hours > 0 {
		window = time.Duration(t.Hours) * time.Hour
		set++
	}
	if t.Days > 0 {
		window = time.Duration(t.Days) * 24 * time.Hour
		set++
	}
	switch set {
	case 0:
		return 0, fmt.Errorf("tier must set one of seconds, minutes, hours, or days")
	case 1:
		return window, nil
	default:
		return 0, fmt.Errorf("tier must set exactly one window field, got %d", set)
	}
}

// Validate checks a single tier declaration.
func (t *TierLimit) Validate() error {
	windows := []struct {
		name  string
		value int64
	}{
		{"seconds", t.Seconds},
		{"minutes", t.Minutes},
		{"hours", t.Hours},
		{"days", t.Days},
	}
	for _, w := range windows {
		if w.value < 0 {
			return &ValidationError{Field: w.name, Message: "must not be negative"}
		}
	}
	if _, err := t.Window(); err != nil {
		return err
	}
	if t.Quota == 0 {
		return &ValidationError{Field: "quota", Message: "must be positive"}
	}
	return nil
}

// Validate checks the route declaration, including that no two tiers share
// a window: cursor rows are keyed by (path, window), so duplicate windows
// within one route would contend for the same row.
func (r *RouteLimit) Validate() error {
	if r.Path == "" {
		return &ValidationError{Field: "path", Message: "must not be empty"}
	}
	if len(r.Tiers) == 0 {
		return &ValidationError{Field: "tiers", Message: fmt.Sprintf("route %q must declare at least one tier", r.Path)}
	}
	seen := make(map[time.Duration]bool, len(r.Tiers))
	for i := range r.Tiers {
		tier := &r.Tiers[i]
		if err := tier.Validate(); err != nil {
			return fmt.Errorf("route %q tier %d: %w", r.Path, i, err)
		}
		window, err := tier.Window()
		if err != nil {
			return fmt.Errorf("route %q tier %d: %w", r.Path, i, err)
		}
		if seen[window] {
			return fmt.Errorf("route %q declares window %s twice", r.Path, window)
		}
		seen[window] = true
	}
	return nil
}

// ValidateLimits checks a full limits declaration: every route valid and no
// path template declared twice.
func ValidateLimits(limits []RouteLimit) error {
	if len(limits) == 0 {
		return &ValidationError{Field: "limits", Message: "must declare at least one route"}
	}
	seen := make(map[string]bool, len(limits))
	for i := range limits {
		route := &limits[i]
		if err := route.Validate(); err != nil {
			return err
		}
		if seen[route.Path] {
			return fmt.Errorf("route path %q declared twice", route.Path)
		}
		seen[route.Path] = true
	}
	return nil
}
