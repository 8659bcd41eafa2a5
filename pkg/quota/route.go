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

package quota

import (
	"fmt"
	"regexp"
	"time"

	"github.com/kadirpekel/quotagate/pkg/config"
	"github.com/kadirpekel/quotagate/pkg/gcra"
)

// placeholderPattern matches {name} segments in a route path template.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Route is one templated quota: a path template and the ordered tiers
// enforced on every concrete path it resolves to. Routes are immutable after
// construction and safe for unsynchronized concurrent reads.
type Route struct {
	template     string
	tiers        []*gcra.Tier
	requiredKeys []string
}

func newRoute(template string, tiers []*gcra.Tier) (*Route, error) {
	if template == "" {
		return nil, fmt.Errorf("route template must not be empty")
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("route %q must have at least one tier", template)
	}
	seen := make(map[time.Duration]bool, len(tiers))
	for _, tier := range tiers {
		if seen[tier.Window] {
			return nil, fmt.Errorf("route %q declares window %s twice", template, tier.Window)
		}
		seen[tier.Window] = true
	}

	var keys []string
	unique := make(map[string]bool)
	for _, match := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if key := match[1]; !unique[key] {
			unique[key] = true
			keys = append(keys, key)
		}
	}

	return &Route{template: template, tiers: tiers, requiredKeys: keys}, nil
}

// Template returns the declared path template.
func (r *Route) Template() string {
	return r.template
}

// Tiers returns the route's tiers in declaration order.
func (r *Route) Tiers() []*gcra.Tier {
	return r.tiers
}

// RequiredKeys returns the placeholder names the route needs from a context.
func (r *Route) RequiredKeys() []string {
	return r.requiredKeys
}

// Matches reports whether every placeholder of the route's template is
// present in the context. A template with no placeholders matches any
// context; extra context keys are ignored.
func (r *Route) Matches(reqCtx map[string]string) bool {
	for _, key := range r.requiredKeys {
		if _, ok := reqCtx[key]; !ok {
			return false
		}
	}
	return true
}

// Path resolves the template against the context. Values are substituted as
// plain strings; they originate from trusted internal identifiers and are
// not escaped or validated.
func (r *Route) Path(reqCtx map[string]string) string {
	if len(r.requiredKeys) == 0 {
		return r.template
	}
	return placeholderPattern.ReplaceAllStringFunc(r.template, func(placeholder string) string {
		key := placeholder[1 : len(placeholder)-1]
		if value, ok := reqCtx[key]; ok {
			return value
		}
		return placeholder
	})
}

// Table holds every declared route in declaration order. It is built once
// from configuration and never mutated, so the coordinator shares it across
// concurrent evaluations without synchronization.
type Table struct {
	routes []*Route
}

// NewTable builds the route table from a limits declaration. Declaration
// order becomes evaluation order.
func NewTable(limits []config.RouteLimit) (*Table, error) {
	routes := make([]*Route, 0, len(limits))
	seen := make(map[string]bool, len(limits))
	for i := range limits {
		rl := &limits[i]
		if seen[rl.Path] {
			return nil, fmt.Errorf("route path %q declared twice", rl.Path)
		}
		seen[rl.Path] = true

		tiers := make([]*gcra.Tier, 0, len(rl.Tiers))
		for j := range rl.Tiers {
			tier, err := tierFromConfig(&rl.Tiers[j])
			if err != nil {
				return nil, fmt.Errorf("route %q tier %d: %w", rl.Path, j, err)
			}
			tiers = append(tiers, tier)
		}

		route, err := newRoute(rl.Path, tiers)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	return &Table{routes: routes}, nil
}

// Routes returns the routes in evaluation order.
func (t *Table) Routes() []*Route {
	return t.routes
}

func tierFromConfig(tl *config.TierLimit) (*gcra.Tier, error) {
	window, err := tl.Window()
	if err != nil {
		return nil, err
	}
	if tl.Burst != nil {
		return gcra.NewTierBurst(window, tl.Quota, *tl.Burst)
	}
	return gcra.NewTier(window, tl.Quota)
}
