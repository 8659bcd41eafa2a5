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

// Package gcra implements the generic cell rate algorithm with burst
// tolerance.
//
// Instead of the classical theoretical arrival time, persisted state is the
// "time of burst": the instant at which the tier's entire burst capacity is
// available again. Any time-of-burst value in the past is equivalent to no
// state at all, regardless of the tier's configuration, so storage backends
// can discard stale entries without knowing which tier produced them.
package gcra

import (
	"fmt"
	"time"
)

// Tier is one time-windowed quota: at most Quota units per Window, with up
// to Burst+1 units admissible back to back at full replenishment.
//
// A Tier is immutable after construction and safe for concurrent use. It
// holds no mutable state; callers persist the cursor returned by Check and
// serialize concurrent read-modify-write sequences per key themselves.
type Tier struct {
	// Window is the duration over which Quota is granted.
	Window time.Duration

	// Quota is the number of units allowed per Window.
	Quota uint32

	// Burst is the extra units that may accumulate beyond the steady rate.
	Burst uint32

	// emissionInterval is the steady-state spacing between unit admissions.
	emissionInterval time.Duration

	// delayTolerance is how far ahead of schedule a unit may be admitted.
	delayTolerance time.Duration
}

// NewTier builds a tier with the default burst of quota-1, which permits the
// full quota to be consumed at a single instant.
func NewTier(window time.Duration, quota uint32) (*Tier, error) {
	if quota == 0 {
		return nil, fmt.Errorf("gcra: quota must be positive")
	}
	return NewTierBurst(window, quota, quota-1)
}

// NewTierBurst builds a tier with an explicit burst allowance.
func NewTierBurst(window time.Duration, quota, burst uint32) (*Tier, error) {
	if quota == 0 {
		return nil, fmt.Errorf("gcra: quota must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("gcra: window must be positive, got %s", window)
	}
	emissionInterval := window / time.Duration(quota)
	if emissionInterval <= 0 {
		return nil, fmt.Errorf("gcra: window %s too short for quota %d", window, quota)
	}
	return &Tier{
		Window:           window,
		Quota:            quota,
		Burst:            burst,
		emissionInterval: emissionInterval,
		delayTolerance:   emissionInterval * time.Duration(burst),
	}, nil
}

// EmissionInterval returns Window / Quota, the steady-state spacing between
// unit admissions.
func (t *Tier) EmissionInterval() time.Duration {
	return t.emissionInterval
}

// Check decides whether amount units may be consumed at now, given the
// persisted time-of-burst cursor (nil when no state exists, which is the
// same as a fully replenished tier).
//
// On admission it returns the new cursor and true. The caller must persist
// the cursor for the decision to take effect; Check itself mutates nothing.
// On rejection it returns the zero time and false.
//
// Check panics if amount is zero or exceeds the tier quota. That is a caller
// contract violation, not quota exhaustion: a single request can never be
// granted more than one full window's worth of units.
func (t *Tier) Check(now time.Time, cursor *time.Time, amount uint32) (time.Time, bool) {
	if amount == 0 || amount > t.Quota {
		panic(fmt.Sprintf("gcra: amount %d must be between 1 and quota %d", amount, t.Quota))
	}

	increment := t.emissionInterval * time.Duration(amount)

	// With no cursor the tier is fully replenished. With one, clamp the
	// arrival time to now so a stale cursor cannot grant more than the
	// burst allowance.
	tat := t.arrivalTime(now, cursor)
	allowAt := tat.Add(-t.delayTolerance)

	if now.Before(allowAt) {
		return time.Time{}, false
	}
	return tat.Add(increment + t.delayTolerance), true
}

// Remaining approximates how many units are available at now without
// consuming any. It is diagnostic only; Check is the sole authority for
// admission decisions.
func (t *Tier) Remaining(now time.Time, cursor *time.Time) uint32 {
	tat := t.arrivalTime(now, cursor)
	allowAt := tat.Add(-t.delayTolerance)

	delta := now.Sub(allowAt)
	if delta < 0 {
		return 0
	}
	units := int64(delta / t.emissionInterval)
	if units > int64(t.Burst) {
		units = int64(t.Burst)
	}
	// One unit is always available once allowAt has passed.
	return uint32(units) + 1
}

func (t *Tier) arrivalTime(now time.Time, cursor *time.Time) time.Time {
	if cursor == nil {
		return now
	}
	tat := cursor.Add(-t.delayTolerance)
	if tat.Before(now) {
		return now
	}
	return tat
}
