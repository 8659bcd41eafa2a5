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

// Package denylist blocks individual principals ahead of quota evaluation.
//
// A denied principal is rejected outright: the request never reaches the
// coordinator and consumes no quota. Three implementations cover the usual
// deployments: an in-memory list, a YAML file with hot reload, and a SQL
// table shared with the cursor store's database.
package denylist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for entry management. Check never returns these; a
// principal that is not denied yields (nil, nil).
var (
	// ErrAlreadyDenied is returned by Set when the principal has an entry.
	ErrAlreadyDenied = errors.New("principal is already denylisted")

	// ErrNotDenied is returned by Remove when the principal has no entry.
	ErrNotDenied = errors.New("principal is not denylisted")
)

// Entry is one denied principal.
type Entry struct {
	// Principal identifies who is denied, e.g. a user_id value.
	Principal string `yaml:"principal" json:"principal"`

	// Reason records why, for operators. Never empty.
	Reason string `yaml:"reason" json:"reason"`

	// CreatedAt is when the entry was added.
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// Denylist is a managed set of blocked principals.
//
// Implementations must be safe for concurrent use: Check runs on the
// request path while Set and Remove arrive from admin tooling.
type Denylist interface {
	// Check reports whether the principal is denied. A denied principal
	// yields its entry; an unlisted one yields (nil, nil).
	Check(ctx context.Context, principal string) (*Entry, error)

	// Set adds an entry. The principal must not already be denied and the
	// reason must not be blank.
	Set(ctx context.Context, principal, reason string) error

	// Remove deletes the principal's entry.
	Remove(ctx context.Context, principal string) error

	// List returns all entries ordered by principal.
	List(ctx context.Context) ([]Entry, error)

	// Close releases resources held by the denylist.
	Close() error
}

// validateEntry rejects blank principals and reasons before they reach a
// backend. Whitespace-only values count as blank.
func validateEntry(principal, reason string) error {
	if strings.TrimSpace(principal) == "" {
		return fmt.Errorf("principal must not be empty")
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("reason must not be empty")
	}
	return nil
}

// Ensure interface compliance at compile time.
var (
	_ Denylist = (*MemoryDenylist)(nil)
	_ Denylist = (*FileDenylist)(nil)
	_ Denylist = (*SQLDenylist)(nil)
)
