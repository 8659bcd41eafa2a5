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
	"errors"
	"fmt"
)

var (
	// ErrStaleCursor is returned by Commit when a target row no longer
	// holds the cursor the admission decision was computed from. The
	// coordinator reacts by re-evaluating the request against fresh state.
	ErrStaleCursor = errors.New("cursor changed since it was read")

	// ErrUnknownBackend is returned by NewStore for an unrecognized
	// store backend name.
	ErrUnknownBackend = errors.New("unknown quota store backend")
)

// StoreError reports a failure of the persisted cursor store, carrying the
// operation and, where known, the concrete path it occurred on. Rejection is
// never an error; StoreError only wraps read and commit failures.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("quota store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("quota store %s for %q: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err originated in the cursor store. Callers
// use it to tell infrastructure failures apart from their own bad input.
func IsStoreError(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}
