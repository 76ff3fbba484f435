/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package resource

import (
	"context"
	"fmt"
)

// CreateIfMissing creates the resource when it is absent and otherwise
// delegates to the update path. Safe to call regardless of current state.
func CreateIfMissing(ctx context.Context, h Handler) error {
	return reconcile(ctx, NewCached(h))
}

// UpdateIfExists updates the resource when it is present and otherwise
// delegates to the create path. Safe to call regardless of current state.
//
// Both guards resolve to the same dispatch: the live existence check decides
// the path, so the two entry points differ only in the caller's intent.
func UpdateIfExists(ctx context.Context, h Handler) error {
	return reconcile(ctx, NewCached(h))
}

// reconcile performs the single existence check and dispatches.
func reconcile(ctx context.Context, c *Cached) error {
	current, err := c.Current(ctx)
	if err != nil {
		return fmt.Errorf("checking existence: %w", err)
	}

	if current == nil {
		if err := c.Create(ctx); err != nil {
			return fmt.Errorf("creating resource: %w", err)
		}
		return nil
	}

	if err := c.Update(ctx, current); err != nil {
		return fmt.Errorf("updating resource: %w", err)
	}
	return nil
}
