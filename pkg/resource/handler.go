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

	"k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Handler manages one child resource of an owning object.
//
// Implementations supply the resource-specific parts only: how to read the
// live object and how to write the desired state. The dispatch between the
// create and update paths belongs to the guards in this package, never to
// the handler itself.
type Handler interface {
	// Fetch reads the current live state of the resource. A NotFound error
	// must be returned as-is so the guards can classify it as absence.
	Fetch(ctx context.Context) (client.Object, error)

	// Create submits the resource with the desired state.
	Create(ctx context.Context) error

	// Update converges the existing live object toward the desired state.
	// current is the object previously returned by Fetch, never nil.
	Update(ctx context.Context, current client.Object) error

	// Delete removes the resource. Handlers for owner-referenced children
	// embed NoopDelete instead of implementing this.
	Delete(ctx context.Context) error
}

// NoopDelete is embedded by handlers whose resources are garbage-collected
// through owner references and therefore need no explicit deletion.
type NoopDelete struct{}

// Delete implements Handler.Delete as a no-op.
func (NoopDelete) Delete(context.Context) error { return nil }

// Cached wraps a Handler with a memoized view of the live resource. Fetch
// runs at most once per Cached instance; absence is reported as a nil object
// with a nil error, and any non-NotFound error is sticky.
//
// A Cached is good for a single reconcile invocation. Do not hold one across
// invocations.
type Cached struct {
	Handler

	fetched bool
	current client.Object
	err     error
}

// NewCached returns a memoizing view over h.
func NewCached(h Handler) *Cached {
	return &Cached{Handler: h}
}

// Current returns the live object, fetching it on first use. A nil object
// with nil error means the resource does not exist.
func (c *Cached) Current(ctx context.Context) (client.Object, error) {
	if c.fetched {
		return c.current, c.err
	}
	c.fetched = true

	obj, err := c.Handler.Fetch(ctx)
	switch {
	case err == nil:
		c.current = obj
	case errors.IsNotFound(err):
		// Absent, not an error.
	default:
		c.err = err
	}
	return c.current, c.err
}

// Exists reports whether the resource is currently present.
func (c *Cached) Exists(ctx context.Context) (bool, error) {
	obj, err := c.Current(ctx)
	if err != nil {
		return false, err
	}
	return obj != nil, nil
}
