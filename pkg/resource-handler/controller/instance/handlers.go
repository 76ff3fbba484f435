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

package instance

import (
	"context"

	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
	"github.com/stackforge/odoo-operator/pkg/resource"
)

// childHandler adapts one owned child object to the resource.Handler
// contract. The desired object is built up front; mutate copies the mutable
// parts of it onto the live copy on the update path. A nil mutate makes the
// child create-only, which is how immutable children (PVC spec, generated
// credentials) are expressed.
type childHandler struct {
	resource.NoopDelete

	client  client.Client
	desired client.Object
	blank   func() client.Object
	mutate  func(live client.Object)
}

func (h *childHandler) Fetch(ctx context.Context) (client.Object, error) {
	live := h.blank()
	if err := h.client.Get(ctx, client.ObjectKeyFromObject(h.desired), live); err != nil {
		return nil, err
	}
	return live, nil
}

func (h *childHandler) Create(ctx context.Context) error {
	return h.client.Create(ctx, h.desired)
}

func (h *childHandler) Update(ctx context.Context, current client.Object) error {
	if h.mutate == nil {
		return nil
	}
	h.mutate(current)
	return h.client.Update(ctx, current)
}

// ownedChild wires a desired object to its owner and returns the handler the
// guards dispatch on. The owner reference makes garbage collection reap the
// child with the instance.
func ownedChild(
	c client.Client,
	scheme *runtime.Scheme,
	owner *odoov1alpha1.OdooInstance,
	desired client.Object,
	blank func() client.Object,
	mutate func(live client.Object),
) (resource.Handler, error) {
	if err := controllerutil.SetControllerReference(owner, desired, scheme); err != nil {
		return nil, err
	}
	return &childHandler{client: c, desired: desired, blank: blank, mutate: mutate}, nil
}
