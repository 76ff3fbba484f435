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

package lifecycle

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
	"github.com/stackforge/odoo-operator/pkg/monitoring"
)

var deploymentGVK = schema.GroupVersionKind{Group: "apps", Version: "v1", Kind: "Deployment"}

// ScaleWorkload sets spec.replicas on the instance Deployment with a merge
// patch on an unstructured object, so no prior read of the Deployment is
// needed. The Deployment carries the instance's name.
func ScaleWorkload(ctx context.Context, c client.Client, namespace, name string, replicas int32) error {
	dep := &unstructured.Unstructured{}
	dep.SetGroupVersionKind(deploymentGVK)
	dep.SetNamespace(namespace)
	dep.SetName(name)

	patch := []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
	return c.Patch(ctx, dep, client.RawPatch(types.MergePatchType, patch))
}

// ScaleDown parks the instance workload at zero replicas ahead of an
// exclusive job. A failure here is logged and tolerated: refusing to run the
// job because the Deployment could not be paused would wedge the work item
// without making the cluster any safer.
func ScaleDown(ctx context.Context, c client.Client, instance *odoov1alpha1.OdooInstance) {
	err := ScaleWorkload(ctx, c, instance.Namespace, instance.Name, 0)
	monitoring.RecordScaleOperation("down", err)
	if err != nil {
		log.FromContext(ctx).Error(err, "failed to scale down deployment, proceeding anyway",
			"instance", instance.Name)
	}
}

// RestoreScale brings the instance workload back to the replica count read
// from the spec at restore time, so an edit made while the job ran is
// honored. A zero count falls back to one: the operator itself parked the
// workload, the user never asked for it to stay down. A missing Deployment
// is only a warning, the instance may be mid-deletion.
func RestoreScale(ctx context.Context, c client.Client, instance *odoov1alpha1.OdooInstance) error {
	replicas := instance.Spec.Replicas
	if replicas == 0 {
		replicas = 1
	}

	err := ScaleWorkload(ctx, c, instance.Namespace, instance.Name, replicas)
	if errors.IsNotFound(err) {
		log.FromContext(ctx).Info("scale target gone, skipping restore",
			"instance", instance.Name)
		monitoring.RecordScaleOperation("up", nil)
		return nil
	}
	monitoring.RecordScaleOperation("up", err)
	if err != nil {
		return fmt.Errorf("restoring replica count: %w", err)
	}
	return nil
}
