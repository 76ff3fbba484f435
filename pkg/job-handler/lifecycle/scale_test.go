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
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

func testDeployment(replicas int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "shop", Namespace: "tenants"},
		Spec:       appsv1.DeploymentSpec{Replicas: ptr.To(replicas)},
	}
}

func readReplicas(t *testing.T, c client.Client) int32 {
	t.Helper()
	var dep appsv1.Deployment
	if err := c.Get(context.Background(), types.NamespacedName{Name: "shop", Namespace: "tenants"}, &dep); err != nil {
		t.Fatalf("reading deployment: %v", err)
	}
	return *dep.Spec.Replicas
}

func TestScaleWorkloadPatchesReplicas(t *testing.T) {
	t.Parallel()

	c := newFakeClient(t, testDeployment(3))
	if err := ScaleWorkload(context.Background(), c, "tenants", "shop", 0); err != nil {
		t.Fatalf("ScaleWorkload() error = %v", err)
	}
	if got := readReplicas(t, c); got != 0 {
		t.Errorf("replicas = %d, want 0", got)
	}
}

func TestRestoreScaleFallsBackToOne(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		specReplicas int32
		want         int32
	}{
		"spec count honored": {specReplicas: 4, want: 4},
		"zero becomes one":   {specReplicas: 0, want: 1},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			instance := testInstance("")
			instance.Spec.Replicas = tc.specReplicas

			c := newFakeClient(t, testDeployment(0))
			if err := RestoreScale(context.Background(), c, instance); err != nil {
				t.Fatalf("RestoreScale() error = %v", err)
			}
			if got := readReplicas(t, c); got != tc.want {
				t.Errorf("replicas = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRestoreScaleToleratesMissingDeployment(t *testing.T) {
	t.Parallel()

	c := newFakeClient(t)
	if err := RestoreScale(context.Background(), c, testInstance("")); err != nil {
		t.Errorf("RestoreScale() error = %v, want nil for missing deployment", err)
	}
}

func TestScaleDownSwallowsErrors(t *testing.T) {
	t.Parallel()

	// No Deployment exists; the patch fails with NotFound, which must not
	// block submission.
	c := newFakeClient(t)
	ScaleDown(context.Background(), c, testInstance(""))
}
