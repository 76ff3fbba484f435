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

package resolver

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
)

func TestResolveInstanceDefaults(t *testing.T) {
	t.Parallel()

	instance := &odoov1alpha1.OdooInstance{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "shop",
			Namespace: "tenants",
			UID:       types.UID("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		},
		Spec: odoov1alpha1.OdooInstanceSpec{
			Replicas: 1,
		},
	}

	got := ResolveInstance(instance)

	want := Instance{
		Image:         DefaultOdooImage,
		Replicas:      1,
		Workers:       DefaultWorkers,
		DatabaseName:  "odoo_6ba7b810_9dad_11d1_80b4_00c04fd430c8",
		RoleName:      "odoo.tenants.shop",
		FilestoreSize: DefaultFilestoreSize,
		Resources:     DefaultResources(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ResolveInstance() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveInstanceExplicitValuesWin(t *testing.T) {
	t.Parallel()

	resources := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU: resource.MustParse("2"),
		},
	}
	instance := &odoov1alpha1.OdooInstance{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "shop",
			Namespace: "tenants",
			UID:       types.UID("abc-123"),
		},
		Spec: odoov1alpha1.OdooInstanceSpec{
			Image:    "registry.example.com/odoo:17.0-custom",
			Replicas: 3,
			Workers:  8,
			Filestore: &odoov1alpha1.FilestoreSpec{
				StorageSize:  "50Gi",
				StorageClass: "fast-ssd",
			},
			Resources: &resources,
		},
	}

	got := ResolveInstance(instance)

	if got.Image != "registry.example.com/odoo:17.0-custom" {
		t.Errorf("Image = %q, want explicit image", got.Image)
	}
	if got.Replicas != 3 {
		t.Errorf("Replicas = %d, want 3", got.Replicas)
	}
	if got.Workers != 8 {
		t.Errorf("Workers = %d, want 8", got.Workers)
	}
	if got.FilestoreSize != "50Gi" || got.StorageClass != "fast-ssd" {
		t.Errorf("Filestore = %q/%q, want 50Gi/fast-ssd", got.FilestoreSize, got.StorageClass)
	}
	if diff := cmp.Diff(resources, got.Resources); diff != "" {
		t.Errorf("Resources mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveInstanceAddons(t *testing.T) {
	t.Parallel()

	instance := &odoov1alpha1.OdooInstance{
		ObjectMeta: metav1.ObjectMeta{Name: "shop", Namespace: "tenants", UID: "u"},
		Spec: odoov1alpha1.OdooInstanceSpec{
			Addons: []odoov1alpha1.AddonSpec{
				{Name: "crm-extras", Repo: "https://github.com/example/crm-extras.git"},
				{
					Name:         "private",
					Repo:         "git@github.com:example/private.git",
					Branch:       "18.0",
					SyncPeriod:   "300s",
					SSHSecretRef: &corev1.LocalObjectReference{Name: "deploy-key"},
				},
			},
		},
	}

	got := ResolveInstance(instance).Addons

	want := []Addon{
		{
			Name:       "crm-extras",
			Repo:       "https://github.com/example/crm-extras.git",
			SyncPeriod: DefaultGitSyncPeriod,
		},
		{
			Name:         "private",
			Repo:         "git@github.com:example/private.git",
			Branch:       "18.0",
			SyncPeriod:   "300s",
			SSHSecretRef: &corev1.LocalObjectReference{Name: "deploy-key"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Addons mismatch (-want +got):\n%s", diff)
	}
}

func TestDatabaseName(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		uid  string
		want string
	}{
		"uuid dashes become underscores": {
			uid:  "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
			want: "odoo_6ba7b810_9dad_11d1_80b4_00c04fd430c8",
		},
		"uppercase is replaced, not lowered": {
			uid:  "ABC1",
			want: "odoo____1",
		},
		"plain lowercase passes through": {
			uid:  "abc123",
			want: "odoo_abc123",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := DatabaseName(types.UID(tt.uid)); got != tt.want {
				t.Errorf("DatabaseName(%q) = %q, want %q", tt.uid, got, tt.want)
			}
		})
	}
}

func TestWebhookFor(t *testing.T) {
	t.Parallel()

	jobHook := &odoov1alpha1.WebhookConfig{URL: "https://jobs.example.com/hook"}
	instanceHook := &odoov1alpha1.WebhookConfig{URL: "https://instance.example.com/hook"}

	tests := map[string]struct {
		job      *odoov1alpha1.WebhookConfig
		instance *odoov1alpha1.WebhookConfig
		want     *odoov1alpha1.WebhookConfig
	}{
		"job override wins":     {job: jobHook, instance: instanceHook, want: jobHook},
		"instance fallback":     {instance: instanceHook, want: instanceHook},
		"neither configured":    {want: nil},
		"job only, no instance": {job: jobHook, want: jobHook},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := WebhookFor(tt.job, tt.instance); got != tt.want {
				t.Errorf("WebhookFor() = %v, want %v", got, tt.want)
			}
		})
	}
}
