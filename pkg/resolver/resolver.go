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
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
)

// Instance is the fully resolved view of an OdooInstance: every optional
// field populated, every derived value computed. Controllers and job
// builders consume this instead of the raw spec.
type Instance struct {
	Image         string
	Replicas      int32
	Workers       int32
	AdminPassword string

	// DatabaseName is derived from the instance UID, so a delete/recreate
	// cycle with the same name never collides with a leftover database.
	DatabaseName string

	// RoleName is the PostgreSQL login role owning the database.
	RoleName string

	FilestoreSize string
	StorageClass  string

	Hosts        []string
	IngressClass *string
	Issuer       string

	Addons []Addon

	Resources     corev1.ResourceRequirements
	ConfigOptions map[string]string
}

// Addon is a resolved git-synced addon repository.
type Addon struct {
	Name         string
	Repo         string
	Branch       string
	SyncPeriod   string
	SSHSecretRef *corev1.LocalObjectReference
}

// ResolveInstance applies operator defaults and computes derived values for
// the given OdooInstance. It never mutates the input.
func ResolveInstance(instance *odoov1alpha1.OdooInstance) Instance {
	spec := instance.Spec

	out := Instance{
		Image:         spec.Image,
		Replicas:      spec.Replicas,
		Workers:       spec.Workers,
		AdminPassword: spec.AdminPassword,
		DatabaseName:  DatabaseName(instance.UID),
		RoleName:      RoleName(instance.Namespace, instance.Name),
		FilestoreSize: DefaultFilestoreSize,
		Hosts:         spec.Ingress.Hosts,
		IngressClass:  spec.Ingress.Class,
		Issuer:        spec.Ingress.Issuer,
		Resources:     DefaultResources(),
		ConfigOptions: spec.ConfigOptions,
	}

	if out.Image == "" {
		out.Image = DefaultOdooImage
	}
	if out.Workers == 0 {
		out.Workers = DefaultWorkers
	}
	if spec.Filestore != nil {
		if spec.Filestore.StorageSize != "" {
			out.FilestoreSize = spec.Filestore.StorageSize
		}
		out.StorageClass = spec.Filestore.StorageClass
	}
	if spec.Resources != nil {
		out.Resources = *spec.Resources
	}

	for _, a := range spec.Addons {
		addon := Addon{
			Name:         a.Name,
			Repo:         a.Repo,
			Branch:       a.Branch,
			SyncPeriod:   a.SyncPeriod,
			SSHSecretRef: a.SSHSecretRef,
		}
		if addon.SyncPeriod == "" {
			addon.SyncPeriod = DefaultGitSyncPeriod
		}
		out.Addons = append(out.Addons, addon)
	}

	return out
}

// DatabaseName derives the PostgreSQL database name from the instance UID.
// UIDs are UUIDs; the dashes are replaced so the name needs no quoting.
func DatabaseName(uid types.UID) string {
	return "odoo_" + sanitizeUID(string(uid))
}

// RoleName derives the PostgreSQL login role for an instance.
func RoleName(namespace, name string) string {
	return fmt.Sprintf("odoo.%s.%s", namespace, name)
}

// sanitizeUID replaces every character outside [a-z0-9] with an underscore.
func sanitizeUID(uid string) string {
	b := make([]byte, len(uid))
	for i := 0; i < len(uid); i++ {
		c := uid[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b[i] = c
		} else {
			b[i] = '_'
		}
	}
	return string(b)
}

// WebhookFor picks the effective webhook configuration for a job: the job's
// own webhook overrides the instance-level one.
func WebhookFor(job, instance *odoov1alpha1.WebhookConfig) *odoov1alpha1.WebhookConfig {
	if job != nil {
		return job
	}
	return instance
}
