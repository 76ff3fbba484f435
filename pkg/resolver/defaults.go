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
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

const (
	// DefaultOdooImage is the container image used when the instance does not
	// pin one.
	DefaultOdooImage = "odoo:18.0"

	// DefaultReplicas is the desired pod count when unspecified.
	DefaultReplicas int32 = 1

	// DefaultWorkers is the number of Odoo worker processes per pod.
	DefaultWorkers int32 = 4

	// DefaultFilestoreSize is the PVC request when the instance does not set
	// spec.filestore.storageSize.
	DefaultFilestoreSize = "10Gi"

	// DefaultGitSyncImage runs the addon sync sidecars.
	DefaultGitSyncImage = "registry.k8s.io/git-sync/git-sync:v4.4.0"

	// DefaultGitSyncPeriod is the addon repository poll interval.
	DefaultGitSyncPeriod = "60s"

	// DefaultHTTPPort is Odoo's main HTTP port.
	DefaultHTTPPort int32 = 8069

	// DefaultWebsocketPort is Odoo's longpolling/websocket port.
	DefaultWebsocketPort int32 = 8072

	// PostgresClustersSecretName is the operator-namespace Secret holding the
	// available PostgreSQL cluster endpoints.
	PostgresClustersSecretName = "postgres-clusters"

	// PostgresClustersSecretKey is the YAML document key inside that Secret.
	PostgresClustersSecretKey = "clusters.yaml"
)

// DefaultResources returns the resource requests and limits applied to the
// Odoo container when the instance does not set spec.resources.
func DefaultResources() corev1.ResourceRequirements {
	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse("250m"),
			corev1.ResourceMemory: resource.MustParse("512Mi"),
		},
		Limits: corev1.ResourceList{
			corev1.ResourceMemory: resource.MustParse("2Gi"),
		},
	}
}
