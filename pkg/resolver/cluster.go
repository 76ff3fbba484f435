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
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
)

// PostgresCluster is one endpoint entry from the postgres-clusters Secret.
// The YAML document maps cluster names to these entries:
//
//	main:
//	  host: pg-main.databases.svc
//	  port: 5432
//	  default: true
type PostgresCluster struct {
	Host     string `json:"host"`
	Port     int32  `json:"port"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Default  bool   `json:"default,omitempty"`
}

// LoadPostgresCluster resolves the PostgreSQL endpoint backing an instance.
// When the instance names a cluster it must exist; otherwise the entry
// marked default is used.
func LoadPostgresCluster(
	ctx context.Context,
	c client.Reader,
	operatorNamespace string,
	db *odoov1alpha1.DatabaseSpec,
) (PostgresCluster, error) {
	var secret corev1.Secret
	key := types.NamespacedName{Name: PostgresClustersSecretName, Namespace: operatorNamespace}
	if err := c.Get(ctx, key, &secret); err != nil {
		return PostgresCluster{}, fmt.Errorf("reading %s secret: %w", PostgresClustersSecretName, err)
	}

	raw, ok := secret.Data[PostgresClustersSecretKey]
	if !ok {
		return PostgresCluster{}, fmt.Errorf("%s secret has no %s key", PostgresClustersSecretName, PostgresClustersSecretKey)
	}

	var clusters map[string]PostgresCluster
	if err := yaml.Unmarshal(raw, &clusters); err != nil {
		return PostgresCluster{}, fmt.Errorf("parsing %s: %w", PostgresClustersSecretKey, err)
	}

	if db != nil && db.Cluster != "" {
		cluster, ok := clusters[db.Cluster]
		if !ok {
			return PostgresCluster{}, fmt.Errorf("postgres cluster %q not found", db.Cluster)
		}
		return cluster, nil
	}

	for _, cluster := range clusters {
		if cluster.Default {
			return cluster, nil
		}
	}
	return PostgresCluster{}, fmt.Errorf("no default postgres cluster configured")
}
