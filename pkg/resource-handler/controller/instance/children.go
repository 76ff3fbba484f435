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
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
	"github.com/stackforge/odoo-operator/pkg/resolver"
)

func userSecretName(instance *odoov1alpha1.OdooInstance) string {
	return fmt.Sprintf("%s-odoo-user", instance.Name)
}

func configMapName(instance *odoov1alpha1.OdooInstance) string {
	return fmt.Sprintf("%s-odoo-conf", instance.Name)
}

func pvcName(instance *odoov1alpha1.OdooInstance) string {
	return fmt.Sprintf("%s-filestore-pvc", instance.Name)
}

func appLabels(instance *odoov1alpha1.OdooInstance) map[string]string {
	return map[string]string{
		"app":                          instance.Name,
		"app.kubernetes.io/managed-by": "odoo-operator",
	}
}

// connectionEnv wires the PostgreSQL connection for the official Odoo image
// entrypoint: HOST/PORT from the odoo-conf ConfigMap, USER/PASSWORD from the
// generated odoo-user Secret.
func connectionEnv(instance *odoov1alpha1.OdooInstance) []corev1.EnvVar {
	confName := configMapName(instance)
	secretName := userSecretName(instance)
	return []corev1.EnvVar{
		configMapEnv("HOST", confName, "db_host"),
		configMapEnv("PORT", confName, "db_port"),
		secretEnv("USER", secretName, "user"),
		secretEnv("PASSWORD", secretName, "password"),
	}
}

func configMapEnv(name, configMapName, key string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: name,
		ValueFrom: &corev1.EnvVarSource{
			ConfigMapKeyRef: &corev1.ConfigMapKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: configMapName},
				Key:                  key,
			},
		},
	}
}

func secretEnv(name, secretName, key string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: name,
		ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: secretName},
				Key:                  key,
			},
		},
	}
}

// buildUserSecret holds the generated PostgreSQL credentials for the
// instance role. Created once; the password is never regenerated for an
// existing secret.
func buildUserSecret(instance *odoov1alpha1.OdooInstance, res resolver.Instance, password string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      userSecretName(instance),
			Namespace: instance.Namespace,
			Labels:    appLabels(instance),
		},
		Type: corev1.SecretTypeOpaque,
		StringData: map[string]string{
			"user":     res.RoleName,
			"password": password,
		},
	}
}

// buildConfigMap renders odoo.conf plus the flat db_host/db_port connection
// keys the lifecycle jobs (init, backup, restore) read through env valueFrom
// refs. The role password never lands here: only the odoo-user Secret
// carries it, and consumers read it through a secretKeyRef.
func buildConfigMap(
	instance *odoov1alpha1.OdooInstance,
	res resolver.Instance,
	cluster resolver.PostgresCluster,
) *corev1.ConfigMap {
	port := strconv.Itoa(int(cluster.Port))
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      configMapName(instance),
			Namespace: instance.Namespace,
			Labels:    appLabels(instance),
		},
		Data: map[string]string{
			"odoo.conf": buildOdooConf(res, cluster),
			"db_host":   cluster.Host,
			"db_port":   port,
			"db_user":   res.RoleName,
		},
	}
}

// buildOdooConf renders the [options] section. Managed keys come first in a
// fixed order so successive renders of the same inputs are byte-identical;
// spec.configOptions override managed values on key collision and any
// remaining extra keys are appended sorted.
func buildOdooConf(res resolver.Instance, cluster resolver.PostgresCluster) string {
	// db_password is deliberately absent: the container reads it from the
	// PASSWORD env var sourced from the odoo-user Secret.
	managed := [][2]string{
		{"data_dir", "/var/lib/odoo"},
		{"proxy_mode", "True"},
		{"addons_path", strings.Join(addonsPath(res), ",")},
		{"workers", strconv.Itoa(int(res.Workers))},
		{"db_host", cluster.Host},
		{"db_port", strconv.Itoa(int(cluster.Port))},
		{"db_user", res.RoleName},
		{"db_name", res.DatabaseName},
		{"list_db", "False"},
		{"http_port", strconv.Itoa(int(resolver.DefaultHTTPPort))},
		{"gevent_port", strconv.Itoa(int(resolver.DefaultWebsocketPort))},
	}
	if res.AdminPassword != "" {
		managed = append(managed, [2]string{"admin_passwd", hashAdminPassword(res)})
	}

	var b strings.Builder
	b.WriteString("[options]\n")

	seen := make(map[string]bool, len(managed))
	for _, kv := range managed {
		key, value := kv[0], kv[1]
		if override, ok := res.ConfigOptions[key]; ok {
			value = override
		}
		seen[key] = true
		fmt.Fprintf(&b, "%s = %s\n", key, value)
	}

	extras := make([]string, 0, len(res.ConfigOptions))
	for key := range res.ConfigOptions {
		if !seen[key] {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	for _, key := range extras {
		fmt.Fprintf(&b, "%s = %s\n", key, res.ConfigOptions[key])
	}

	return b.String()
}

// adminHashRounds matches the PBKDF2 iteration count Odoo's own password
// hasher applies to admin_passwd.
const adminHashRounds = 25000

// hashAdminPassword renders the master password as a pbkdf2-sha512 modular
// crypt string, the format Odoo verifies admin_passwd against. The salt is
// derived from the role and database names so repeated renders of the same
// instance are byte-identical and the ConfigMap never churns; it must never
// be derived from the password itself.
func hashAdminPassword(res resolver.Instance) string {
	seed := sha512.Sum512([]byte(res.RoleName + "\x00" + res.DatabaseName))
	salt := seed[:16]
	key := pbkdf2.Key([]byte(res.AdminPassword), salt, adminHashRounds, sha512.Size, sha512.New)
	return fmt.Sprintf("$pbkdf2-sha512$%d$%s$%s", adminHashRounds, ab64(salt), ab64(key))
}

// ab64 is the adapted base64 alphabet modular crypt strings use: standard
// encoding with '+' swapped for '.' and padding stripped.
func ab64(raw []byte) string {
	enc := base64.StdEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)
	return strings.ReplaceAll(enc, "+", ".")
}

// addonsPath lists the addon directories odoo scans, image addons first and
// one git-synced directory per declared addon repository.
func addonsPath(res resolver.Instance) []string {
	paths := []string{"/mnt/extra-addons"}
	for _, addon := range res.Addons {
		paths = append(paths, fmt.Sprintf("/mnt/addons/%s/current", addon.Name))
	}
	return paths
}

// buildPVC requests the filestore volume. The spec is immutable after
// creation, so this child is create-only.
func buildPVC(instance *odoov1alpha1.OdooInstance, res resolver.Instance) *corev1.PersistentVolumeClaim {
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      pvcName(instance),
			Namespace: instance.Namespace,
			Labels:    appLabels(instance),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse(res.FilestoreSize),
				},
			},
		},
	}
	if res.StorageClass != "" {
		pvc.Spec.StorageClassName = &res.StorageClass
	}
	return pvc
}

func buildService(instance *odoov1alpha1.OdooInstance) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      instance.Name,
			Namespace: instance.Namespace,
			Labels:    appLabels(instance),
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": instance.Name},
			Ports: []corev1.ServicePort{
				{
					Name:       "http",
					Port:       resolver.DefaultHTTPPort,
					TargetPort: intstr.FromInt32(resolver.DefaultHTTPPort),
				},
				{
					Name:       "websocket",
					Port:       resolver.DefaultWebsocketPort,
					TargetPort: intstr.FromInt32(resolver.DefaultWebsocketPort),
				},
			},
		},
	}
}

// buildIngress routes /websocket to the longpolling port and everything else
// to the main HTTP port, for every declared host. Returns nil when no hosts
// are configured.
func buildIngress(instance *odoov1alpha1.OdooInstance, res resolver.Instance) *networkingv1.Ingress {
	if len(res.Hosts) == 0 {
		return nil
	}

	pathTypePrefix := networkingv1.PathTypePrefix

	backend := func(port int32) networkingv1.IngressBackend {
		return networkingv1.IngressBackend{
			Service: &networkingv1.IngressServiceBackend{
				Name: instance.Name,
				Port: networkingv1.ServiceBackendPort{Number: port},
			},
		}
	}

	rules := make([]networkingv1.IngressRule, 0, len(res.Hosts))
	for _, host := range res.Hosts {
		rules = append(rules, networkingv1.IngressRule{
			Host: host,
			IngressRuleValue: networkingv1.IngressRuleValue{
				HTTP: &networkingv1.HTTPIngressRuleValue{
					Paths: []networkingv1.HTTPIngressPath{
						{
							Path:     "/websocket",
							PathType: &pathTypePrefix,
							Backend:  backend(resolver.DefaultWebsocketPort),
						},
						{
							Path:     "/",
							PathType: &pathTypePrefix,
							Backend:  backend(resolver.DefaultHTTPPort),
						},
					},
				},
			},
		})
	}

	ingress := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      instance.Name,
			Namespace: instance.Namespace,
			Labels:    appLabels(instance),
		},
		Spec: networkingv1.IngressSpec{
			IngressClassName: res.IngressClass,
			Rules:            rules,
		},
	}

	if res.Issuer != "" {
		ingress.Annotations = map[string]string{
			"cert-manager.io/cluster-issuer": res.Issuer,
		}
		ingress.Spec.TLS = []networkingv1.IngressTLS{
			{
				Hosts:      res.Hosts,
				SecretName: fmt.Sprintf("%s-tls", instance.Name),
			},
		}
	}

	return ingress
}

// buildPullSecret clones the operator-namespace image pull secret into the
// instance namespace under the same name.
func buildPullSecret(instance *odoov1alpha1.OdooInstance, source *corev1.Secret) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      source.Name,
			Namespace: instance.Namespace,
			Labels:    appLabels(instance),
		},
		Type: source.Type,
		Data: source.Data,
	}
}
