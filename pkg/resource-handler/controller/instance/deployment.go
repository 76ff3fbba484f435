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
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
	"github.com/stackforge/odoo-operator/pkg/resolver"
)

// buildDeployment renders the Odoo Deployment. replicas is decided by the
// caller: zero until the database is initialized, and never rewritten while
// an exclusive job owns the workload.
func buildDeployment(instance *odoov1alpha1.OdooInstance, res resolver.Instance, replicas int32) *appsv1.Deployment {
	labels := appLabels(instance)

	volumes := []corev1.Volume{
		{
			Name: "filestore",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: pvcName(instance),
				},
			},
		},
		{
			Name: "odoo-conf",
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{
						Name: configMapName(instance),
					},
				},
			},
		},
	}

	mounts := []corev1.VolumeMount{
		{Name: "filestore", MountPath: "/var/lib/odoo"},
		{Name: "odoo-conf", MountPath: "/etc/odoo"},
	}

	var sidecars []corev1.Container
	if len(res.Addons) > 0 {
		volumes = append(volumes, corev1.Volume{
			Name:         "addons",
			VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: "addons", MountPath: "/mnt/addons"})

		for _, addon := range res.Addons {
			container, sshVolume := gitSyncSidecar(addon)
			sidecars = append(sidecars, container)
			if sshVolume != nil {
				volumes = append(volumes, *sshVolume)
			}
		}
	}

	probe := func(initialDelay, period int32) *corev1.Probe {
		return &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: "/web/health",
					Port: intstr.FromInt32(resolver.DefaultHTTPPort),
				},
			},
			InitialDelaySeconds: initialDelay,
			PeriodSeconds:       period,
		}
	}

	podSpec := corev1.PodSpec{
		SecurityContext: &corev1.PodSecurityContext{
			FSGroup:             ptr.To(int64(101)),
			FSGroupChangePolicy: ptr.To(corev1.FSGroupChangeOnRootMismatch),
		},
		Containers: append([]corev1.Container{
			{
				Name:  "odoo",
				Image: res.Image,
				Env:   connectionEnv(instance),
				Ports: []corev1.ContainerPort{
					{Name: "http", ContainerPort: resolver.DefaultHTTPPort},
					{Name: "websocket", ContainerPort: resolver.DefaultWebsocketPort},
				},
				ReadinessProbe: probe(10, 10),
				LivenessProbe:  probe(60, 30),
				Resources:      res.Resources,
				VolumeMounts:   mounts,
			},
		}, sidecars...),
		Volumes: volumes,
	}

	if instance.Spec.ImagePullSecret != "" {
		podSpec.ImagePullSecrets = []corev1.LocalObjectReference{
			{Name: instance.Spec.ImagePullSecret},
		}
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      instance.Name,
			Namespace: instance.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": instance.Name},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       podSpec,
			},
		},
	}
}

// gitSyncSidecar renders one git-sync container keeping an addon checkout
// current under /mnt/addons/<name>. The returned volume is non-nil when the
// addon authenticates over SSH.
func gitSyncSidecar(addon resolver.Addon) (corev1.Container, *corev1.Volume) {
	ref := addon.Branch
	if ref == "" {
		ref = "main"
	}

	container := corev1.Container{
		Name:  fmt.Sprintf("git-sync-%s", addon.Name),
		Image: resolver.DefaultGitSyncImage,
		Args: []string{
			fmt.Sprintf("--repo=%s", addon.Repo),
			fmt.Sprintf("--ref=%s", ref),
			fmt.Sprintf("--root=/mnt/addons/%s", addon.Name),
			fmt.Sprintf("--period=%s", addon.SyncPeriod),
			"--link=current",
			"--one-time=false",
		},
		VolumeMounts: []corev1.VolumeMount{
			{Name: "addons", MountPath: "/mnt/addons"},
		},
		Resources: corev1.ResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("10m"),
				corev1.ResourceMemory: resource.MustParse("32Mi"),
			},
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("100m"),
				corev1.ResourceMemory: resource.MustParse("128Mi"),
			},
		},
		SecurityContext: &corev1.SecurityContext{
			RunAsUser:  ptr.To(int64(65534)),
			RunAsGroup: ptr.To(int64(65534)),
		},
	}

	var sshVolume *corev1.Volume
	if addon.SSHSecretRef != nil {
		volumeName := fmt.Sprintf("ssh-%s", addon.Name)
		sshVolume = &corev1.Volume{
			Name: volumeName,
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{
					SecretName:  addon.SSHSecretRef.Name,
					DefaultMode: ptr.To(int32(0o400)),
				},
			},
		}
		container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{
			Name:      volumeName,
			MountPath: "/etc/git-secret",
			ReadOnly:  true,
		})
		container.Args = append(container.Args,
			"--ssh-key-file=/etc/git-secret/ssh-privatekey",
			"--ssh-known-hosts=false",
		)
		container.Env = append(container.Env, corev1.EnvVar{
			Name:  "GIT_SSH_COMMAND",
			Value: "ssh -o StrictHostKeyChecking=no",
		})
	}

	return container, sshVolume
}
