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

// Package initjob reconciles OdooInitJob work items: one-shot database
// initialization runs against a parent OdooInstance.
package initjob

import (
	"context"
	"fmt"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
	"github.com/stackforge/odoo-operator/pkg/job-handler/lifecycle"
	"github.com/stackforge/odoo-operator/pkg/notify"
	"github.com/stackforge/odoo-operator/pkg/resolver"
)

// OdooInitJobReconciler reconciles an OdooInitJob object.
type OdooInitJobReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Notifier *notify.Notifier
}

// +kubebuilder:rbac:groups=stackforge.io,resources=odooinitjobs,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=stackforge.io,resources=odooinitjobs/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=stackforge.io,resources=odooinstances,verbs=get;list;watch
// +kubebuilder:rbac:groups=stackforge.io,resources=odooinstances/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=batch,resources=jobs,verbs=get;list;watch;create;delete
// +kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;patch

// Reconcile handles OdooInitJob resource reconciliation.
func (r *OdooInitJobReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	initJob := &odoov1alpha1.OdooInitJob{}
	if err := r.Get(ctx, req.NamespacedName, initJob); err != nil {
		if errors.IsNotFound(err) {
			logger.Info("OdooInitJob resource not found, ignoring")
			return ctrl.Result{}, nil
		}
		logger.Error(err, "Failed to get OdooInitJob")
		return ctrl.Result{}, err
	}

	return r.machine().Reconcile(ctx, initJob, &initAdapter{reconciler: r, initJob: initJob})
}

func (r *OdooInitJobReconciler) machine() *lifecycle.Machine {
	return &lifecycle.Machine{
		Client:    r.Client,
		Notifier:  r.Notifier,
		Kind:      "OdooInitJob",
		Exclusive: true,
	}
}

// initAdapter supplies the init-specific state machine hooks: parking the
// workload while `odoo -i` owns the database, and bringing it back once the
// run is over.
type initAdapter struct {
	reconciler *OdooInitJobReconciler
	initJob    *odoov1alpha1.OdooInitJob
}

func (a *initAdapter) BeforeSubmit(ctx context.Context, instance *odoov1alpha1.OdooInstance) error {
	lifecycle.ScaleDown(ctx, a.reconciler.Client, instance)
	return nil
}

// BuildJob constructs the batch/v1 Job that runs `odoo -i <modules>` against
// the instance database and exits.
func (a *initAdapter) BuildJob(_ context.Context, instance *odoov1alpha1.OdooInstance) (*batchv1.Job, error) {
	resolved := resolver.ResolveInstance(instance)

	var imagePullSecrets []corev1.LocalObjectReference
	if instance.Spec.ImagePullSecret != "" {
		imagePullSecrets = []corev1.LocalObjectReference{{Name: instance.Spec.ImagePullSecret}}
	}

	modules := a.initJob.Spec.Modules
	if len(modules) == 0 {
		modules = []string{"base"}
	}

	odooConfName := fmt.Sprintf("%s-odoo-conf", instance.Name)
	odooUserName := fmt.Sprintf("%s-odoo-user", instance.Name)

	// The image entrypoint translates these into -r/-w db arguments; the
	// rendered odoo.conf carries no db_password.
	initEnv := []corev1.EnvVar{
		configMapEnv("HOST", odooConfName, "db_host"),
		configMapEnv("PORT", odooConfName, "db_port"),
		secretEnv("USER", odooUserName, "user"),
		secretEnv("PASSWORD", odooUserName, "password"),
	}

	ttl := int32(900)
	backoffLimit := int32(0)

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: fmt.Sprintf("%s-", a.initJob.Name),
			Namespace:    a.initJob.Namespace,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy:    corev1.RestartPolicyNever,
					ImagePullSecrets: imagePullSecrets,
					SecurityContext: &corev1.PodSecurityContext{
						RunAsUser:           ptr.To(int64(100)),
						RunAsGroup:          ptr.To(int64(101)),
						FSGroup:             ptr.To(int64(101)),
						FSGroupChangePolicy: ptr.To(corev1.FSGroupChangeOnRootMismatch),
					},
					Volumes: []corev1.Volume{
						{
							Name: "filestore",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: fmt.Sprintf("%s-filestore-pvc", instance.Name),
								},
							},
						},
						{
							Name: "odoo-conf",
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{Name: odooConfName},
								},
							},
						},
					},
					Containers: []corev1.Container{
						{
							Name:    "init",
							Image:   resolved.Image,
							Command: []string{"/entrypoint.sh", "odoo"},
							Env:     initEnv,
							Args: []string{
								"-i", strings.Join(modules, ","),
								"-d", resolved.DatabaseName,
								"--no-http", "--stop-after-init",
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "filestore", MountPath: "/var/lib/odoo"},
								{Name: "odoo-conf", MountPath: "/etc/odoo"},
							},
						},
					},
				},
			},
		},
	}

	if err := controllerutil.SetControllerReference(a.initJob, job, a.reconciler.Scheme); err != nil {
		return nil, err
	}
	return job, nil
}

// OnTerminal restores the workload scale on success and failure alike; a
// failed init run must not leave the instance parked at zero. On success it
// also marks the database initialized on the parent instance.
func (a *initAdapter) OnTerminal(ctx context.Context, instance *odoov1alpha1.OdooInstance, phase odoov1alpha1.Phase) error {
	if instance == nil {
		log.FromContext(ctx).Info("parent instance gone, skipping scale restore",
			"initJob", a.initJob.Name)
		return nil
	}

	if phase == odoov1alpha1.PhaseCompleted {
		if err := a.markDatabaseInitialized(ctx, instance); err != nil {
			log.FromContext(ctx).Error(err, "failed to mark database initialized",
				"instance", instance.Name)
		}
	}

	return lifecycle.RestoreScale(ctx, a.reconciler.Client, instance)
}

func (a *initAdapter) markDatabaseInitialized(ctx context.Context, instance *odoov1alpha1.OdooInstance) error {
	patch := []byte(`{"status":{"dbInitialized":true}}`)
	return a.reconciler.Status().Patch(ctx, instance, client.RawPatch(types.MergePatchType, patch))
}

// configMapEnv references a single key of the instance odoo-conf ConfigMap.
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

// secretEnv references a single key of the instance odoo-user Secret.
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

// SetupWithManager sets up the controller with the Manager.
func (r *OdooInitJobReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&odoov1alpha1.OdooInitJob{}).
		Owns(&batchv1.Job{}).
		Complete(r)
}
