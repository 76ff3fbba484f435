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

// Package restorejob reconciles OdooRestoreJob work items: loading a dump
// into an instance database. Restores need exclusive database access, so the
// instance workload is parked at zero replicas for the duration of the run.
package restorejob

import (
	"context"
	_ "embed"
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

//go:embed scripts/s3-download.sh
var s3DownloadScript string

//go:embed scripts/odoo-download.sh
var odooDownloadScript string

//go:embed scripts/restore.sh
var restoreScript string

const (
	downloaderImage = "quay.io/minio/mc:latest"
	curlImage       = "curlimages/curl:latest"
)

// OdooRestoreJobReconciler reconciles an OdooRestoreJob object.
type OdooRestoreJobReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Notifier *notify.Notifier
}

// +kubebuilder:rbac:groups=stackforge.io,resources=odoorestorejobs,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=stackforge.io,resources=odoorestorejobs/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=stackforge.io,resources=odooinstances,verbs=get;list;watch
// +kubebuilder:rbac:groups=stackforge.io,resources=odooinstances/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=batch,resources=jobs,verbs=get;list;watch;create;delete
// +kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;patch
// +kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch

// Reconcile handles OdooRestoreJob resource reconciliation.
func (r *OdooRestoreJobReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	restoreJob := &odoov1alpha1.OdooRestoreJob{}
	if err := r.Get(ctx, req.NamespacedName, restoreJob); err != nil {
		if errors.IsNotFound(err) {
			logger.Info("OdooRestoreJob resource not found, ignoring")
			return ctrl.Result{}, nil
		}
		logger.Error(err, "Failed to get OdooRestoreJob")
		return ctrl.Result{}, err
	}

	return r.machine().Reconcile(ctx, restoreJob, &restoreAdapter{reconciler: r, restoreJob: restoreJob})
}

func (r *OdooRestoreJobReconciler) machine() *lifecycle.Machine {
	return &lifecycle.Machine{
		Client:    r.Client,
		Notifier:  r.Notifier,
		Kind:      "OdooRestoreJob",
		Exclusive: true,
	}
}

// restoreAdapter builds the two-stage restore pod: a download init container
// that fetches the dump, and a restore container that loads it. The workload
// is parked before submission and brought back after either terminal phase.
type restoreAdapter struct {
	reconciler *OdooRestoreJobReconciler
	restoreJob *odoov1alpha1.OdooRestoreJob
}

func (a *restoreAdapter) BeforeSubmit(ctx context.Context, instance *odoov1alpha1.OdooInstance) error {
	lifecycle.ScaleDown(ctx, a.reconciler.Client, instance)
	return nil
}

func (a *restoreAdapter) BuildJob(ctx context.Context, instance *odoov1alpha1.OdooInstance) (*batchv1.Job, error) {
	resolved := resolver.ResolveInstance(instance)
	restoreJob := a.restoreJob
	src := restoreJob.Spec.Source

	var imagePullSecrets []corev1.LocalObjectReference
	if instance.Spec.ImagePullSecret != "" {
		imagePullSecrets = []corev1.LocalObjectReference{{Name: instance.Spec.ImagePullSecret}}
	}

	odooConfName := fmt.Sprintf("%s-odoo-conf", instance.Name)
	odooUserName := fmt.Sprintf("%s-odoo-user", instance.Name)

	neutralize := "true"
	if src.Neutralize != nil && !*src.Neutralize {
		neutralize = "false"
	}

	downloader, outputFile, err := a.buildDownloader(ctx, src)
	if err != nil {
		return nil, err
	}

	sharedMount := corev1.VolumeMount{Name: "backup", MountPath: "/mnt/backup"}
	downloader.VolumeMounts = []corev1.VolumeMount{sharedMount}
	downloader.Env = append(downloader.Env, corev1.EnvVar{Name: "OUTPUT_FILE", Value: outputFile})

	restoreEnv := []corev1.EnvVar{
		{Name: "DB_NAME", Value: resolved.DatabaseName},
		{Name: "NEUTRALIZE", Value: neutralize},
		configMapEnv("HOST", odooConfName, "db_host"),
		configMapEnv("PORT", odooConfName, "db_port"),
		secretEnv("USER", odooUserName, "user"),
		secretEnv("PASSWORD", odooUserName, "password"),
	}

	ttl := int32(900)
	backoffLimit := int32(0)
	activeDeadline := int64(3600)

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: fmt.Sprintf("%s-", restoreJob.Name),
			Namespace:    restoreJob.Namespace,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: &ttl,
			ActiveDeadlineSeconds:   &activeDeadline,
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
						{
							Name:         "backup",
							VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
						},
					},
					InitContainers: []corev1.Container{downloader},
					Containers: []corev1.Container{
						{
							Name:    "restore",
							Image:   resolved.Image,
							Command: []string{"/bin/sh", "-c", restoreScript},
							Env:     restoreEnv,
							VolumeMounts: []corev1.VolumeMount{
								{Name: "filestore", MountPath: "/var/lib/odoo"},
								{Name: "odoo-conf", MountPath: "/etc/odoo"},
								sharedMount,
							},
						},
					},
				},
			},
		},
	}

	if err := controllerutil.SetControllerReference(restoreJob, job, a.reconciler.Scheme); err != nil {
		return nil, err
	}
	return job, nil
}

// buildDownloader returns the init container that places the dump in the
// shared volume, and the filename the restore script will find it under.
func (a *restoreAdapter) buildDownloader(ctx context.Context, src odoov1alpha1.RestoreSource) (corev1.Container, string, error) {
	switch {
	case src.S3 != nil:
		outputFile := outputFileFor(src.S3.ObjectKey)

		insecureVal := "false"
		if src.S3.Insecure {
			insecureVal = "true"
		}
		env := []corev1.EnvVar{
			{Name: "S3_BUCKET", Value: src.S3.Bucket},
			{Name: "S3_KEY", Value: src.S3.ObjectKey},
			{Name: "S3_ENDPOINT", Value: src.S3.Endpoint},
			{Name: "S3_INSECURE", Value: insecureVal},
			{Name: "MC_CONFIG_DIR", Value: "/tmp/.mc"},
		}
		if src.S3.CredentialsSecretRef != nil {
			credNS := src.S3.CredentialsSecretRef.Namespace
			if credNS == "" {
				credNS = a.restoreJob.Namespace
			}
			accessKey, secretKey, err := readS3Credentials(ctx, a.reconciler.Client, src.S3.CredentialsSecretRef.Name, credNS)
			if err != nil {
				return corev1.Container{}, "", fmt.Errorf("reading S3 credentials: %w", err)
			}
			env = append(env,
				corev1.EnvVar{Name: "AWS_ACCESS_KEY_ID", Value: accessKey},
				corev1.EnvVar{Name: "AWS_SECRET_ACCESS_KEY", Value: secretKey},
			)
		}
		return corev1.Container{
			Name:    "download",
			Image:   downloaderImage,
			Command: []string{"/bin/sh", "-c", s3DownloadScript},
			Env:     env,
		}, outputFile, nil

	case src.URL != "":
		if src.SourceDatabase == "" {
			return corev1.Container{}, "", fmt.Errorf("source.sourceDatabase is required for URL restores")
		}
		env := []corev1.EnvVar{
			{Name: "ODOO_URL", Value: src.URL},
			{Name: "SOURCE_DB", Value: src.SourceDatabase},
			{Name: "MASTER_PASSWORD", Value: src.MasterPassword},
			{Name: "BACKUP_FORMAT", Value: "zip"},
		}
		return corev1.Container{
			Name:    "download",
			Image:   curlImage,
			Command: []string{"/bin/sh", "-c", odooDownloadScript},
			Env:     env,
		}, "/mnt/backup/backup.zip", nil

	default:
		return corev1.Container{}, "", fmt.Errorf("restore source needs either url or s3")
	}
}

// outputFileFor maps the object key extension to the filename the restore
// script detects the dump format by.
func outputFileFor(objectKey string) string {
	switch {
	case strings.HasSuffix(objectKey, ".dump"):
		return "/mnt/backup/dump.dump"
	case strings.HasSuffix(objectKey, ".sql"):
		return "/mnt/backup/dump.sql"
	default:
		return "/mnt/backup/backup.zip"
	}
}

// OnTerminal restores the workload scale whether the restore succeeded or
// not, and on success marks the parent database initialized: a freshly
// restored database never needs a separate init run.
func (a *restoreAdapter) OnTerminal(ctx context.Context, instance *odoov1alpha1.OdooInstance, phase odoov1alpha1.Phase) error {
	if instance == nil {
		log.FromContext(ctx).Info("parent instance gone, skipping scale restore",
			"restoreJob", a.restoreJob.Name)
		return nil
	}

	if phase == odoov1alpha1.PhaseCompleted {
		patch := []byte(`{"status":{"dbInitialized":true}}`)
		if err := a.reconciler.Status().Patch(ctx, instance, client.RawPatch(types.MergePatchType, patch)); err != nil {
			log.FromContext(ctx).Error(err, "failed to mark database initialized",
				"instance", instance.Name)
		}
	}

	return lifecycle.RestoreScale(ctx, a.reconciler.Client, instance)
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

// readS3Credentials reads accessKey and secretKey from the referenced
// Secret, which may live outside the job namespace.
func readS3Credentials(ctx context.Context, c client.Client, secretName, secretNamespace string) (accessKey, secretKey string, err error) {
	var secret corev1.Secret
	if err := c.Get(ctx, types.NamespacedName{Name: secretName, Namespace: secretNamespace}, &secret); err != nil {
		return "", "", fmt.Errorf("reading S3 credentials secret %s/%s: %w", secretNamespace, secretName, err)
	}
	ak, ok := secret.Data["accessKey"]
	if !ok {
		return "", "", fmt.Errorf("secret %s/%s missing 'accessKey' key", secretNamespace, secretName)
	}
	sk, ok := secret.Data["secretKey"]
	if !ok {
		return "", "", fmt.Errorf("secret %s/%s missing 'secretKey' key", secretNamespace, secretName)
	}
	return string(ak), string(sk), nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *OdooRestoreJobReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&odoov1alpha1.OdooRestoreJob{}).
		Owns(&batchv1.Job{}).
		Complete(r)
}
