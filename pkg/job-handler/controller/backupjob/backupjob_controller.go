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

// Package backupjob reconciles OdooBackupJob work items: database dumps
// uploaded to an S3-compatible object store. Backups run alongside the live
// instance and never touch its replica count.
package backupjob

import (
	"context"
	_ "embed"
	"fmt"
	"path/filepath"

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

//go:embed scripts/backup.sh
var backupScript string

//go:embed scripts/s3-upload.sh
var uploadScript string

// uploaderImage carries the mc client used to push artifacts to S3.
const uploaderImage = "quay.io/minio/mc:latest"

// OdooBackupJobReconciler reconciles an OdooBackupJob object.
type OdooBackupJobReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Notifier *notify.Notifier
}

// +kubebuilder:rbac:groups=stackforge.io,resources=odoobackupjobs,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=stackforge.io,resources=odoobackupjobs/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=stackforge.io,resources=odooinstances,verbs=get;list;watch
// +kubebuilder:rbac:groups=batch,resources=jobs,verbs=get;list;watch;create;delete
// +kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch

// Reconcile handles OdooBackupJob resource reconciliation.
func (r *OdooBackupJobReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	backupJob := &odoov1alpha1.OdooBackupJob{}
	if err := r.Get(ctx, req.NamespacedName, backupJob); err != nil {
		if errors.IsNotFound(err) {
			logger.Info("OdooBackupJob resource not found, ignoring")
			return ctrl.Result{}, nil
		}
		logger.Error(err, "Failed to get OdooBackupJob")
		return ctrl.Result{}, err
	}

	return r.machine().Reconcile(ctx, backupJob, &backupAdapter{reconciler: r, backupJob: backupJob})
}

func (r *OdooBackupJobReconciler) machine() *lifecycle.Machine {
	return &lifecycle.Machine{
		Client:   r.Client,
		Notifier: r.Notifier,
		Kind:     "OdooBackupJob",
	}
}

// backupAdapter builds the two-stage backup pod: an init container that dumps
// the database and a main container that uploads the artifact. No submission
// or completion side effects are needed.
type backupAdapter struct {
	lifecycle.NoopHooks

	reconciler *OdooBackupJobReconciler
	backupJob  *odoov1alpha1.OdooBackupJob
}

func (a *backupAdapter) BuildJob(ctx context.Context, instance *odoov1alpha1.OdooInstance) (*batchv1.Job, error) {
	resolved := resolver.ResolveInstance(instance)
	backupJob := a.backupJob

	var imagePullSecrets []corev1.LocalObjectReference
	if instance.Spec.ImagePullSecret != "" {
		imagePullSecrets = []corev1.LocalObjectReference{{Name: instance.Spec.ImagePullSecret}}
	}

	odooConfName := fmt.Sprintf("%s-odoo-conf", instance.Name)
	odooUserName := fmt.Sprintf("%s-odoo-user", instance.Name)

	dest := backupJob.Spec.Destination
	localFilename := fmt.Sprintf("%s-backup", instance.Name)
	if dest.ObjectKey != "" {
		localFilename = filepath.Base(dest.ObjectKey)
	}

	format := string(backupJob.Spec.Format)
	if format == "" {
		format = string(odoov1alpha1.BackupFormatZip)
	}

	withFilestore := "true"
	if backupJob.Spec.WithFilestore != nil && !*backupJob.Spec.WithFilestore {
		withFilestore = "false"
	}

	// Dump container; runs as init container so the uploader waits for it.
	backupEnv := []corev1.EnvVar{
		{Name: "INSTANCE_NAME", Value: instance.Name},
		{Name: "DB_NAME", Value: resolved.DatabaseName},
		{Name: "BACKUP_FORMAT", Value: format},
		{Name: "BACKUP_WITH_FILESTORE", Value: withFilestore},
		{Name: "LOCAL_FILENAME", Value: localFilename},
		configMapEnv("HOST", odooConfName, "db_host"),
		configMapEnv("PORT", odooConfName, "db_port"),
		secretEnv("USER", odooUserName, "user"),
		secretEnv("PASSWORD", odooUserName, "password"),
	}

	insecureVal := "false"
	if dest.Insecure {
		insecureVal = "true"
	}
	uploadEnv := []corev1.EnvVar{
		{Name: "S3_BUCKET", Value: dest.Bucket},
		{Name: "S3_KEY", Value: dest.ObjectKey},
		{Name: "S3_ENDPOINT", Value: dest.Endpoint},
		{Name: "S3_INSECURE", Value: insecureVal},
		{Name: "MC_CONFIG_DIR", Value: "/tmp/.mc"},
	}
	if dest.CredentialsSecretRef != nil {
		credNS := dest.CredentialsSecretRef.Namespace
		if credNS == "" {
			credNS = backupJob.Namespace
		}
		accessKey, secretKey, err := readS3Credentials(ctx, a.reconciler.Client, dest.CredentialsSecretRef.Name, credNS)
		if err != nil {
			return nil, fmt.Errorf("reading S3 credentials: %w", err)
		}
		uploadEnv = append(uploadEnv,
			corev1.EnvVar{Name: "AWS_ACCESS_KEY_ID", Value: accessKey},
			corev1.EnvVar{Name: "AWS_SECRET_ACCESS_KEY", Value: secretKey},
		)
	}

	sharedMount := corev1.VolumeMount{Name: "backup", MountPath: "/mnt/backup"}

	ttl := int32(900)
	backoffLimit := int32(0)
	activeDeadline := int64(1800)

	// Schedule on the same node as the Odoo pod so an RWO filestore PVC can
	// be mounted a second time.
	affinity := &corev1.Affinity{
		PodAffinity: &corev1.PodAffinity{
			RequiredDuringSchedulingIgnoredDuringExecution: []corev1.PodAffinityTerm{
				{
					LabelSelector: &metav1.LabelSelector{
						MatchLabels: map[string]string{"app": instance.Name},
					},
					TopologyKey: "kubernetes.io/hostname",
				},
			},
		},
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: fmt.Sprintf("%s-", backupJob.Name),
			Namespace:    backupJob.Namespace,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: &ttl,
			ActiveDeadlineSeconds:   &activeDeadline,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy:    corev1.RestartPolicyNever,
					ImagePullSecrets: imagePullSecrets,
					Affinity:         affinity,
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
					InitContainers: []corev1.Container{
						{
							Name:    "backup",
							Image:   resolved.Image,
							Command: []string{"/bin/sh", "-c", backupScript},
							Env:     backupEnv,
							VolumeMounts: []corev1.VolumeMount{
								{Name: "filestore", MountPath: "/var/lib/odoo"},
								{Name: "odoo-conf", MountPath: "/etc/odoo"},
								sharedMount,
							},
						},
					},
					Containers: []corev1.Container{
						{
							Name:         "uploader",
							Image:        uploaderImage,
							Command:      []string{"/bin/sh", "-c", uploadScript},
							Env:          uploadEnv,
							VolumeMounts: []corev1.VolumeMount{sharedMount},
						},
					},
				},
			},
		},
	}

	if err := controllerutil.SetControllerReference(backupJob, job, a.reconciler.Scheme); err != nil {
		return nil, err
	}
	return job, nil
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
// Secret. A SecretKeyRef in the pod spec cannot cross namespaces, and
// credential secrets may live in the operator namespace, so the values are
// resolved here and injected as plain env vars.
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
func (r *OdooBackupJobReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&odoov1alpha1.OdooBackupJob{}).
		Owns(&batchv1.Job{}).
		Complete(r)
}
