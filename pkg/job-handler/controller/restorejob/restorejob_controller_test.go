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

package restorejob_test

import (
	"context"
	"strings"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
	"github.com/stackforge/odoo-operator/pkg/job-handler/controller/restorejob"
	"github.com/stackforge/odoo-operator/pkg/notify"
)

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	s := runtime.NewScheme()
	utilruntime.Must(odoov1alpha1.AddToScheme(s))
	utilruntime.Must(batchv1.AddToScheme(s))
	utilruntime.Must(corev1.AddToScheme(s))
	utilruntime.Must(appsv1.AddToScheme(s))
	return s
}

func newReconciler(t *testing.T, objs ...client.Object) (*restorejob.OdooRestoreJobReconciler, client.Client) {
	t.Helper()
	scheme := newScheme(t)
	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objs...).
		WithStatusSubresource(
			&odoov1alpha1.OdooInstance{},
			&odoov1alpha1.OdooRestoreJob{},
			&batchv1.Job{},
		).
		Build()
	return &restorejob.OdooRestoreJobReconciler{
		Client:   c,
		Scheme:   scheme,
		Notifier: notify.New(c),
	}, c
}

func testInstance(replicas int32) *odoov1alpha1.OdooInstance {
	return &odoov1alpha1.OdooInstance{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "shop",
			Namespace: "tenants",
			UID:       "3c9-ab12",
		},
		Spec: odoov1alpha1.OdooInstanceSpec{Replicas: replicas},
	}
}

func testDeployment(replicas int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "shop", Namespace: "tenants"},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": "shop"},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": "shop"}},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: "odoo", Image: "odoo:18.0"}},
				},
			},
		},
	}
}

func s3RestoreJob(objectKey string) *odoov1alpha1.OdooRestoreJob {
	return &odoov1alpha1.OdooRestoreJob{
		ObjectMeta: metav1.ObjectMeta{Name: "shop-restore", Namespace: "tenants"},
		Spec: odoov1alpha1.OdooRestoreJobSpec{
			OdooInstanceRef: odoov1alpha1.OdooInstanceRef{Name: "shop"},
			Source: odoov1alpha1.RestoreSource{
				S3: &odoov1alpha1.S3Destination{
					Bucket:    "backups",
					ObjectKey: objectKey,
					Endpoint:  "https://s3.example.com",
				},
			},
		},
	}
}

func urlRestoreJob() *odoov1alpha1.OdooRestoreJob {
	return &odoov1alpha1.OdooRestoreJob{
		ObjectMeta: metav1.ObjectMeta{Name: "shop-restore", Namespace: "tenants"},
		Spec: odoov1alpha1.OdooRestoreJobSpec{
			OdooInstanceRef: odoov1alpha1.OdooInstanceRef{Name: "shop"},
			Source: odoov1alpha1.RestoreSource{
				URL:            "https://legacy.example.com",
				SourceDatabase: "production",
				MasterPassword: "masterpw",
			},
		},
	}
}

func reconcileOnce(t *testing.T, r *restorejob.OdooRestoreJobReconciler) {
	t.Helper()
	_, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Name: "shop-restore", Namespace: "tenants"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
}

func submittedBatchJob(t *testing.T, c client.Client) *batchv1.Job {
	t.Helper()
	var jobs batchv1.JobList
	if err := c.List(context.Background(), &jobs, client.InNamespace("tenants")); err != nil {
		t.Fatalf("listing batch jobs: %v", err)
	}
	if len(jobs.Items) != 1 {
		t.Fatalf("expected exactly one batch job, got %d", len(jobs.Items))
	}
	return &jobs.Items[0]
}

func reloadRestoreJob(t *testing.T, c client.Client) *odoov1alpha1.OdooRestoreJob {
	t.Helper()
	var job odoov1alpha1.OdooRestoreJob
	if err := c.Get(context.Background(), types.NamespacedName{Name: "shop-restore", Namespace: "tenants"}, &job); err != nil {
		t.Fatalf("reloading restore job: %v", err)
	}
	return &job
}

func envValue(env []corev1.EnvVar, name string) (string, bool) {
	for _, e := range env {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

func deploymentReplicas(t *testing.T, c client.Client) int32 {
	t.Helper()
	var dep appsv1.Deployment
	if err := c.Get(context.Background(), types.NamespacedName{Name: "shop", Namespace: "tenants"}, &dep); err != nil {
		t.Fatalf("reading deployment: %v", err)
	}
	if dep.Spec.Replicas == nil {
		t.Fatalf("deployment replicas is nil")
	}
	return *dep.Spec.Replicas
}

func TestS3SourceDownloaderShape(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		objectKey      string
		wantOutputFile string
	}{
		"zip artifact":   {objectKey: "shop/nightly.zip", wantOutputFile: "/mnt/backup/backup.zip"},
		"custom dump":    {objectKey: "shop/nightly.dump", wantOutputFile: "/mnt/backup/dump.dump"},
		"plain sql dump": {objectKey: "shop/nightly.sql", wantOutputFile: "/mnt/backup/dump.sql"},
		"unknown suffix": {objectKey: "shop/nightly", wantOutputFile: "/mnt/backup/backup.zip"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r, c := newReconciler(t, testInstance(1), testDeployment(1), s3RestoreJob(tc.objectKey))
			reconcileOnce(t, r)

			pod := submittedBatchJob(t, c).Spec.Template.Spec
			if len(pod.InitContainers) != 1 || pod.InitContainers[0].Name != "download" {
				t.Fatalf("init containers = %+v, want single download container", pod.InitContainers)
			}

			dl := pod.InitContainers[0]
			if dl.Image != "quay.io/minio/mc:latest" {
				t.Errorf("downloader image = %q, want mc client image", dl.Image)
			}
			if got, _ := envValue(dl.Env, "OUTPUT_FILE"); got != tc.wantOutputFile {
				t.Errorf("OUTPUT_FILE = %q, want %q", got, tc.wantOutputFile)
			}
			if got, _ := envValue(dl.Env, "S3_KEY"); got != tc.objectKey {
				t.Errorf("S3_KEY = %q, want %q", got, tc.objectKey)
			}
		})
	}
}

func TestURLSourceUsesDatabaseManagerEndpoint(t *testing.T) {
	t.Parallel()

	r, c := newReconciler(t, testInstance(1), testDeployment(1), urlRestoreJob())
	reconcileOnce(t, r)

	pod := submittedBatchJob(t, c).Spec.Template.Spec
	dl := pod.InitContainers[0]

	if dl.Image != "curlimages/curl:latest" {
		t.Errorf("downloader image = %q, want curl image", dl.Image)
	}
	wantEnv := map[string]string{
		"ODOO_URL":        "https://legacy.example.com",
		"SOURCE_DB":       "production",
		"MASTER_PASSWORD": "masterpw",
		"BACKUP_FORMAT":   "zip",
		"OUTPUT_FILE":     "/mnt/backup/backup.zip",
	}
	for name, want := range wantEnv {
		got, ok := envValue(dl.Env, name)
		if !ok {
			t.Errorf("env %s missing", name)
			continue
		}
		if got != want {
			t.Errorf("env %s = %q, want %q", name, got, want)
		}
	}
}

func TestRestoreContainerTargetsInstanceDatabase(t *testing.T) {
	t.Parallel()

	r, c := newReconciler(t, testInstance(1), testDeployment(1), s3RestoreJob("shop/nightly.zip"))
	reconcileOnce(t, r)

	pod := submittedBatchJob(t, c).Spec.Template.Spec
	restore := pod.Containers[0]

	if got, _ := envValue(restore.Env, "DB_NAME"); got != "odoo_3c9_ab12" {
		t.Errorf("DB_NAME = %q, want %q", got, "odoo_3c9_ab12")
	}
	if got, _ := envValue(restore.Env, "NEUTRALIZE"); got != "true" {
		t.Errorf("NEUTRALIZE = %q, want default %q", got, "true")
	}
}

func TestRestoreCredentialsComeFromUserSecret(t *testing.T) {
	t.Parallel()

	r, c := newReconciler(t, testInstance(1), testDeployment(1), s3RestoreJob("shop/nightly.zip"))
	reconcileOnce(t, r)

	restore := submittedBatchJob(t, c).Spec.Template.Spec.Containers[0]

	refs := map[string]*corev1.EnvVarSource{}
	for _, e := range restore.Env {
		refs[e.Name] = e.ValueFrom
	}

	for name, key := range map[string]string{"USER": "user", "PASSWORD": "password"} {
		src := refs[name]
		if src == nil || src.SecretKeyRef == nil {
			t.Fatalf("env %s = %+v, want secretKeyRef", name, src)
		}
		if src.SecretKeyRef.Name != "shop-odoo-user" || src.SecretKeyRef.Key != key {
			t.Errorf("env %s ref = %s/%s, want shop-odoo-user/%s",
				name, src.SecretKeyRef.Name, src.SecretKeyRef.Key, key)
		}
	}
	for name, key := range map[string]string{"HOST": "db_host", "PORT": "db_port"} {
		src := refs[name]
		if src == nil || src.ConfigMapKeyRef == nil {
			t.Fatalf("env %s = %+v, want configMapKeyRef", name, src)
		}
		if src.ConfigMapKeyRef.Name != "shop-odoo-conf" || src.ConfigMapKeyRef.Key != key {
			t.Errorf("env %s ref = %s/%s, want shop-odoo-conf/%s",
				name, src.ConfigMapKeyRef.Name, src.ConfigMapKeyRef.Key, key)
		}
	}
}

func TestNeutralizeCanBeDisabled(t *testing.T) {
	t.Parallel()

	job := s3RestoreJob("shop/nightly.zip")
	job.Spec.Source.Neutralize = ptr.To(false)

	r, c := newReconciler(t, testInstance(1), testDeployment(1), job)
	reconcileOnce(t, r)

	restore := submittedBatchJob(t, c).Spec.Template.Spec.Containers[0]
	if got, _ := envValue(restore.Env, "NEUTRALIZE"); got != "false" {
		t.Errorf("NEUTRALIZE = %q, want %q", got, "false")
	}
}

func TestSourcelessRestoreFailsTerminally(t *testing.T) {
	t.Parallel()

	job := &odoov1alpha1.OdooRestoreJob{
		ObjectMeta: metav1.ObjectMeta{Name: "shop-restore", Namespace: "tenants"},
		Spec: odoov1alpha1.OdooRestoreJobSpec{
			OdooInstanceRef: odoov1alpha1.OdooInstanceRef{Name: "shop"},
		},
	}

	r, c := newReconciler(t, testInstance(1), testDeployment(1), job)
	reconcileOnce(t, r)

	got := reloadRestoreJob(t, c)
	if got.Status.Phase != odoov1alpha1.PhaseFailed {
		t.Errorf("phase = %q, want %q", got.Status.Phase, odoov1alpha1.PhaseFailed)
	}
	if !strings.Contains(got.Status.Message, "url or s3") {
		t.Errorf("message = %q, want source validation explanation", got.Status.Message)
	}
}

func TestRestoreParksAndRestoresWorkload(t *testing.T) {
	t.Parallel()

	r, c := newReconciler(t, testInstance(2), testDeployment(2), s3RestoreJob("shop/nightly.zip"))
	reconcileOnce(t, r)

	if got := deploymentReplicas(t, c); got != 0 {
		t.Fatalf("deployment replicas during restore = %d, want 0", got)
	}

	// Fake the batch job finishing, then let the poll path finalize.
	batch := submittedBatchJob(t, c)
	batch.Status.Succeeded = 1
	if err := c.Status().Update(context.Background(), batch); err != nil {
		t.Fatalf("updating batch job status: %v", err)
	}
	reconcileOnce(t, r)

	if got := deploymentReplicas(t, c); got != 2 {
		t.Errorf("deployment replicas after restore = %d, want 2", got)
	}

	var instance odoov1alpha1.OdooInstance
	if err := c.Get(context.Background(), types.NamespacedName{Name: "shop", Namespace: "tenants"}, &instance); err != nil {
		t.Fatalf("reading instance: %v", err)
	}
	if !instance.Status.DBInitialized {
		t.Errorf("DBInitialized = false, want true after successful restore")
	}
}

func TestBusyInstanceRejectsRestore(t *testing.T) {
	t.Parallel()

	instance := testInstance(1)
	instance.Status.Phase = odoov1alpha1.OdooInstancePhaseUpgrading

	r, c := newReconciler(t, instance, testDeployment(1), s3RestoreJob("shop/nightly.zip"))
	reconcileOnce(t, r)

	got := reloadRestoreJob(t, c)
	if got.Status.Phase != odoov1alpha1.PhaseFailed {
		t.Errorf("phase = %q, want %q", got.Status.Phase, odoov1alpha1.PhaseFailed)
	}
	if !strings.Contains(got.Status.Message, "already Upgrading") {
		t.Errorf("message = %q, want busy-conflict explanation", got.Status.Message)
	}
}
