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
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
	"github.com/stackforge/odoo-operator/pkg/envtestutil"
	"github.com/stackforge/odoo-operator/pkg/resolver"
)

const operatorNamespace = "odoo-operator"

type fakeProvisioner struct {
	ensures   []string
	drops     []string
	ensureErr error
	dropErr   error
}

func (f *fakeProvisioner) Ensure(_ context.Context, roleName, _, dbName string) error {
	f.ensures = append(f.ensures, fmt.Sprintf("%s/%s", roleName, dbName))
	return f.ensureErr
}

func (f *fakeProvisioner) Drop(_ context.Context, roleName, dbName string) error {
	f.drops = append(f.drops, fmt.Sprintf("%s/%s", roleName, dbName))
	return f.dropErr
}

func newInstanceScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	s := runtime.NewScheme()
	utilruntime.Must(odoov1alpha1.AddToScheme(s))
	utilruntime.Must(corev1.AddToScheme(s))
	utilruntime.Must(appsv1.AddToScheme(s))
	utilruntime.Must(networkingv1.AddToScheme(s))
	return s
}

func clustersSecret() *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      resolver.PostgresClustersSecretName,
			Namespace: operatorNamespace,
		},
		Data: map[string][]byte{
			resolver.PostgresClustersSecretKey: []byte(
				"main:\n  host: pg.databases.svc\n  port: 5432\n  default: true\n",
			),
		},
	}
}

func newInstanceReconciler(t *testing.T, objs ...client.Object) (*OdooInstanceReconciler, *fakeProvisioner, client.Client) {
	t.Helper()
	scheme := newInstanceScheme(t)
	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objs...).
		WithInterceptorFuncs(interceptor.Funcs{
			// The real API server folds a Secret's write-only stringData into
			// data at admission; the fake client stores it verbatim.
			Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
				if s, ok := obj.(*corev1.Secret); ok && len(s.StringData) > 0 {
					if s.Data == nil {
						s.Data = make(map[string][]byte, len(s.StringData))
					}
					for k, v := range s.StringData {
						s.Data[k] = []byte(v)
					}
					s.StringData = nil
				}
				return c.Create(ctx, obj, opts...)
			},
		}).
		WithStatusSubresource(
			&odoov1alpha1.OdooInstance{},
			&odoov1alpha1.OdooInitJob{},
			&odoov1alpha1.OdooRestoreJob{},
		).
		Build()

	provisioner := &fakeProvisioner{}
	r := &OdooInstanceReconciler{
		Client:            c,
		Scheme:            scheme,
		OperatorNamespace: operatorNamespace,
		NewProvisioner: func(resolver.PostgresCluster) DatabaseProvisioner {
			return provisioner
		},
	}
	return r, provisioner, c
}

func managedInstance() *odoov1alpha1.OdooInstance {
	return &odoov1alpha1.OdooInstance{
		ObjectMeta: metav1.ObjectMeta{
			Name:       "shop",
			Namespace:  "tenants",
			UID:        "3c9-ab12",
			Finalizers: []string{databaseFinalizer},
		},
		Spec: odoov1alpha1.OdooInstanceSpec{Replicas: 2},
	}
}

func reconcileInstance(t *testing.T, r *OdooInstanceReconciler) ctrl.Result {
	t.Helper()
	result, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Name: "shop", Namespace: "tenants"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	return result
}

func reloadInstance(t *testing.T, c client.Client) *odoov1alpha1.OdooInstance {
	t.Helper()
	instance := &odoov1alpha1.OdooInstance{}
	key := types.NamespacedName{Name: "shop", Namespace: "tenants"}
	if err := c.Get(context.Background(), key, instance); err != nil {
		t.Fatalf("reloading instance: %v", err)
	}
	return instance
}

func TestFirstReconcileAddsFinalizer(t *testing.T) {
	t.Parallel()

	instance := managedInstance()
	instance.Finalizers = nil
	r, _, c := newInstanceReconciler(t, instance, clustersSecret())

	reconcileInstance(t, r)

	got := reloadInstance(t, c)
	found := false
	for _, f := range got.Finalizers {
		if f == databaseFinalizer {
			found = true
		}
	}
	if !found {
		t.Errorf("finalizers = %v, want %q present", got.Finalizers, databaseFinalizer)
	}
}

func TestReconcileCreatesChildResources(t *testing.T) {
	t.Parallel()

	r, provisioner, c := newInstanceReconciler(t, managedInstance(), clustersSecret())
	reconcileInstance(t, r)

	ctx := context.Background()

	secret := &corev1.Secret{}
	if err := c.Get(ctx, types.NamespacedName{Name: "shop-odoo-user", Namespace: "tenants"}, secret); err != nil {
		t.Fatalf("user secret: %v", err)
	}
	if len(secret.Data["password"]) == 0 {
		t.Error("user secret has empty password")
	}

	cm := &corev1.ConfigMap{}
	if err := c.Get(ctx, types.NamespacedName{Name: "shop-odoo-conf", Namespace: "tenants"}, cm); err != nil {
		t.Fatalf("config map: %v", err)
	}
	if cm.Data["db_host"] != "pg.databases.svc" {
		t.Errorf("db_host = %q, want pg.databases.svc", cm.Data["db_host"])
	}

	pvc := &corev1.PersistentVolumeClaim{}
	if err := c.Get(ctx, types.NamespacedName{Name: "shop-filestore-pvc", Namespace: "tenants"}, pvc); err != nil {
		t.Fatalf("pvc: %v", err)
	}

	svc := &corev1.Service{}
	if err := c.Get(ctx, types.NamespacedName{Name: "shop", Namespace: "tenants"}, svc); err != nil {
		t.Fatalf("service: %v", err)
	}

	deploy := &appsv1.Deployment{}
	if err := c.Get(ctx, types.NamespacedName{Name: "shop", Namespace: "tenants"}, deploy); err != nil {
		t.Fatalf("deployment: %v", err)
	}
	if got := *deploy.Spec.Replicas; got != 0 {
		t.Errorf("replicas = %d, want 0 before database initialization", got)
	}

	want := []string{"odoo.tenants.shop/odoo_3c9_ab12"}
	if len(provisioner.ensures) != 1 || provisioner.ensures[0] != want[0] {
		t.Errorf("Ensure calls = %v, want %v", provisioner.ensures, want)
	}

	got := reloadInstance(t, c)
	if got.Status.Phase != odoov1alpha1.OdooInstancePhaseUninitialized {
		t.Errorf("phase = %q, want Uninitialized", got.Status.Phase)
	}
	if !got.Status.DatabaseProvisioned {
		t.Error("DatabaseProvisioned = false, want true")
	}
}

func TestPasswordStableAcrossReconciles(t *testing.T) {
	t.Parallel()

	r, _, c := newInstanceReconciler(t, managedInstance(), clustersSecret())
	reconcileInstance(t, r)

	ctx := context.Background()
	secret := &corev1.Secret{}
	if err := c.Get(ctx, types.NamespacedName{Name: "shop-odoo-user", Namespace: "tenants"}, secret); err != nil {
		t.Fatalf("user secret: %v", err)
	}
	first := string(secret.Data["password"])

	reconcileInstance(t, r)
	reconcileInstance(t, r)

	if err := c.Get(ctx, types.NamespacedName{Name: "shop-odoo-user", Namespace: "tenants"}, secret); err != nil {
		t.Fatalf("user secret: %v", err)
	}
	if got := string(secret.Data["password"]); got != first {
		t.Errorf("password changed across reconciles: %q -> %q", first, got)
	}

	cm := &corev1.ConfigMap{}
	if err := c.Get(ctx, types.NamespacedName{Name: "shop-odoo-conf", Namespace: "tenants"}, cm); err != nil {
		t.Fatalf("config map: %v", err)
	}
	if _, ok := cm.Data["db_password"]; ok {
		t.Error("config map must not mirror the user secret password")
	}
	if strings.Contains(cm.Data["odoo.conf"], first) {
		t.Error("odoo.conf embeds the user secret password")
	}
}

func TestReplicasFollowSpecOnceInitialized(t *testing.T) {
	t.Parallel()

	instance := managedInstance()
	instance.Status.DBInitialized = true
	r, _, c := newInstanceReconciler(t, instance, clustersSecret())

	reconcileInstance(t, r)

	deploy := &appsv1.Deployment{}
	if err := c.Get(context.Background(), types.NamespacedName{Name: "shop", Namespace: "tenants"}, deploy); err != nil {
		t.Fatalf("deployment: %v", err)
	}
	if got := *deploy.Spec.Replicas; got != 2 {
		t.Errorf("replicas = %d, want 2", got)
	}
}

func TestActiveRestorePreservesParkedReplicas(t *testing.T) {
	t.Parallel()

	instance := managedInstance()
	instance.Status.DBInitialized = true

	parked := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "shop", Namespace: "tenants"},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(0)),
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": "shop"}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": "shop"}},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: "odoo", Image: "odoo:18.0"}},
				},
			},
		},
	}

	restoring := &odoov1alpha1.OdooRestoreJob{
		ObjectMeta: metav1.ObjectMeta{Name: "shop-restore", Namespace: "tenants"},
		Spec: odoov1alpha1.OdooRestoreJobSpec{
			OdooInstanceRef: odoov1alpha1.OdooInstanceRef{Name: "shop"},
			Source: odoov1alpha1.RestoreSource{
				URL: "https://old.example.com", SourceDatabase: "legacy",
			},
		},
		Status: odoov1alpha1.JobStatus{Phase: odoov1alpha1.PhaseRunning},
	}

	r, _, c := newInstanceReconciler(t, instance, clustersSecret(), parked, restoring)
	reconcileInstance(t, r)

	deploy := &appsv1.Deployment{}
	if err := c.Get(context.Background(), types.NamespacedName{Name: "shop", Namespace: "tenants"}, deploy); err != nil {
		t.Fatalf("deployment: %v", err)
	}
	if got := *deploy.Spec.Replicas; got != 0 {
		t.Errorf("replicas = %d, want 0 while restore owns the workload", got)
	}

	got := reloadInstance(t, c)
	if got.Status.Phase != odoov1alpha1.OdooInstancePhaseRestoring {
		t.Errorf("phase = %q, want Restoring", got.Status.Phase)
	}
}

func TestInitializationConvertsToRestoreDirectiveOnce(t *testing.T) {
	t.Parallel()

	instance := managedInstance()
	instance.Spec.Initialization = &odoov1alpha1.InitializationSpec{
		Mode: odoov1alpha1.InitializationRestore,
		Restore: &odoov1alpha1.RestoreSource{
			URL:            "https://old.example.com",
			SourceDatabase: "legacy",
			MasterPassword: "master",
		},
	}

	r, _, c := newInstanceReconciler(t, instance, clustersSecret())
	reconcileInstance(t, r) // conversion pass
	reconcileInstance(t, r) // restore job creation

	got := reloadInstance(t, c)
	if got.Spec.Restore == nil {
		t.Fatal("spec.restore not set after conversion")
	}
	if !got.Spec.Restore.Enabled {
		t.Error("spec.restore.enabled = false, want true")
	}
	if got.Spec.Restore.TargetDatabase != "odoo_3c9_ab12" {
		t.Errorf("targetDatabase = %q, want odoo_3c9_ab12", got.Spec.Restore.TargetDatabase)
	}

	job := &odoov1alpha1.OdooRestoreJob{}
	key := types.NamespacedName{Name: "shop-restore", Namespace: "tenants"}
	if err := c.Get(context.Background(), key, job); err != nil {
		t.Fatalf("restore job: %v", err)
	}
	if job.Spec.Source.URL != "https://old.example.com" {
		t.Errorf("source URL = %q, want the declared source", job.Spec.Source.URL)
	}

	// The edge is one-way: further reconciles must not rewrite the directive.
	reconcileInstance(t, r)
	again := reloadInstance(t, c)
	if again.Spec.Restore.Source.URL != "https://old.example.com" {
		t.Errorf("directive rewritten: %q", again.Spec.Restore.Source.URL)
	}
}

func TestMissingClusterConfigRecordsErrorPhase(t *testing.T) {
	t.Parallel()

	r, _, c := newInstanceReconciler(t, managedInstance())

	_, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Name: "shop", Namespace: "tenants"},
	})
	if err == nil {
		t.Fatal("Reconcile() error = nil, want cluster resolution failure")
	}

	got := reloadInstance(t, c)
	if got.Status.Phase != odoov1alpha1.OdooInstancePhaseError {
		t.Errorf("phase = %q, want Error", got.Status.Phase)
	}
	if got.Status.Message == "" {
		t.Error("message empty, want cause recorded")
	}
}

func TestProvisioningFailureRecordsErrorPhase(t *testing.T) {
	t.Parallel()

	r, provisioner, c := newInstanceReconciler(t, managedInstance(), clustersSecret())
	provisioner.ensureErr = errors.New("connection refused")

	_, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Name: "shop", Namespace: "tenants"},
	})
	if err == nil {
		t.Fatal("Reconcile() error = nil, want provisioning failure")
	}

	got := reloadInstance(t, c)
	if got.Status.Phase != odoov1alpha1.OdooInstancePhaseError {
		t.Errorf("phase = %q, want Error", got.Status.Phase)
	}
}

func TestDeletionDropsDatabaseAndReleasesFinalizer(t *testing.T) {
	t.Parallel()

	r, provisioner, c := newInstanceReconciler(t, managedInstance(), clustersSecret())
	ctx := context.Background()

	reconcileInstance(t, r)

	if err := c.Delete(ctx, reloadInstance(t, c)); err != nil {
		t.Fatalf("deleting instance: %v", err)
	}
	reconcileInstance(t, r)

	want := []string{"odoo.tenants.shop/odoo_3c9_ab12"}
	if len(provisioner.drops) != 1 || provisioner.drops[0] != want[0] {
		t.Errorf("Drop calls = %v, want %v", provisioner.drops, want)
	}

	err := c.Get(ctx, types.NamespacedName{Name: "shop", Namespace: "tenants"}, &odoov1alpha1.OdooInstance{})
	if !apierrors.IsNotFound(err) {
		t.Errorf("instance still present after finalization: %v", err)
	}
}

func TestDeletionSkipsDropWhenClusterConfigGone(t *testing.T) {
	t.Parallel()

	r, provisioner, c := newInstanceReconciler(t, managedInstance())
	ctx := context.Background()

	if err := c.Delete(ctx, reloadInstance(t, c)); err != nil {
		t.Fatalf("deleting instance: %v", err)
	}
	reconcileInstance(t, r)

	if len(provisioner.drops) != 0 {
		t.Errorf("Drop calls = %v, want none without endpoint config", provisioner.drops)
	}
	err := c.Get(ctx, types.NamespacedName{Name: "shop", Namespace: "tenants"}, &odoov1alpha1.OdooInstance{})
	if !apierrors.IsNotFound(err) {
		t.Errorf("instance still present after finalization: %v", err)
	}
}

func TestPullSecretCopiedIntoInstanceNamespace(t *testing.T) {
	t.Parallel()

	instance := managedInstance()
	instance.Spec.ImagePullSecret = "regcred"

	source := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "regcred", Namespace: operatorNamespace},
		Type:       corev1.SecretTypeDockerConfigJson,
		Data: map[string][]byte{
			corev1.DockerConfigJsonKey: []byte(`{"auths":{}}`),
		},
	}

	r, _, c := newInstanceReconciler(t, instance, clustersSecret(), source)
	reconcileInstance(t, r)

	copied := &corev1.Secret{}
	if err := c.Get(context.Background(), types.NamespacedName{Name: "regcred", Namespace: "tenants"}, copied); err != nil {
		t.Fatalf("copied secret: %v", err)
	}
	if copied.Type != corev1.SecretTypeDockerConfigJson {
		t.Errorf("type = %q, want dockerconfigjson", copied.Type)
	}
	if string(copied.Data[corev1.DockerConfigJsonKey]) != `{"auths":{}}` {
		t.Error("pull secret payload not copied")
	}
}

func TestRequeuedWhileConverging(t *testing.T) {
	t.Parallel()

	instance := managedInstance()
	instance.Status.DBInitialized = true
	r, _, _ := newInstanceReconciler(t, instance, clustersSecret())

	// No ready replicas yet: the instance is Starting and must be polled.
	result := reconcileInstance(t, r)
	if result.RequeueAfter != statusPollInterval {
		t.Errorf("RequeueAfter = %v, want %v", result.RequeueAfter, statusPollInterval)
	}
}

func TestChildCreateFailurePropagates(t *testing.T) {
	t.Parallel()

	r, _, _ := newInstanceReconciler(t, managedInstance(), clustersSecret())
	r.Client = envtestutil.NewFailingClient(r.Client, &envtestutil.FailureConfig{
		OnCreate: envtestutil.FailOnObjectName("shop-filestore-pvc", envtestutil.ErrInjected),
	})

	_, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Name: "shop", Namespace: "tenants"},
	})
	if !errors.Is(err, envtestutil.ErrInjected) {
		t.Errorf("Reconcile() error = %v, want injected create failure", err)
	}
}

func TestStatusUpdateFailurePropagates(t *testing.T) {
	t.Parallel()

	r, _, _ := newInstanceReconciler(t, managedInstance(), clustersSecret())
	r.Client = envtestutil.NewFailingClient(r.Client, &envtestutil.FailureConfig{
		OnStatusUpdate: envtestutil.FailOnObjectName("shop", envtestutil.ErrNetworkTimeout),
	})

	_, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Name: "shop", Namespace: "tenants"},
	})
	if !errors.Is(err, envtestutil.ErrNetworkTimeout) {
		t.Errorf("Reconcile() error = %v, want injected status failure", err)
	}
}

func TestCompletedInitJobMarksDatabaseInitialized(t *testing.T) {
	t.Parallel()

	completed := &odoov1alpha1.OdooInitJob{
		ObjectMeta: metav1.ObjectMeta{Name: "shop-init", Namespace: "tenants"},
		Spec: odoov1alpha1.OdooInitJobSpec{
			OdooInstanceRef: odoov1alpha1.OdooInstanceRef{Name: "shop"},
		},
		Status: odoov1alpha1.JobStatus{Phase: odoov1alpha1.PhaseCompleted},
	}

	r, _, c := newInstanceReconciler(t, managedInstance(), clustersSecret(), completed)
	reconcileInstance(t, r)

	got := reloadInstance(t, c)
	if !got.Status.DBInitialized {
		t.Error("DBInitialized = false, want true after completed init job")
	}

	deploy := &appsv1.Deployment{}
	if err := c.Get(context.Background(), types.NamespacedName{Name: "shop", Namespace: "tenants"}, deploy); err != nil {
		t.Fatalf("deployment: %v", err)
	}
	if got := *deploy.Spec.Replicas; got != 2 {
		t.Errorf("replicas = %d, want 2 once initialized", got)
	}
}
