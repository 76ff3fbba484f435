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
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
	"github.com/stackforge/odoo-operator/pkg/database"
	"github.com/stackforge/odoo-operator/pkg/monitoring"
	"github.com/stackforge/odoo-operator/pkg/resolver"
	"github.com/stackforge/odoo-operator/pkg/resource"
)

// databaseFinalizer blocks instance deletion until the PostgreSQL role and
// database are dropped. Owner references cannot reach inside Postgres.
const databaseFinalizer = "stackforge.io/database-cleanup"

// statusPollInterval is the requeue delay while the instance converges
// (Starting, Initializing, Restoring).
const statusPollInterval = 10 * time.Second

// DatabaseProvisioner creates and tears down the per-instance PostgreSQL
// role and database. Satisfied by *database.Provisioner; substituted in
// tests.
type DatabaseProvisioner interface {
	Ensure(ctx context.Context, roleName, rolePassword, dbName string) error
	Drop(ctx context.Context, roleName, dbName string) error
}

// OdooInstanceReconciler reconciles an OdooInstance with its child
// resources and the PostgreSQL objects backing it.
type OdooInstanceReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	// OperatorNamespace holds operator-level configuration: the
	// postgres-clusters Secret and image pull secrets copied into instance
	// namespaces.
	OperatorNamespace string

	// NewProvisioner overrides the database layer, for tests. Nil selects
	// the real pgx-backed provisioner.
	NewProvisioner func(resolver.PostgresCluster) DatabaseProvisioner
}

// +kubebuilder:rbac:groups=stackforge.io,resources=odooinstances,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=stackforge.io,resources=odooinstances/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=stackforge.io,resources=odooinstances/finalizers,verbs=update
// +kubebuilder:rbac:groups=stackforge.io,resources=odooinitjobs;odoorestorejobs,verbs=get;list;watch;create
// +kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=secrets;configmaps;services;persistentvolumeclaims,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=networking.k8s.io,resources=ingresses,verbs=get;list;watch;create;update;patch;delete

// Reconcile converges one OdooInstance: PostgreSQL role and database, the
// child resources serving it, and the derived status.
func (r *OdooInstanceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	instance := &odoov1alpha1.OdooInstance{}
	if err := r.Get(ctx, req.NamespacedName, instance); err != nil {
		if apierrors.IsNotFound(err) {
			log.Info("resource not found, ignoring")
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if !instance.DeletionTimestamp.IsZero() {
		return r.finalize(ctx, instance)
	}

	if !controllerutil.ContainsFinalizer(instance, databaseFinalizer) {
		controllerutil.AddFinalizer(instance, databaseFinalizer)
		if err := r.Update(ctx, instance); err != nil {
			return ctrl.Result{}, fmt.Errorf("adding finalizer: %w", err)
		}
		return ctrl.Result{}, nil
	}

	res := resolver.ResolveInstance(instance)

	cluster, err := resolver.LoadPostgresCluster(ctx, r.Client, r.OperatorNamespace, instance.Spec.Database)
	if err != nil {
		r.markError(ctx, instance, fmt.Sprintf("resolving postgres cluster: %v", err))
		return ctrl.Result{}, err
	}

	password, err := r.ensureUserSecret(ctx, instance, res)
	if err != nil {
		return ctrl.Result{}, fmt.Errorf("ensuring user secret: %w", err)
	}

	if !instance.Status.DatabaseProvisioned {
		if err := r.provisioner(cluster).Ensure(ctx, res.RoleName, password, res.DatabaseName); err != nil {
			r.markError(ctx, instance, fmt.Sprintf("provisioning database: %v", err))
			return ctrl.Result{}, err
		}
		instance.Status.DatabaseProvisioned = true
		log.Info("provisioned postgres role and database", "database", res.DatabaseName)
	}

	converted, err := r.convertInitialization(ctx, instance, res)
	if err != nil {
		return ctrl.Result{}, err
	}
	if converted {
		// The spec update re-triggers reconciliation.
		return ctrl.Result{}, nil
	}

	if err := r.ensureRestoreJob(ctx, instance); err != nil {
		return ctrl.Result{}, fmt.Errorf("ensuring restore job: %w", err)
	}

	obs, err := r.observe(ctx, instance)
	if err != nil {
		return ctrl.Result{}, err
	}

	// Jobs patch dbInitialized on success themselves; scanning here closes
	// the window where that patch was lost.
	if !instance.Status.DBInitialized && jobCompleted(obs) {
		instance.Status.DBInitialized = true
	}

	if err := r.ensureChildren(ctx, instance, res, cluster, obs); err != nil {
		return ctrl.Result{}, err
	}

	if err := r.updateStatus(ctx, instance, obs); err != nil {
		return ctrl.Result{}, err
	}

	switch instance.Status.Phase {
	case odoov1alpha1.OdooInstancePhaseStarting,
		odoov1alpha1.OdooInstancePhaseInitializing,
		odoov1alpha1.OdooInstancePhaseRestoring:
		return ctrl.Result{RequeueAfter: statusPollInterval}, nil
	}
	return ctrl.Result{}, nil
}

// finalize drops the instance database and role, then releases the
// finalizer. Child resources are reaped through owner references.
func (r *OdooInstanceReconciler) finalize(ctx context.Context, instance *odoov1alpha1.OdooInstance) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	if !controllerutil.ContainsFinalizer(instance, databaseFinalizer) {
		return ctrl.Result{}, nil
	}

	cluster, err := resolver.LoadPostgresCluster(ctx, r.Client, r.OperatorNamespace, instance.Spec.Database)
	switch {
	case apierrors.IsNotFound(err):
		// Endpoint config already gone; nothing left to drop against.
		log.Info("postgres cluster config gone, skipping database drop")
	case err != nil:
		return ctrl.Result{}, err
	default:
		res := resolver.ResolveInstance(instance)
		if err := r.provisioner(cluster).Drop(ctx, res.RoleName, res.DatabaseName); err != nil {
			return ctrl.Result{}, fmt.Errorf("dropping database: %w", err)
		}
		log.Info("dropped postgres role and database", "database", res.DatabaseName)
	}

	monitoring.DeleteInstanceMetrics(instance.Name, instance.Namespace)

	controllerutil.RemoveFinalizer(instance, databaseFinalizer)
	if err := r.Update(ctx, instance); err != nil {
		return ctrl.Result{}, fmt.Errorf("removing finalizer: %w", err)
	}
	return ctrl.Result{}, nil
}

func (r *OdooInstanceReconciler) provisioner(cluster resolver.PostgresCluster) DatabaseProvisioner {
	if r.NewProvisioner != nil {
		return r.NewProvisioner(cluster)
	}
	return database.NewProvisioner(cluster)
}

// ensureUserSecret returns the instance database password, generating and
// persisting a fresh one only when the credentials secret does not exist
// yet.
func (r *OdooInstanceReconciler) ensureUserSecret(
	ctx context.Context,
	instance *odoov1alpha1.OdooInstance,
	res resolver.Instance,
) (string, error) {
	password, err := generatePassword()
	if err != nil {
		return "", err
	}

	h, err := ownedChild(r.Client, r.Scheme, instance,
		buildUserSecret(instance, res, password),
		func() client.Object { return &corev1.Secret{} },
		nil,
	)
	if err != nil {
		return "", err
	}

	cached := resource.NewCached(h)
	current, err := cached.Current(ctx)
	if err != nil {
		return "", err
	}
	if current == nil {
		if err := cached.Create(ctx); err != nil {
			return "", err
		}
		return password, nil
	}
	return string(current.(*corev1.Secret).Data["password"]), nil
}

// convertInitialization rewrites initialization.mode=restore into an
// explicit spec.restore directive, exactly once. An already-set spec.restore
// is never overwritten, so the edge is one-way.
func (r *OdooInstanceReconciler) convertInitialization(
	ctx context.Context,
	instance *odoov1alpha1.OdooInstance,
	res resolver.Instance,
) (bool, error) {
	init := instance.Spec.Initialization
	if init == nil || init.Mode != odoov1alpha1.InitializationRestore || instance.Spec.Restore != nil {
		return false, nil
	}
	if init.Restore == nil {
		logf.FromContext(ctx).Info("initialization mode is restore but no source is given, skipping")
		return false, nil
	}

	instance.Spec.Restore = &odoov1alpha1.RestoreSpec{
		Enabled:        true,
		Source:         *init.Restore.DeepCopy(),
		TargetDatabase: res.DatabaseName,
	}
	if err := r.Update(ctx, instance); err != nil {
		return false, fmt.Errorf("recording restore directive: %w", err)
	}
	return true, nil
}

// ensureRestoreJob materializes the spec.restore directive as an
// OdooRestoreJob resource. The job resource is one-shot: it is created once
// and never mutated afterwards.
func (r *OdooInstanceReconciler) ensureRestoreJob(ctx context.Context, instance *odoov1alpha1.OdooInstance) error {
	restore := instance.Spec.Restore
	if restore == nil || !restore.Enabled {
		return nil
	}

	job := &odoov1alpha1.OdooRestoreJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("%s-restore", instance.Name),
			Namespace: instance.Namespace,
			Labels:    appLabels(instance),
		},
		Spec: odoov1alpha1.OdooRestoreJobSpec{
			OdooInstanceRef: odoov1alpha1.OdooInstanceRef{Name: instance.Name},
			Source:          *restore.Source.DeepCopy(),
		},
	}

	h, err := ownedChild(r.Client, r.Scheme, instance, job,
		func() client.Object { return &odoov1alpha1.OdooRestoreJob{} },
		nil,
	)
	if err != nil {
		return err
	}
	return resource.CreateIfMissing(ctx, h)
}

// observe snapshots the child state the phase derivation depends on.
func (r *OdooInstanceReconciler) observe(ctx context.Context, instance *odoov1alpha1.OdooInstance) (observed, error) {
	var obs observed

	deployment := &appsv1.Deployment{}
	key := types.NamespacedName{Name: instance.Name, Namespace: instance.Namespace}
	switch err := r.Get(ctx, key, deployment); {
	case err == nil:
		obs.deploymentFound = true
		obs.readyReplicas = deployment.Status.ReadyReplicas
	case !apierrors.IsNotFound(err):
		return obs, fmt.Errorf("reading deployment: %w", err)
	}

	var initJobs odoov1alpha1.OdooInitJobList
	if err := r.List(ctx, &initJobs, client.InNamespace(instance.Namespace)); err != nil {
		return obs, fmt.Errorf("listing init jobs: %w", err)
	}
	for _, j := range initJobs.Items {
		if j.Spec.OdooInstanceRef.Name == instance.Name {
			obs.initJobs = append(obs.initJobs, j)
		}
	}

	var restoreJobs odoov1alpha1.OdooRestoreJobList
	if err := r.List(ctx, &restoreJobs, client.InNamespace(instance.Namespace)); err != nil {
		return obs, fmt.Errorf("listing restore jobs: %w", err)
	}
	for _, j := range restoreJobs.Items {
		if j.Spec.OdooInstanceRef.Name == instance.Name {
			obs.restoreJobs = append(obs.restoreJobs, j)
		}
	}

	return obs, nil
}

// jobCompleted reports whether any init or restore job for this instance
// has completed.
func jobCompleted(obs observed) bool {
	for _, j := range obs.initJobs {
		if j.Status.Phase == odoov1alpha1.PhaseCompleted {
			return true
		}
	}
	for _, j := range obs.restoreJobs {
		if j.Status.Phase == odoov1alpha1.PhaseCompleted {
			return true
		}
	}
	return false
}

// exclusiveJobActive reports whether an init or restore job currently owns
// the workload. The deployment replica count belongs to that job until it
// finishes.
func exclusiveJobActive(obs observed) bool {
	active := func(p odoov1alpha1.Phase) bool {
		return p == odoov1alpha1.PhasePending || p == odoov1alpha1.PhaseRunning
	}
	for _, j := range obs.initJobs {
		if active(j.Status.Phase) {
			return true
		}
	}
	for _, j := range obs.restoreJobs {
		if active(j.Status.Phase) {
			return true
		}
	}
	return false
}

// ensureChildren converges every owned child resource through the guards.
func (r *OdooInstanceReconciler) ensureChildren(
	ctx context.Context,
	instance *odoov1alpha1.OdooInstance,
	res resolver.Instance,
	cluster resolver.PostgresCluster,
	obs observed,
) error {
	if err := r.ensurePullSecret(ctx, instance); err != nil {
		return fmt.Errorf("ensuring pull secret: %w", err)
	}

	type child struct {
		desired client.Object
		blank   func() client.Object
		mutate  func(live client.Object)
	}

	replicas := desiredReplicas(instance)
	if exclusiveJobActive(obs) {
		// An exclusive job owns the workload; recreate parked if needed.
		replicas = 0
	}

	desiredCM := buildConfigMap(instance, res, cluster)
	desiredSvc := buildService(instance)
	desiredDeploy := buildDeployment(instance, res, replicas)

	children := []child{
		{
			desired: desiredCM,
			blank:   func() client.Object { return &corev1.ConfigMap{} },
			mutate: func(live client.Object) {
				live.(*corev1.ConfigMap).Data = desiredCM.Data
			},
		},
		{
			// PVC spec is immutable, create-only.
			desired: buildPVC(instance, res),
			blank:   func() client.Object { return &corev1.PersistentVolumeClaim{} },
		},
		{
			desired: desiredSvc,
			blank:   func() client.Object { return &corev1.Service{} },
			mutate: func(live client.Object) {
				svc := live.(*corev1.Service)
				svc.Spec.Selector = desiredSvc.Spec.Selector
				svc.Spec.Ports = desiredSvc.Spec.Ports
			},
		},
		{
			desired: desiredDeploy,
			blank:   func() client.Object { return &appsv1.Deployment{} },
			mutate: func(live client.Object) {
				live.(*appsv1.Deployment).Spec = desiredDeploy.Spec
			},
		},
	}

	if ingress := buildIngress(instance, res); ingress != nil {
		children = append(children, child{
			desired: ingress,
			blank:   func() client.Object { return &networkingv1.Ingress{} },
			mutate: func(live client.Object) {
				i := live.(*networkingv1.Ingress)
				i.Annotations = ingress.Annotations
				i.Spec = ingress.Spec
			},
		})
	}

	for _, c := range children {
		h, err := ownedChild(r.Client, r.Scheme, instance, c.desired, c.blank, c.mutate)
		if err != nil {
			return err
		}
		if err := resource.CreateIfMissing(ctx, h); err != nil {
			return fmt.Errorf("ensuring %T %s: %w", c.desired, c.desired.GetName(), err)
		}
	}

	return nil
}

// ensurePullSecret copies the named image pull secret from the operator
// namespace into the instance namespace.
func (r *OdooInstanceReconciler) ensurePullSecret(ctx context.Context, instance *odoov1alpha1.OdooInstance) error {
	name := instance.Spec.ImagePullSecret
	if name == "" || instance.Namespace == r.OperatorNamespace {
		return nil
	}

	source := &corev1.Secret{}
	key := types.NamespacedName{Name: name, Namespace: r.OperatorNamespace}
	if err := r.Get(ctx, key, source); err != nil {
		return fmt.Errorf("reading pull secret %s/%s: %w", r.OperatorNamespace, name, err)
	}

	desired := buildPullSecret(instance, source)
	h, err := ownedChild(r.Client, r.Scheme, instance, desired,
		func() client.Object { return &corev1.Secret{} },
		func(live client.Object) {
			s := live.(*corev1.Secret)
			s.Type = desired.Type
			s.Data = desired.Data
		},
	)
	if err != nil {
		return err
	}
	return resource.UpdateIfExists(ctx, h)
}

// desiredReplicas keeps the workload at zero until the database holds a
// usable schema. A pod booting against an empty database crash-loops.
func desiredReplicas(instance *odoov1alpha1.OdooInstance) int32 {
	if !instance.Status.DBInitialized {
		return 0
	}
	return instance.Spec.Replicas
}

// updateStatus folds the observed state into the status subresource and
// records the instance gauges.
func (r *OdooInstanceReconciler) updateStatus(ctx context.Context, instance *odoov1alpha1.OdooInstance, obs observed) error {
	applyObserved(instance, obs)

	if err := r.Status().Update(ctx, instance); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}

	monitoring.SetInstanceInfo(instance.Name, instance.Namespace, string(instance.Status.Phase))
	monitoring.SetInstanceReplicas(instance.Name, instance.Namespace, instance.Spec.Replicas, obs.readyReplicas)
	return nil
}

// markError records an Error phase with its cause. Best-effort: the caller
// returns the original error regardless.
func (r *OdooInstanceReconciler) markError(ctx context.Context, instance *odoov1alpha1.OdooInstance, message string) {
	instance.Status.Phase = odoov1alpha1.OdooInstancePhaseError
	instance.Status.Message = message
	if err := r.Status().Update(ctx, instance); err != nil {
		logf.FromContext(ctx).Error(err, "failed to record error phase")
	}
}

// generatePassword returns a fresh random database password.
func generatePassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// instanceForJob maps a lifecycle job event to its owning instance.
func (r *OdooInstanceReconciler) instanceForJob(_ context.Context, obj client.Object) []reconcile.Request {
	refGetter, ok := obj.(interface {
		InstanceRef() odoov1alpha1.OdooInstanceRef
	})
	if !ok {
		return nil
	}
	ref := refGetter.InstanceRef()
	namespace := ref.Namespace
	if namespace == "" {
		namespace = obj.GetNamespace()
	}
	return []reconcile.Request{
		{NamespacedName: types.NamespacedName{Name: ref.Name, Namespace: namespace}},
	}
}

// SetupWithManager sets up the controller with the Manager.
func (r *OdooInstanceReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&odoov1alpha1.OdooInstance{}).
		Owns(&appsv1.Deployment{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.ConfigMap{}).
		Owns(&networkingv1.Ingress{}).
		Watches(&odoov1alpha1.OdooInitJob{}, handler.EnqueueRequestsFromMapFunc(r.instanceForJob)).
		Watches(&odoov1alpha1.OdooRestoreJob{}, handler.EnqueueRequestsFromMapFunc(r.instanceForJob)).
		Named("odooinstance").
		Complete(r)
}
