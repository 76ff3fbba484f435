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

package lifecycle

import (
	"context"
	"fmt"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
	"github.com/stackforge/odoo-operator/pkg/monitoring"
	"github.com/stackforge/odoo-operator/pkg/notify"
	"github.com/stackforge/odoo-operator/pkg/resolver"
)

// PollInterval is how long to wait before re-checking an in-flight batch
// Job. The controllers also watch owned Jobs, so this is a backstop for
// missed events and for the creation-visibility lag window.
const PollInterval = 15 * time.Second

// JobResource is the common surface of the one-shot job custom resources.
type JobResource interface {
	client.Object

	JobStatus() *odoov1alpha1.JobStatus
	InstanceRef() odoov1alpha1.OdooInstanceRef
	WebhookSpec() *odoov1alpha1.WebhookConfig
}

// Adapter supplies the per-kind pieces of the state machine.
type Adapter interface {
	// BuildJob constructs the batch Job to submit for this work item.
	BuildJob(ctx context.Context, instance *odoov1alpha1.OdooInstance) (*batchv1.Job, error)

	// BeforeSubmit runs immediately before the Job is created, e.g. scaling
	// the instance workload down for an exclusive operation. An error aborts
	// submission and surfaces as a reconcile failure.
	BeforeSubmit(ctx context.Context, instance *odoov1alpha1.OdooInstance) error

	// OnTerminal runs once per terminal transition, after the phase has been
	// durably persisted. instance is nil when the OdooInstance no longer
	// exists. Errors are logged, never propagated: the phase is already
	// terminal and must not be retried into a different outcome.
	OnTerminal(ctx context.Context, instance *odoov1alpha1.OdooInstance, phase odoov1alpha1.Phase) error
}

// NoopHooks is embedded by adapters that need no submission side effects.
type NoopHooks struct{}

func (NoopHooks) BeforeSubmit(context.Context, *odoov1alpha1.OdooInstance) error { return nil }

func (NoopHooks) OnTerminal(context.Context, *odoov1alpha1.OdooInstance, odoov1alpha1.Phase) error {
	return nil
}

// Machine drives a job resource through Pending -> Running -> terminal.
type Machine struct {
	Client   client.Client
	Notifier *notify.Notifier

	// Kind labels metrics and log lines, e.g. "OdooInitJob".
	Kind string

	// Exclusive marks work that must not run while the instance is already
	// mid-operation. Submission against a busy instance fails terminally.
	Exclusive bool
}

// Reconcile advances the state machine by at most one transition. Terminal
// resources are skipped entirely.
func (m *Machine) Reconcile(ctx context.Context, job JobResource, adapter Adapter) (ctrl.Result, error) {
	status := job.JobStatus()
	if status.Phase.Terminal() {
		return ctrl.Result{}, nil
	}

	if status.JobName == "" {
		return m.submit(ctx, job, adapter)
	}
	return m.poll(ctx, job, adapter)
}

// submit resolves the owning instance, runs the pre-submission hook, creates
// the batch Job, and records Running.
func (m *Machine) submit(ctx context.Context, job JobResource, adapter Adapter) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	// A previous submit may have created the Job and then lost the status
	// patch. Adopt the orphan instead of starting a second run.
	if existing, err := m.ownedBatchJob(ctx, job); err != nil {
		return ctrl.Result{}, err
	} else if existing != nil {
		logger.Info("adopting existing batch job", "job", existing.Name, "kind", m.Kind)
		start := existing.CreationTimestamp
		if err := PatchStatus(ctx, m.Client, job, StatusPatch{
			Phase:     odoov1alpha1.PhaseRunning,
			JobName:   existing.Name,
			StartTime: &start,
		}); err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{RequeueAfter: PollInterval}, nil
	}

	instance, err := m.instanceFor(ctx, job)
	if err != nil {
		if errors.IsNotFound(err) {
			ref := job.InstanceRef()
			return ctrl.Result{}, m.failBeforeSubmit(ctx, job,
				fmt.Sprintf("OdooInstance %s not found", ref.Name))
		}
		return ctrl.Result{}, fmt.Errorf("fetching OdooInstance: %w", err)
	}

	if m.Exclusive && instance.Status.Phase.Busy() {
		return ctrl.Result{}, m.failBeforeSubmit(ctx, job,
			fmt.Sprintf("OdooInstance %s is already %s", instance.Name, instance.Status.Phase))
	}

	if err := adapter.BeforeSubmit(ctx, instance); err != nil {
		return ctrl.Result{}, fmt.Errorf("pre-submission hook: %w", err)
	}

	batchJob, err := adapter.BuildJob(ctx, instance)
	if err != nil {
		return ctrl.Result{}, m.failBeforeSubmit(ctx, job,
			fmt.Sprintf("failed to build job: %v", err))
	}
	if err := m.Client.Create(ctx, batchJob); err != nil {
		return ctrl.Result{}, fmt.Errorf("creating batch job: %w", err)
	}
	logger.Info("submitted batch job", "job", batchJob.Name, "kind", m.Kind)

	now := metav1.Now()
	if err := PatchStatus(ctx, m.Client, job, StatusPatch{
		Phase:     odoov1alpha1.PhaseRunning,
		JobName:   batchJob.Name,
		StartTime: &now,
	}); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{RequeueAfter: PollInterval}, nil
}

// ownedBatchJob returns the batch Job controlled by this work item, if one
// already exists in its namespace.
func (m *Machine) ownedBatchJob(ctx context.Context, job JobResource) (*batchv1.Job, error) {
	var list batchv1.JobList
	if err := m.Client.List(ctx, &list, client.InNamespace(job.GetNamespace())); err != nil {
		return nil, fmt.Errorf("listing batch jobs: %w", err)
	}
	for i := range list.Items {
		if metav1.IsControlledBy(&list.Items[i], job) {
			return &list.Items[i], nil
		}
	}
	return nil, nil
}

// poll reads the live batch Job and finalizes on a terminal condition.
func (m *Machine) poll(ctx context.Context, job JobResource, adapter Adapter) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	status := job.JobStatus()

	var batchJob batchv1.Job
	key := types.NamespacedName{Name: status.JobName, Namespace: job.GetNamespace()}
	if err := m.Client.Get(ctx, key, &batchJob); err != nil {
		if errors.IsNotFound(err) {
			// Job objects can lag creation visibility; retry rather than fail.
			logger.Info("batch job not visible yet, retrying", "job", status.JobName)
			return ctrl.Result{RequeueAfter: PollInterval}, nil
		}
		return ctrl.Result{}, fmt.Errorf("reading batch job: %w", err)
	}

	switch {
	case batchJob.Status.Succeeded > 0:
		return ctrl.Result{}, m.finalize(ctx, job, adapter, &batchJob, odoov1alpha1.PhaseCompleted, "")
	case batchJob.Status.Failed > 0:
		msg := fmt.Sprintf("job %s failed", batchJob.Name)
		return ctrl.Result{}, m.finalize(ctx, job, adapter, &batchJob, odoov1alpha1.PhaseFailed, msg)
	default:
		// Still in flight.
		return ctrl.Result{RequeueAfter: PollInterval}, nil
	}
}

// finalize persists the terminal phase, then runs the completion hook and
// webhook notification. Hook and notification failures never reopen the
// phase.
func (m *Machine) finalize(
	ctx context.Context,
	job JobResource,
	adapter Adapter,
	batchJob *batchv1.Job,
	phase odoov1alpha1.Phase,
	message string,
) error {
	logger := log.FromContext(ctx)

	completion := batchJob.Status.CompletionTime
	if completion == nil {
		now := metav1.Now()
		completion = &now
	}
	if err := PatchStatus(ctx, m.Client, job, StatusPatch{
		Phase:          phase,
		CompletionTime: completion,
		Message:        message,
	}); err != nil {
		return err
	}

	// The completion hook runs on success and on failure alike: releasing
	// exclusivity (scale restore) matters most when the job failed.
	instance, err := m.instanceFor(ctx, job)
	if err != nil && !errors.IsNotFound(err) {
		logger.Error(err, "failed to re-read instance for completion hook")
		instance = nil
	}
	if err := adapter.OnTerminal(ctx, instance, phase); err != nil {
		logger.Error(err, "completion hook failed", "phase", phase)
	}

	var instanceHook *odoov1alpha1.WebhookConfig
	if instance != nil {
		instanceHook = instance.Spec.Webhook
	}
	m.Notifier.Notify(ctx, job.GetNamespace(), resolver.WebhookFor(job.WebhookSpec(), instanceHook), notify.Payload{
		Phase:          phase,
		JobName:        job.JobStatus().JobName,
		Message:        message,
		CompletionTime: completion,
	})

	monitoring.RecordJobCompletion(m.Kind, string(phase), jobDuration(job.JobStatus()))
	logger.Info("job reached terminal phase", "kind", m.Kind, "phase", phase)
	return nil
}

// failBeforeSubmit records a terminal failure for work that never produced a
// batch Job (missing instance, busy conflict, unbuildable job body).
func (m *Machine) failBeforeSubmit(ctx context.Context, job JobResource, message string) error {
	log.FromContext(ctx).Info("job failed before submission", "kind", m.Kind, "reason", message)
	if err := PatchStatus(ctx, m.Client, job, StatusPatch{
		Phase:   odoov1alpha1.PhaseFailed,
		Message: message,
	}); err != nil {
		return err
	}
	monitoring.RecordJobCompletion(m.Kind, string(odoov1alpha1.PhaseFailed), 0)
	return nil
}

// instanceFor fetches the referenced OdooInstance, defaulting the namespace
// to the job's own.
func (m *Machine) instanceFor(ctx context.Context, job JobResource) (*odoov1alpha1.OdooInstance, error) {
	ref := job.InstanceRef()
	namespace := ref.Namespace
	if namespace == "" {
		namespace = job.GetNamespace()
	}

	var instance odoov1alpha1.OdooInstance
	if err := m.Client.Get(ctx, types.NamespacedName{Name: ref.Name, Namespace: namespace}, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

func jobDuration(status *odoov1alpha1.JobStatus) time.Duration {
	if status.StartTime == nil || status.CompletionTime == nil {
		return 0
	}
	return status.CompletionTime.Sub(status.StartTime.Time)
}
