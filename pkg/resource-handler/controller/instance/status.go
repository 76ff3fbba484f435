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

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
)

// observed is the snapshot of child state one reconcile derives the phase
// from.
type observed struct {
	deploymentFound bool
	readyReplicas   int32
	initJobs        []odoov1alpha1.OdooInitJob
	restoreJobs     []odoov1alpha1.OdooRestoreJob
}

// derivePhase maps observed child state to the coarse instance phase.
// Ordering matters: an intentional stop wins over everything, an active
// restore over replica counting, and initialization state over readiness.
func derivePhase(instance *odoov1alpha1.OdooInstance, obs observed) (odoov1alpha1.OdooInstancePhase, string) {
	if instance.Spec.Replicas == 0 {
		return odoov1alpha1.OdooInstancePhaseStopped, ""
	}

	switch latestJobPhase(restorePhases(obs.restoreJobs)) {
	case odoov1alpha1.PhasePending, odoov1alpha1.PhaseRunning:
		return odoov1alpha1.OdooInstancePhaseRestoring, ""
	case odoov1alpha1.PhaseFailed:
		return odoov1alpha1.OdooInstancePhaseRestoreFailed, "last restore failed"
	}

	if !instance.Status.DBInitialized {
		switch latestJobPhase(initPhases(obs.initJobs)) {
		case odoov1alpha1.PhasePending, odoov1alpha1.PhaseRunning:
			return odoov1alpha1.OdooInstancePhaseInitializing, ""
		case odoov1alpha1.PhaseFailed:
			return odoov1alpha1.OdooInstancePhaseInitFailed, "database initialization failed"
		default:
			return odoov1alpha1.OdooInstancePhaseUninitialized, "database not initialized"
		}
	}

	switch {
	case obs.readyReplicas == 0:
		return odoov1alpha1.OdooInstancePhaseStarting, ""
	case obs.readyReplicas < instance.Spec.Replicas:
		return odoov1alpha1.OdooInstancePhaseDegraded,
			fmt.Sprintf("%d/%d replicas ready", obs.readyReplicas, instance.Spec.Replicas)
	default:
		return odoov1alpha1.OdooInstancePhaseRunning, ""
	}
}

type stampedPhase struct {
	created metav1.Time
	phase   odoov1alpha1.Phase
}

func initPhases(jobs []odoov1alpha1.OdooInitJob) []stampedPhase {
	out := make([]stampedPhase, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, stampedPhase{created: j.CreationTimestamp, phase: j.Status.Phase})
	}
	return out
}

func restorePhases(jobs []odoov1alpha1.OdooRestoreJob) []stampedPhase {
	out := make([]stampedPhase, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, stampedPhase{created: j.CreationTimestamp, phase: j.Status.Phase})
	}
	return out
}

// latestJobPhase returns the phase of the most recently created job, or ""
// when there are none. Older failures do not mask a newer attempt.
func latestJobPhase(phases []stampedPhase) odoov1alpha1.Phase {
	var latest *stampedPhase
	for i := range phases {
		if latest == nil || phases[i].created.After(latest.created.Time) {
			latest = &phases[i]
		}
	}
	if latest == nil {
		return ""
	}
	return latest.phase
}

// readyCondition summarizes workload readiness, including the scale-target
// gap: a missing Deployment surfaces here rather than failing the reconcile.
func readyCondition(instance *odoov1alpha1.OdooInstance, obs observed) metav1.Condition {
	cond := metav1.Condition{
		Type:               "Ready",
		ObservedGeneration: instance.Generation,
	}
	switch {
	case !obs.deploymentFound:
		cond.Status = metav1.ConditionFalse
		cond.Reason = "DeploymentMissing"
		cond.Message = "odoo deployment does not exist"
	case instance.Spec.Replicas > 0 && obs.readyReplicas >= instance.Spec.Replicas:
		cond.Status = metav1.ConditionTrue
		cond.Reason = "AllReplicasReady"
	default:
		cond.Status = metav1.ConditionFalse
		cond.Reason = "WorkloadUnready"
		cond.Message = fmt.Sprintf("%d/%d replicas ready", obs.readyReplicas, instance.Spec.Replicas)
	}
	return cond
}

// instanceURL derives the externally reachable address from the first
// ingress host. TLS is assumed when a cert-manager issuer is configured.
func instanceURL(instance *odoov1alpha1.OdooInstance) string {
	hosts := instance.Spec.Ingress.Hosts
	if len(hosts) == 0 {
		return ""
	}
	scheme := "http"
	if instance.Spec.Ingress.Issuer != "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, hosts[0])
}

// applyObserved folds the snapshot into the instance status in place.
func applyObserved(instance *odoov1alpha1.OdooInstance, obs observed) {
	phase, message := derivePhase(instance, obs)

	instance.Status.Phase = phase
	instance.Status.Message = message
	instance.Status.ReadyReplicas = obs.readyReplicas
	instance.Status.Ready = instance.Spec.Replicas > 0 && obs.readyReplicas >= instance.Spec.Replicas
	instance.Status.URL = instanceURL(instance)
	instance.Status.ObservedGeneration = instance.Generation
	meta.SetStatusCondition(&instance.Status.Conditions, readyCondition(instance, obs))
}
