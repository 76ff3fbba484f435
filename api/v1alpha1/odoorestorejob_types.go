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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// OdooRestoreJobSpec defines the desired state of OdooRestoreJob.
type OdooRestoreJobSpec struct {
	// OdooInstanceRef identifies the OdooInstance to restore into.
	// +kubebuilder:validation:Required
	OdooInstanceRef OdooInstanceRef `json:"odooInstanceRef"`

	// Source describes where the dump comes from.
	// +kubebuilder:validation:Required
	Source RestoreSource `json:"source"`

	// Webhook is an optional callback invoked when the job completes or
	// fails.
	// +optional
	Webhook *WebhookConfig `json:"webhook,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=restorejob
// +kubebuilder:printcolumn:name="Target",type=string,JSONPath=`.spec.odooInstanceRef.name`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// OdooRestoreJob restores a database dump into an OdooInstance. Restores
// require exclusive database access and scale the instance down like an
// init job.
type OdooRestoreJob struct {
	metav1.TypeMeta `json:",inline"`

	// +optional
	metav1.ObjectMeta `json:"metadata,omitzero"`

	// +required
	Spec OdooRestoreJobSpec `json:"spec"`

	// +optional
	Status JobStatus `json:"status,omitzero"`
}

// +kubebuilder:object:root=true

// OdooRestoreJobList contains a list of OdooRestoreJob.
type OdooRestoreJobList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitzero"`
	Items           []OdooRestoreJob `json:"items"`
}

func init() {
	SchemeBuilder.Register(&OdooRestoreJob{}, &OdooRestoreJobList{})
}
