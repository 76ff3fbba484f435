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

// OdooInitJobSpec defines the desired state of OdooInitJob.
type OdooInitJobSpec struct {
	// OdooInstanceRef identifies the OdooInstance to initialize.
	// +kubebuilder:validation:Required
	OdooInstanceRef OdooInstanceRef `json:"odooInstanceRef"`

	// Modules to install during initialization. Defaults to ["base"].
	// +optional
	// +kubebuilder:default={"base"}
	Modules []string `json:"modules,omitempty"`

	// Webhook is an optional callback invoked when the job completes or
	// fails.
	// +optional
	Webhook *WebhookConfig `json:"webhook,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=initjob
// +kubebuilder:printcolumn:name="Target",type=string,JSONPath=`.spec.odooInstanceRef.name`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// OdooInitJob runs a one-shot database initialisation job against an
// OdooInstance. Initialisation requires exclusive database access: the
// instance Deployment is scaled to zero for the duration of the job and
// scaled back up afterwards.
type OdooInitJob struct {
	metav1.TypeMeta `json:",inline"`

	// +optional
	metav1.ObjectMeta `json:"metadata,omitzero"`

	// +required
	Spec OdooInitJobSpec `json:"spec"`

	// +optional
	Status JobStatus `json:"status,omitzero"`
}

// +kubebuilder:object:root=true

// OdooInitJobList contains a list of OdooInitJob.
type OdooInitJobList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitzero"`
	Items           []OdooInitJob `json:"items"`
}

func init() {
	SchemeBuilder.Register(&OdooInitJob{}, &OdooInitJobList{})
}
