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

// OdooBackupJobSpec defines the desired state of OdooBackupJob.
type OdooBackupJobSpec struct {
	// OdooInstanceRef identifies the OdooInstance to back up.
	// +kubebuilder:validation:Required
	OdooInstanceRef OdooInstanceRef `json:"odooInstanceRef"`

	// Destination locates the backup artifact in an object store. When the
	// destination carries no credentials reference, the job runs without
	// object-store credentials and the artifact stays local to the job pod.
	// +kubebuilder:validation:Required
	Destination S3Destination `json:"destination"`

	// Format of the backup artifact. Defaults to zip.
	// +optional
	// +kubebuilder:default=zip
	Format BackupFormat `json:"format,omitempty"`

	// WithFilestore includes the filestore in the backup.
	// +optional
	// +kubebuilder:default=true
	WithFilestore *bool `json:"withFilestore,omitempty"`

	// Webhook is an optional callback invoked when the job completes or
	// fails.
	// +optional
	Webhook *WebhookConfig `json:"webhook,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=backupjob
// +kubebuilder:printcolumn:name="Target",type=string,JSONPath=`.spec.odooInstanceRef.name`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// OdooBackupJob dumps an OdooInstance database (and optionally its
// filestore) and uploads the artifact to an S3-compatible object store.
// Backups run alongside the live instance; no scale-down is performed.
type OdooBackupJob struct {
	metav1.TypeMeta `json:",inline"`

	// +optional
	metav1.ObjectMeta `json:"metadata,omitzero"`

	// +required
	Spec OdooBackupJobSpec `json:"spec"`

	// +optional
	Status JobStatus `json:"status,omitzero"`
}

// +kubebuilder:object:root=true

// OdooBackupJobList contains a list of OdooBackupJob.
type OdooBackupJobList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitzero"`
	Items           []OdooBackupJob `json:"items"`
}

func init() {
	SchemeBuilder.Register(&OdooBackupJob{}, &OdooBackupJobList{})
}
