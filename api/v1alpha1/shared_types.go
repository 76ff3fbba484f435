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
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ============================================================================
// Shared Configuration Structs
// ============================================================================
//
// These structs are used across the job resources (Init, Backup, Restore) to
// keep the reference, webhook, and status shapes identical. The job lifecycle
// machinery in pkg/job-handler relies on that uniformity.

// OdooInstanceRef is a reference to an OdooInstance resource.
type OdooInstanceRef struct {
	// Name of the OdooInstance.
	// +kubebuilder:validation:Required
	Name string `json:"name"`

	// Namespace of the OdooInstance. Defaults to the same namespace as the
	// referencing resource.
	// +optional
	Namespace string `json:"namespace,omitempty"`
}

// WebhookConfig defines an optional callback fired when a job resource
// reaches a terminal phase. Notification is best-effort: delivery failures
// are logged and never block or retry the job itself.
type WebhookConfig struct {
	// URL to POST status updates to.
	// +kubebuilder:validation:Required
	URL string `json:"url"`

	// Token is a bearer token included in the Authorization header.
	// Takes precedence over TokenSecretRef when both are set.
	// +optional
	Token string `json:"token,omitempty"`

	// TokenSecretRef references a Secret key containing the bearer token, as
	// an alternative to specifying it inline.
	// +optional
	TokenSecretRef *corev1.SecretKeySelector `json:"tokenSecretRef,omitempty"`
}

// BackupFormat specifies the format of a backup artifact.
// +kubebuilder:validation:Enum=zip;sql;dump
type BackupFormat string

const (
	// BackupFormatZip creates an Odoo-format zip archive including the filestore.
	BackupFormatZip BackupFormat = "zip"
	// BackupFormatSQL creates a plain-text SQL dump via pg_dump.
	BackupFormatSQL BackupFormat = "sql"
	// BackupFormatDump creates a PostgreSQL custom-format dump via pg_dump.
	BackupFormatDump BackupFormat = "dump"
)

// S3Destination holds connection details for an S3-compatible object store.
type S3Destination struct {
	// Bucket is the S3 bucket name.
	Bucket string `json:"bucket"`

	// ObjectKey is the object key (path) within the bucket.
	ObjectKey string `json:"objectKey"`

	// Endpoint is the S3-compatible endpoint URL (e.g. "https://s3.example.com").
	// +optional
	Endpoint string `json:"endpoint,omitempty"`

	// Region is the optional S3 region.
	// +optional
	Region string `json:"region,omitempty"`

	// Insecure disables TLS certificate verification.
	// +optional
	// +kubebuilder:default=false
	Insecure bool `json:"insecure,omitempty"`

	// CredentialsSecretRef references a Secret with accessKey and secretKey
	// fields. When absent the job runs without object-store credentials.
	// +optional
	CredentialsSecretRef *corev1.SecretReference `json:"credentialsSecretRef,omitempty"`
}

// Phase represents the lifecycle state of a job resource.
//
// Phases advance monotonically Pending -> Running -> Completed or Failed.
// Completed and Failed are terminal: a job resource in a terminal phase is
// never re-processed.
// +kubebuilder:validation:Enum=Pending;Running;Completed;Failed
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseCompleted Phase = "Completed"
	PhaseFailed    Phase = "Failed"
)

// Terminal reports whether the phase admits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// JobStatus is the shared observed state of the one-shot job resources.
type JobStatus struct {
	// Phase is the current lifecycle phase.
	// +optional
	Phase Phase `json:"phase,omitempty"`

	// JobName is the name of the Kubernetes Job performing the work.
	// +optional
	JobName string `json:"jobName,omitempty"`

	// StartTime is when the underlying Job was submitted.
	// +optional
	StartTime *metav1.Time `json:"startTime,omitempty"`

	// CompletionTime is when the Job reached a terminal state.
	// +optional
	CompletionTime *metav1.Time `json:"completionTime,omitempty"`

	// Message is a human-readable description of the current status,
	// set on failure.
	// +optional
	Message string `json:"message,omitempty"`

	// Conditions represent the detailed state of this resource using
	// standard Kubernetes condition conventions.
	// +listType=map
	// +listMapKey=type
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}
