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
// OdooInstance Spec (User-editable API)
// ============================================================================

// OdooInstanceSpec defines the desired state of OdooInstance.
type OdooInstanceSpec struct {
	// Image is the Odoo container image. When empty the operator default
	// applies.
	// +optional
	Image string `json:"image,omitempty"`

	// ImagePullSecret names a dockerconfigjson Secret in the operator
	// namespace, copied into the instance namespace for pulling the image.
	// +optional
	ImagePullSecret string `json:"imagePullSecret,omitempty"`

	// Replicas is the desired number of Odoo pods. Zero stops the instance.
	// +kubebuilder:validation:Minimum=0
	// +kubebuilder:default=1
	// +optional
	Replicas int32 `json:"replicas"`

	// Workers is the number of Odoo worker processes per pod.
	// +kubebuilder:validation:Minimum=0
	// +kubebuilder:default=4
	// +optional
	Workers int32 `json:"workers,omitempty"`

	// AdminPassword is the Odoo master password (admin_passwd).
	// +optional
	AdminPassword string `json:"adminPassword,omitempty"`

	// ConfigOptions are extra key/value pairs merged into odoo.conf,
	// overriding operator-managed defaults on key collision.
	// +optional
	ConfigOptions map[string]string `json:"configOptions,omitempty"`

	// Database selects the PostgreSQL cluster backing this instance.
	// +optional
	Database *DatabaseSpec `json:"database,omitempty"`

	// Filestore configures the persistent volume backing /var/lib/odoo.
	// +optional
	Filestore *FilestoreSpec `json:"filestore,omitempty"`

	// Ingress configures external access.
	// +optional
	Ingress IngressSpec `json:"ingress,omitzero"`

	// Addons lists git repositories synced into the pod as extra addon paths.
	// +optional
	Addons []AddonSpec `json:"addons,omitempty"`

	// Initialization declares how the database is first populated.
	// +optional
	Initialization *InitializationSpec `json:"initialization,omitempty"`

	// Restore is an explicit restore directive. Usually written by the
	// operator itself when Initialization.Mode is "restore"; may also be set
	// directly.
	// +optional
	Restore *RestoreSpec `json:"restore,omitempty"`

	// Resources defines compute resource requirements for the Odoo container.
	// +optional
	Resources *corev1.ResourceRequirements `json:"resources,omitempty"`

	// Webhook is an optional callback invoked when lifecycle jobs targeting
	// this instance complete, unless the job overrides it.
	// +optional
	Webhook *WebhookConfig `json:"webhook,omitempty"`
}

// DatabaseSpec selects the backing PostgreSQL cluster.
type DatabaseSpec struct {
	// Cluster names an entry in the operator's postgres-clusters Secret.
	// When empty, the cluster marked as default is used.
	// +optional
	Cluster string `json:"cluster,omitempty"`
}

// FilestoreSpec configures the filestore PVC.
type FilestoreSpec struct {
	// StorageSize is the requested volume size (e.g. "10Gi").
	// +optional
	StorageSize string `json:"storageSize,omitempty"`

	// StorageClass is the StorageClass name for the volume.
	// +optional
	StorageClass string `json:"storageClass,omitempty"`
}

// IngressSpec configures external HTTP access.
type IngressSpec struct {
	// Hosts are the DNS names routed to this instance.
	// +optional
	Hosts []string `json:"hosts,omitempty"`

	// Class is the IngressClass name.
	// +optional
	Class *string `json:"class,omitempty"`

	// Issuer is the cert-manager cluster issuer annotated on the Ingress.
	// +optional
	Issuer string `json:"issuer,omitempty"`
}

// AddonSpec describes one git repository synced as an Odoo addons directory.
type AddonSpec struct {
	// Name identifies the addon mount directory under /mnt/addons.
	// +kubebuilder:validation:Required
	Name string `json:"name"`

	// Repo is the git repository URL.
	// +kubebuilder:validation:Required
	Repo string `json:"repo"`

	// Branch is the git ref to sync. Defaults to the repository default.
	// +optional
	Branch string `json:"branch,omitempty"`

	// SSHSecretRef references a Secret holding an SSH key for private repos.
	// +optional
	SSHSecretRef *corev1.LocalObjectReference `json:"sshSecretRef,omitempty"`

	// SyncPeriod is the git-sync poll interval (e.g. "60s").
	// +optional
	SyncPeriod string `json:"syncPeriod,omitempty"`
}

// InitializationMode selects how a fresh instance database is populated.
// +kubebuilder:validation:Enum=fresh;restore
type InitializationMode string

const (
	// InitializationFresh creates an empty database (default).
	InitializationFresh InitializationMode = "fresh"
	// InitializationRestore seeds the database from an existing backup. The
	// operator converts this declaration into an explicit spec.restore
	// directive exactly once.
	InitializationRestore InitializationMode = "restore"
)

// InitializationSpec declares how the database is first populated.
type InitializationSpec struct {
	// Mode is the initialization strategy.
	// +kubebuilder:default=fresh
	// +optional
	Mode InitializationMode `json:"mode,omitempty"`

	// Restore holds the restore source when Mode is "restore".
	// +optional
	Restore *RestoreSource `json:"restore,omitempty"`
}

// RestoreSource describes where a restorable dump comes from.
type RestoreSource struct {
	// URL of a source Odoo instance to pull a backup from via the database
	// manager endpoint. Mutually exclusive with S3.
	// +optional
	URL string `json:"url,omitempty"`

	// SourceDatabase is the database name on the source instance.
	// +optional
	SourceDatabase string `json:"sourceDatabase,omitempty"`

	// MasterPassword authenticates against the source database manager.
	// +optional
	MasterPassword string `json:"masterPassword,omitempty"`

	// S3 locates an existing dump in an object store. Mutually exclusive
	// with URL.
	// +optional
	S3 *S3Destination `json:"s3,omitempty"`

	// WithFilestore restores the filestore alongside the database.
	// +kubebuilder:default=true
	// +optional
	WithFilestore *bool `json:"withFilestore,omitempty"`

	// Neutralize disables outgoing mail, crons, and payment providers on the
	// restored database.
	// +kubebuilder:default=true
	// +optional
	Neutralize *bool `json:"neutralize,omitempty"`
}

// RestoreSpec is the explicit restore directive consumed by the RestoreJob
// controller. It mirrors RestoreSource with the target database resolved.
type RestoreSpec struct {
	// Enabled gates the restore.
	// +optional
	Enabled bool `json:"enabled,omitempty"`

	// Source describes where the dump comes from.
	Source RestoreSource `json:"source"`

	// TargetDatabase is the database name the dump is restored into.
	// +optional
	TargetDatabase string `json:"targetDatabase,omitempty"`
}

// ============================================================================
// OdooInstance Status
// ============================================================================

// OdooInstancePhase is the coarse observed state of an OdooInstance.
// +kubebuilder:validation:Enum=Uninitialized;Initializing;InitFailed;Starting;Running;Degraded;Stopped;Restoring;RestoreFailed;Upgrading;UpgradeFailed;Error
type OdooInstancePhase string

const (
	OdooInstancePhaseUninitialized OdooInstancePhase = "Uninitialized"
	OdooInstancePhaseInitializing  OdooInstancePhase = "Initializing"
	OdooInstancePhaseInitFailed    OdooInstancePhase = "InitFailed"
	OdooInstancePhaseStarting      OdooInstancePhase = "Starting"
	OdooInstancePhaseRunning       OdooInstancePhase = "Running"
	OdooInstancePhaseDegraded      OdooInstancePhase = "Degraded"
	OdooInstancePhaseStopped       OdooInstancePhase = "Stopped"
	OdooInstancePhaseRestoring     OdooInstancePhase = "Restoring"
	OdooInstancePhaseRestoreFailed OdooInstancePhase = "RestoreFailed"
	OdooInstancePhaseUpgrading     OdooInstancePhase = "Upgrading"
	OdooInstancePhaseUpgradeFailed OdooInstancePhase = "UpgradeFailed"
	OdooInstancePhaseError         OdooInstancePhase = "Error"
)

// Busy reports whether the instance is mid-exclusive-operation and must not
// accept another exclusive job.
func (p OdooInstancePhase) Busy() bool {
	switch p {
	case OdooInstancePhaseInitializing, OdooInstancePhaseRestoring, OdooInstancePhaseUpgrading:
		return true
	}
	return false
}

// OdooInstanceStatus defines the observed state of OdooInstance.
type OdooInstanceStatus struct {
	// Phase is the coarse lifecycle state, derived from child resources.
	// +optional
	Phase OdooInstancePhase `json:"phase,omitempty"`

	// Message explains the current phase when it is an error state.
	// +optional
	Message string `json:"message,omitempty"`

	// ReadyReplicas is the number of ready Odoo pods.
	// +optional
	ReadyReplicas int32 `json:"readyReplicas,omitempty"`

	// Ready is true when all desired replicas are ready.
	// +optional
	Ready bool `json:"ready,omitempty"`

	// DBInitialized is set once an init job or restore has completed.
	// +optional
	DBInitialized bool `json:"dbInitialized,omitempty"`

	// DatabaseProvisioned is set once the PostgreSQL role and database exist.
	// +optional
	DatabaseProvisioned bool `json:"databaseProvisioned,omitempty"`

	// URL is the externally reachable address derived from the first
	// ingress host.
	// +optional
	URL string `json:"url,omitempty"`

	// ObservedGeneration is the spec generation last acted upon.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// Conditions represent the detailed state of this resource.
	// +listType=map
	// +listMapKey=type
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=odoo
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Ready",type=boolean,JSONPath=`.status.ready`
// +kubebuilder:printcolumn:name="URL",type=string,JSONPath=`.status.url`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// OdooInstance describes a complete managed Odoo deployment.
type OdooInstance struct {
	metav1.TypeMeta `json:",inline"`

	// +optional
	metav1.ObjectMeta `json:"metadata,omitzero"`

	// +required
	Spec OdooInstanceSpec `json:"spec"`

	// +optional
	Status OdooInstanceStatus `json:"status,omitzero"`
}

// +kubebuilder:object:root=true

// OdooInstanceList contains a list of OdooInstance.
type OdooInstanceList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitzero"`
	Items           []OdooInstance `json:"items"`
}

func init() {
	SchemeBuilder.Register(&OdooInstance{}, &OdooInstanceList{})
}
