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

// Uniform accessors across the three one-shot job resources. The job
// lifecycle machinery drives OdooInitJob, OdooBackupJob, and OdooRestoreJob
// through the same state machine and only touches them through these.

// JobStatus returns the shared status block.
func (j *OdooInitJob) JobStatus() *JobStatus { return &j.Status }

// InstanceRef returns the reference to the owning OdooInstance.
func (j *OdooInitJob) InstanceRef() OdooInstanceRef { return j.Spec.OdooInstanceRef }

// WebhookSpec returns the job-level webhook override, if any.
func (j *OdooInitJob) WebhookSpec() *WebhookConfig { return j.Spec.Webhook }

// JobStatus returns the shared status block.
func (j *OdooBackupJob) JobStatus() *JobStatus { return &j.Status }

// InstanceRef returns the reference to the owning OdooInstance.
func (j *OdooBackupJob) InstanceRef() OdooInstanceRef { return j.Spec.OdooInstanceRef }

// WebhookSpec returns the job-level webhook override, if any.
func (j *OdooBackupJob) WebhookSpec() *WebhookConfig { return j.Spec.Webhook }

// JobStatus returns the shared status block.
func (j *OdooRestoreJob) JobStatus() *JobStatus { return &j.Status }

// InstanceRef returns the reference to the owning OdooInstance.
func (j *OdooRestoreJob) InstanceRef() OdooInstanceRef { return j.Spec.OdooInstanceRef }

// WebhookSpec returns the job-level webhook override, if any.
func (j *OdooRestoreJob) WebhookSpec() *WebhookConfig { return j.Spec.Webhook }
