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

// Package v1alpha1 defines the API types for the Odoo Operator.
//
// This package contains the Go type definitions for all Custom Resources in
// the stackforge.io API group. These types are used by kubebuilder to
// generate:
//   - CustomResourceDefinitions (CRDs)
//   - DeepCopy methods
//   - Client code
//
// # Custom Resources
//
// User-Facing Resources:
//   - OdooInstance: The root resource describing a complete Odoo deployment.
//     Users define the image, replica count, storage, ingress hosts, and
//     database configuration here.
//
// One-Shot Job Resources (each drives a batch/v1 Job through a small
// Pending -> Running -> Completed/Failed state machine):
//   - OdooInitJob: initialises the instance database, installing a module list.
//   - OdooBackupJob: dumps the database (and optionally the filestore) and
//     uploads the artifact to an S3-compatible object store.
//   - OdooRestoreJob: restores a dump into the instance database.
//
// All job resources share the same status shape (JobStatus) and may carry an
// optional webhook callback fired when they reach a terminal phase.
package v1alpha1
