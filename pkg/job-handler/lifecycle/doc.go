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

// Package lifecycle drives the one-shot job resources (OdooInitJob,
// OdooBackupJob, OdooRestoreJob) through their shared state machine:
//
//	Pending -> Running -> Completed | Failed
//
// A Machine owns the generic transitions; per-kind behavior (the batch Job
// body, pre-submission side effects like scaling the workload down, and the
// terminal completion hook) is supplied through an Adapter.
//
// Phases advance monotonically. A resource already in a terminal phase is
// skipped by every entry point, which makes blind re-delivery of events safe
// and removes any need for cancellation. Webhook notification happens only
// after the terminal phase has been durably persisted.
package lifecycle
