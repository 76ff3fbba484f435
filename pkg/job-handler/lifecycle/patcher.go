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
	"encoding/json"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
)

// StatusPatch is a partial update to a job resource's status subresource.
// Zero-valued fields are omitted from the patch body rather than written as
// nulls, so callers only ever touch the fields they supply.
type StatusPatch struct {
	Phase          odoov1alpha1.Phase `json:"phase,omitempty"`
	JobName        string             `json:"jobName,omitempty"`
	StartTime      *metav1.Time       `json:"startTime,omitempty"`
	CompletionTime *metav1.Time       `json:"completionTime,omitempty"`
	Message        string             `json:"message,omitempty"`
}

// PatchStatus applies the partial patch to obj's status subresource using a
// merge patch, then mirrors the supplied fields into the in-memory status so
// the caller observes what was persisted.
func PatchStatus(ctx context.Context, c client.Client, obj JobResource, p StatusPatch) error {
	body, err := json.Marshal(map[string]StatusPatch{"status": p})
	if err != nil {
		return fmt.Errorf("encoding status patch: %w", err)
	}
	if err := c.Status().Patch(ctx, obj, client.RawPatch(types.MergePatchType, body)); err != nil {
		return fmt.Errorf("patching status: %w", err)
	}

	status := obj.JobStatus()
	if p.Phase != "" {
		status.Phase = p.Phase
	}
	if p.JobName != "" {
		status.JobName = p.JobName
	}
	if p.StartTime != nil {
		status.StartTime = p.StartTime
	}
	if p.CompletionTime != nil {
		status.CompletionTime = p.CompletionTime
	}
	if p.Message != "" {
		status.Message = p.Message
	}
	return nil
}
