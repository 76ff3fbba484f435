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

// Package resource defines the handler contract shared by every managed
// child resource and the existence guards that dispatch between the create
// and update paths.
//
// A Handler knows how to read the live state of one resource, create it, and
// converge an existing copy toward the desired state. The guards
// (CreateIfMissing, UpdateIfExists) perform the existence check exactly once
// per invocation and pick the correct path, so callers can invoke either
// entry point regardless of the actual cluster state:
//
//	h := NewDeploymentHandler(c, instance)
//	if err := resource.CreateIfMissing(ctx, h); err != nil { ... }
//
// A NotFound error from Fetch means "absent" and selects the create path.
// Every other Fetch error propagates unchanged; the guards never guess.
//
// Deletion is intentionally absent from the guards: child resources carry
// owner references and are garbage-collected with their parent. The only
// explicit teardown path in this operator lives in pkg/database, where no
// owner reference is possible.
package resource
