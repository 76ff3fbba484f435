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

// Package resolver computes the effective configuration of an OdooInstance.
//
// An OdooInstance spec leaves most fields optional. The resolver is the one
// place where defaults are applied and derived values (database name, role
// name, filestore sizing, addon sync settings) are calculated, so the
// controllers and the job builders always agree on the final configuration.
// Controllers never read optional spec fields directly; they resolve first
// and work with the fully populated view.
//
// Precedence, highest to lowest:
//
//  1. Explicit spec fields on the OdooInstance.
//  2. Operator-level defaults (hardcoded constants below).
//
// The backing PostgreSQL endpoint is not part of the instance spec: it comes
// from the operator-namespace "postgres-clusters" Secret, resolved by
// LoadPostgresCluster.
package resolver
