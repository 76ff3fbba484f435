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

// Package database provisions per-instance PostgreSQL roles and databases.
//
// Kubernetes owner references cannot reach inside a Postgres server, so this
// is the one place in the operator where explicit deletion happens: the
// instance controller drops the role and database from its finalizer.
package database
