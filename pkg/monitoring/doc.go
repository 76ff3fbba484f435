// Package monitoring provides Prometheus metrics and recording helpers for
// the Odoo Operator. It exposes domain-specific gauges and counters that
// complement the generic controller-runtime metrics already registered by
// the framework.
//
// All metrics carry the odoo_operator_ prefix and are registered against
// controller-runtime's default Prometheus registry on import.
//
// Usage in controllers:
//
//	monitoring.SetInstanceInfo(instance.Name, instance.Namespace, string(instance.Status.Phase))
//	monitoring.SetInstanceReplicas(instance.Name, instance.Namespace, desired, ready)
//	monitoring.RecordJobCompletion("OdooInitJob", string(phase), elapsed)
package monitoring
