package monitoring

import "time"

// SetInstanceInfo sets the info-style gauge for an OdooInstance.
// Old phase labels are automatically cleaned up via DeletePartialMatch.
func SetInstanceInfo(name, namespace, phase string) {
	instanceInfo.DeletePartialMatch(map[string]string{
		"name":      name,
		"namespace": namespace,
	})
	instanceInfo.WithLabelValues(name, namespace, phase).Set(1)
}

// SetInstanceReplicas sets the desired and ready replica gauges for an instance.
func SetInstanceReplicas(name, namespace string, desired, ready int32) {
	instanceReplicas.WithLabelValues(name, namespace, "desired").Set(float64(desired))
	instanceReplicas.WithLabelValues(name, namespace, "ready").Set(float64(ready))
}

// DeleteInstanceMetrics drops all gauges for a deleted instance so stale
// series do not linger in the scrape output.
func DeleteInstanceMetrics(name, namespace string) {
	labels := map[string]string{"name": name, "namespace": namespace}
	instanceInfo.DeletePartialMatch(labels)
	instanceReplicas.DeletePartialMatch(labels)
}

// RecordJobCompletion records a lifecycle job reaching a terminal phase.
// duration is the time from submission to terminal transition; zero means
// the job failed before submission and no duration sample is recorded.
func RecordJobCompletion(kind, phase string, duration time.Duration) {
	jobCompletionTotal.WithLabelValues(kind, phase).Inc()
	if duration > 0 {
		jobDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// RecordScaleOperation records a replica scale action around an exclusive job.
func RecordScaleOperation(direction string, err error) {
	scaleOperationTotal.WithLabelValues(direction, result(err)).Inc()
}

// RecordWebhookNotification records an outbound webhook notification attempt.
func RecordWebhookNotification(err error) {
	webhookNotifyTotal.WithLabelValues(result(err)).Inc()
}

// RecordDatabaseOperation records a PostgreSQL provisioning action.
func RecordDatabaseOperation(operation string, err error) {
	databaseOperationTotal.WithLabelValues(operation, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
