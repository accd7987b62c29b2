package ports

import "time"

// SchedulerService drives the periodic settlement reconciliation.
type SchedulerService interface {
	Start()
	Stop()
	ScheduleReconciliation(interval time.Duration, reconcileFunc func()) error
	ScheduleNextReconciliation(at time.Time, reconcileFunc func()) error
	WhenNextReconciliation() time.Time
	CancelNextReconciliation()
}
