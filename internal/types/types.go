// Package types provides common type definitions shared across the market sync system.
package types

// PageStatus is the outcome of a single conditional page fetch
type PageStatus string

const (
	// PageUnchanged means the upstream answered 304 for the stored validator
	PageUnchanged PageStatus = "unchanged"
	// PageUpdated means the upstream returned fresh rows
	PageUpdated PageStatus = "updated"
	// PageFailed means the request errored or returned an unexpected status
	PageFailed PageStatus = "failed"
)

// JobKind identifies what a queued job does
type JobKind string

const (
	// JobOrders runs one differential order sync for a region
	JobOrders JobKind = "orders"
	// JobHistory runs the history updater for a region
	JobHistory JobKind = "history"
)

// Valid reports whether k is a known job kind
func (k JobKind) Valid() bool {
	return k == JobOrders || k == JobHistory
}

// RouteStatus describes the outcome of a trade-route discovery request
type RouteStatus string

const (
	RouteOK              RouteStatus = "ok"
	RouteSystemNotFound  RouteStatus = "system_not_found"
	RouteNoSellOrders    RouteStatus = "no_sell_orders"
	RouteNoOpportunities RouteStatus = "no_opportunities"
)

// SyncPhase is a state of the differential sync state machine
type SyncPhase string

const (
	PhaseIdle        SyncPhase = "idle"
	PhaseFetching    SyncPhase = "fetching"
	PhaseReconciling SyncPhase = "reconciling"
	PhaseDone        SyncPhase = "done"
	PhaseFailed      SyncPhase = "failed"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
