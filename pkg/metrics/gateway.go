package metrics

import "time"

// GatewayMetrics observes the session gateway: connection lifecycle,
// event dispatch, and admission control. Pass nil to disable.
type GatewayMetrics interface {
	// RecordConnectionOpened increments the accepted-connections counter.
	RecordConnectionOpened()

	// RecordConnectionClosed increments the closed-connections counter.
	RecordConnectionClosed()

	// SetActiveConnections updates the live connection gauge.
	SetActiveConnections(count int)

	// RecordEvent records one dispatched client event with its outcome.
	// errorCode is empty on success.
	RecordEvent(eventType string, duration time.Duration, errorCode string)

	// RecordEventDropped counts an outbound event discarded because a
	// connection's send queue was full.
	RecordEventDropped(eventType string)

	// RecordRateLimited counts a request or event rejected by the rate
	// limiter, labelled by rule category.
	RecordRateLimited(category string)
}
