package metrics

import "time"

// NopGateway is the do-nothing GatewayMetrics used when collection is
// disabled.
type NopGateway struct{}

func (NopGateway) RecordConnectionOpened()                   {}
func (NopGateway) RecordConnectionClosed()                   {}
func (NopGateway) SetActiveConnections(int)                  {}
func (NopGateway) RecordEvent(string, time.Duration, string) {}
func (NopGateway) RecordEventDropped(string)                 {}
func (NopGateway) RecordRateLimited(string)                  {}

// NopTransfer is the do-nothing TransferMetrics used when collection is
// disabled.
type NopTransfer struct{}

func (NopTransfer) RecordUpload(int64)       {}
func (NopTransfer) RecordDownload(int64)     {}
func (NopTransfer) RecordShareAccess(string) {}
