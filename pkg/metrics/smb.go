package metrics

import (
	"time"
)

// SMBMetrics provides observability for the SMB server.
//
// Pass nil to disable collection.
//
// Example usage:
//
//	metrics.InitRegistry()
//	srv := server.New(cfg, server.Deps{Metrics: prometheus.NewSMBMetrics()})
type SMBMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - command: SMB2 command name (e.g., "NEGOTIATE", "CREATE")
	//   - duration: Time taken to process the request
	//   - status: NT status name, e.g. "STATUS_SUCCESS"
	RecordRequest(command string, duration time.Duration, status string)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// SetActiveSessions updates the current session count.
	SetActiveSessions(count int)

	// RecordTreeConnect records a tree connect attempt.
	//
	// Parameters:
	//   - share: Share name as requested by the client
	//   - ok: Whether a tree was created
	RecordTreeConnect(share string, ok bool)

	// SetActiveTrees updates the number of open trees for share.
	SetActiveTrees(share string, count int)
}

// RecordRequest is a nil-safe wrapper around SMBMetrics.RecordRequest.
func RecordRequest(m SMBMetrics, command string, start time.Time, status string) {
	if m != nil {
		m.RecordRequest(command, time.Since(start), status)
	}
}
