package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittocifs/pkg/dcerpc"
)

// RPCMetrics provides observability for DCE/RPC calls served over pipes.
type RPCMetrics interface {
	// RecordCall records one RPC invocation.
	//
	// Parameters:
	//   - iface: Interface name, e.g. "srvsvc"
	//   - opnum: Operation number
	//   - duration: Time spent in the service
	//   - outcome: "ok", "fault" or "unknown_opnum"
	RecordCall(iface string, opnum uint16, duration time.Duration, outcome string)
}

// Outcome values for RecordCall.
const (
	OutcomeOK           = "ok"
	OutcomeFault        = "fault"
	OutcomeUnknownOpnum = "unknown_opnum"
)

type instrumentedService struct {
	dcerpc.Service
	name    string
	metrics RPCMetrics
}

// InstrumentService wraps svc so that every Invoke is recorded under name.
// svc is returned unchanged when m is nil.
func InstrumentService(name string, svc dcerpc.Service, m RPCMetrics) dcerpc.Service {
	if m == nil {
		return svc
	}
	return &instrumentedService{Service: svc, name: name, metrics: m}
}

func (s *instrumentedService) Invoke(ctx context.Context, opnum uint16, stub []byte) ([]byte, error) {
	start := time.Now()
	out, err := s.Service.Invoke(ctx, opnum, stub)

	outcome := OutcomeOK
	switch {
	case errors.Is(err, dcerpc.ErrUnknownOpnum):
		outcome = OutcomeUnknownOpnum
	case err != nil:
		outcome = OutcomeFault
	}
	s.metrics.RecordCall(s.name, opnum, time.Since(start), outcome)
	return out, err
}
