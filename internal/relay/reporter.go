package relay

import (
	"go.uber.org/zap"

	"github.com/commune-io/relay/internal/common/cnst"
)

// Reporter formats and emits structured error events over a specific
// connection.
type Reporter struct {
	logger *zap.Logger
}

// NewReporter creates an error reporter
func NewReporter(logger *zap.Logger) *Reporter {
	return &Reporter{logger: logger.Named("relay.reporter")}
}

// Report emits an "error" event over the connection. The cause is
// included only when non-nil. Emit failures are swallowed; the
// connection is assumed unusable at that point.
func (r *Reporter) Report(conn *Conn, subject, message string, cause error) {
	payload := ErrorPayload{
		Subject:  subject,
		Message:  message,
		SocketID: conn.ID(),
	}
	if cause != nil {
		payload.Err = cause.Error()
	}

	if err := conn.Send(&Envelope{Event: cnst.EventError, Data: payload}); err != nil {
		r.logger.Debug("failed to emit error event",
			zap.String("socketId", conn.ID()),
			zap.String("subject", subject),
			zap.Error(err))
	}
}
