package transfer

import (
	"context"

	"go.uber.org/zap"

	permitrelay "github.com/coinbase/permitrelay"
)

// LogSink writes every completion event to a zap logger
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging at info level
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) OnTransferCompleted(ctx context.Context, event permitrelay.CompletionEvent) error {
	s.logger.Sugar().Infow("Transfer completed",
		"id", event.ID,
		"owner", event.Owner.Hex(),
		"recipients", event.RecipientCount,
		"totalPaidOut", event.TotalPaidOut.String(),
		"fee", event.Fee.String(),
		"txReference", event.TxReference,
		"fingerprint", event.Fingerprint.Hex(),
	)
	return nil
}

var _ permitrelay.EventSink = (*LogSink)(nil)
