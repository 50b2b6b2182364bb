package notifications

import (
	"context"
	"log/slog"
)

// LogNotifier stands in when no mail transport is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendVerification(ctx context.Context, msg VerificationMessage) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}

	// the code itself stays out of the logs
	n.log.InfoContext(ctx, "notification.verification skipped",
		"email", msg.Email,
		"name", msg.Name,
		"reason", ReasonEmailDisabled,
	)
	return Delivery{Delivered: false, Reason: ReasonEmailDisabled}, nil
}

func (n *LogNotifier) SendPinCode(ctx context.Context, msg PinMessage) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}

	n.log.InfoContext(ctx, "notification.pin skipped",
		"email", msg.Email,
		"reason", ReasonEmailDisabled,
	)
	return Delivery{Delivered: false, Reason: ReasonEmailDisabled}, nil
}
