package domain

import "context"

// DeliveryResult reports the outcome of one logical send, after retries.
// Exactly one of the three states applies: delivered (Success, !Simulated),
// simulated (Success, Simulated — credentials missing, nothing sent), or
// failed (!Success, Err set).
type DeliveryResult struct {
	Success   bool
	Simulated bool
	Attempts  int
	Err       error
}

// Sender is the outbound channel collaborator (one provider API call, no
// retry policy of its own).
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	Configured() bool
}

// MessageBus routes normalized inbound messages from the webhook boundary to
// the pipeline.
type MessageBus interface {
	Publish(msg Inbound)
	Subscribe() <-chan Inbound
	Close()
}
