package main

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/storefront-fulfillment/internal/audit"
)

// Processor appends audit entries delivered through the audit queue.
type Processor struct {
	sink   audit.Sink
	logger *slog.Logger
}

// NewProcessor creates a new worker processor writing to sink.
func NewProcessor(sink audit.Sink, logger *slog.Logger) *Processor {
	return &Processor{sink: sink, logger: logger}
}

// Handle appends every record of the batch. Undecodable bodies are logged
// and dropped; failed writes are reported back so only they are redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		e, err := audit.DecodeMessage(rec.Body)
		if err != nil {
			p.logger.ErrorContext(ctx, "discarding audit message", "message_id", rec.MessageId, "error", err)
			continue
		}
		if err := p.sink.Append(ctx, e); err != nil {
			p.logger.ErrorContext(ctx, "audit append failed",
				"message_id", rec.MessageId, "entry_id", e.EntryID, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	p.logger.InfoContext(ctx, "audit batch processed",
		"records", len(ev.Records), "failures", len(resp.BatchItemFailures))
	return resp, nil
}
