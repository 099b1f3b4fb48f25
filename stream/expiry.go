// Package stream handles DynamoDB Streams events from the session table.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/jacentio/singletable/session"
)

// ttlPrincipal is the principal that performs TTL deletes.
const ttlPrincipal = "dynamodb.amazonaws.com"

// ExpiredFunc is called once per session the TTL sweeper deleted.
// Records are delivered at least once, so it must be idempotent.
type ExpiredFunc func(ctx context.Context, s session.Session) error

// Handler observes sessions removed by TTL expiry.
type Handler struct {
	onExpired ExpiredFunc
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler creates a new stream handler. onExpired may be nil, in which
// case expirations are only logged.
func NewHandler(onExpired ExpiredFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		onExpired: onExpired,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleExpirations processes a batch of stream records, stopping at the
// first failure. The stream must use a view type that includes old images.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleExpirations(ctx context.Context, event events.DynamoDBEvent) error {
	for i := range event.Records {
		record := &event.Records[i]
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Lambda retries the batch
		}
	}
	return nil
}

// HandleExpirationsBatch is HandleExpirations for functions configured to
// report batch item failures: processing stops at the first failure and
// that record and every later one are reported for redelivery.
func (h *Handler) HandleExpirationsBatch(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for i := range event.Records {
		record := &event.Records[i]
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			for _, r := range event.Records[i:] {
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
					ItemIdentifier: r.Change.SequenceNumber,
				})
			}
			return resp, nil
		}
	}
	return resp, nil
}

func (h *Handler) processRecord(ctx context.Context, record *events.DynamoDBEventRecord) error {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) || !IsTTLDelete(record) {
		return nil
	}
	if len(record.Change.OldImage) == 0 {
		h.logger.Warn("expired record has no old image",
			"eventID", record.EventID,
			"streamViewType", record.Change.StreamViewType,
		)
		return nil
	}

	item, err := ConvertStreamImage(record.Change.OldImage)
	if err != nil {
		return fmt.Errorf("convert old image: %w", err)
	}
	var s session.Session
	if err := attributevalue.UnmarshalMap(item, &s); err != nil {
		return fmt.Errorf("unmarshal session: %w", err)
	}

	h.logger.Info("session expired",
		"username", s.Username,
		"expiresAt", s.ExpiresAt,
		"sweepDelay", h.now().Sub(time.Unix(s.TTL, 0)).Round(time.Second),
	)

	if h.onExpired == nil {
		return nil
	}
	if err := h.onExpired(ctx, s); err != nil {
		return fmt.Errorf("expired session for %s: %w", s.Username, err)
	}
	return nil
}

// IsTTLDelete reports whether a record is a delete performed by the TTL
// sweeper rather than by a caller.
func IsTTLDelete(record *events.DynamoDBEventRecord) bool {
	return record.UserIdentity != nil &&
		record.UserIdentity.Type == "Service" &&
		record.UserIdentity.PrincipalID == ttlPrincipal
}
