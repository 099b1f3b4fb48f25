package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

var (
	// ErrNotFound is returned when an item doesn't exist or its TTL has passed.
	ErrNotFound = errors.New("singletable: item not found")

	// ErrConditionFailed is matched by every precondition failure, single-item or transactional.
	ErrConditionFailed = errors.New("singletable: condition failed")

	// ErrTransient is matched by throttling, capacity, conflict and transport
	// failures that are safe to retry with backoff.
	ErrTransient = errors.New("singletable: transient failure")

	// ErrInvalidInput is returned for requests the store refuses to send.
	ErrInvalidInput = errors.New("singletable: invalid input")
)

const reasonConditionalCheckFailed = "ConditionalCheckFailed"

// ConditionError reports a failed precondition. For transactions, Index is
// the position of the first operation whose condition failed and Reasons holds
// the cancellation code of every operation. For single-item writes Index is -1.
type ConditionError struct {
	Op      string
	Index   int
	Reasons []string
	Err     error
}

func (e *ConditionError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("singletable: %s: condition failed", e.Op)
	}
	return fmt.Sprintf("singletable: %s: condition failed on operation %d", e.Op, e.Index)
}

// Is makes errors.Is(err, ErrConditionFailed) true.
func (e *ConditionError) Is(target error) bool { return target == ErrConditionFailed }

func (e *ConditionError) Unwrap() error { return e.Err }

// Failed reports whether the transaction operation at i failed its condition.
func (e *ConditionError) Failed(i int) bool {
	if e.Index < 0 {
		return i == 0
	}
	return i >= 0 && i < len(e.Reasons) && e.Reasons[i] == reasonConditionalCheckFailed
}

// TransientError wraps a failure that may succeed when retried.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("singletable: %s: transient: %v", e.Op, e.Err)
}

// Is makes errors.Is(err, ErrTransient) true.
func (e *TransientError) Is(target error) bool { return target == ErrTransient }

func (e *TransientError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient failure. Condition
// failures are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsTransient reports whether err, as returned by a Client before the store
// classifies it, is a throttling, capacity, conflict or transport failure.
func IsTransient(err error) bool {
	return err != nil && IsRetryable(classify("", err))
}

var transientCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"RequestLimitExceeded":                   true,
	"ThrottlingException":                    true,
	"TransactionConflictException":           true,
	"TransactionInProgressException":         true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
}

var transientReasons = map[string]bool{
	"TransactionConflict":           true,
	"ProvisionedThroughputExceeded": true,
	"ThrottlingError":               true,
}

// classify maps an SDK error onto the store's error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("singletable: %s: %w", op, err)
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return &ConditionError{Op: op, Index: -1, Err: err}
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		return classifyCancellation(op, txErr, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && transientCodes[apiErr.ErrorCode()] {
		return &TransientError{Op: op, Err: err}
	}

	if retry.IsErrorRetryables(retry.DefaultRetryables).IsErrorRetryable(err) == aws.TrueTernary {
		return &TransientError{Op: op, Err: err}
	}

	return fmt.Errorf("singletable: %s: %w", op, err)
}

func classifyCancellation(op string, txErr *types.TransactionCanceledException, err error) error {
	reasons := make([]string, len(txErr.CancellationReasons))
	first := -1
	transient := false
	for i, reason := range txErr.CancellationReasons {
		code := aws.ToString(reason.Code)
		reasons[i] = code
		if code == reasonConditionalCheckFailed && first < 0 {
			first = i
		}
		if transientReasons[code] {
			transient = true
		}
	}
	if first >= 0 {
		return &ConditionError{Op: op, Index: first, Reasons: reasons, Err: err}
	}
	if transient {
		return &TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("singletable: %s: %w", op, err)
}
