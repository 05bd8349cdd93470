package importer

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceRequired is returned when a dispatcher is created without a source.
	ErrSourceRequired = errors.New("source required")

	// ErrConsumerFactoryRequired is returned when a dispatcher is created without a consumer factory.
	ErrConsumerFactoryRequired = errors.New("consumer factory required")

	// ErrDocumentWriterRequired is returned when a document consumer has no sink.
	ErrDocumentWriterRequired = errors.New("document writer required")

	// ErrJobRepositoryRequired is returned when a repository history has no repository.
	ErrJobRepositoryRequired = errors.New("job repository required")

	// ErrInvalidConfig indicates an unusable Config.
	ErrInvalidConfig = errors.New("invalid importer config")

	// ErrAlreadyRun is returned when Run is called on a dispatcher more than once.
	ErrAlreadyRun = errors.New("dispatcher already run")

	// ErrPayload indicates that a message could not be converted or applied.
	ErrPayload = errors.New("payload error")

	// ErrSinkCommit indicates that the atomic write to the sink failed.
	ErrSinkCommit = errors.New("sink commit failed")

	// ErrUnexpectedPayload is returned by consumers given a payload they cannot handle.
	ErrUnexpectedPayload = errors.New("unexpected message payload")

	// ErrPolicyViolation is returned when the pool is asked to grow past MaxWorkers.
	ErrPolicyViolation = errors.New("pool cannot grow beyond max workers")

	// ErrShutdownTimeout is returned when workers do not stop within the shutdown timeout.
	ErrShutdownTimeout = errors.New("workers did not stop in time")

	// ErrNoProgress is the failure reason of a job where every batch failed.
	ErrNoProgress = errors.New("no batch could be committed")

	// ErrConsumerPanic wraps a panic raised inside a Consumer call.
	ErrConsumerPanic = errors.New("consumer panicked")

	// ErrWorkerStopped is returned when a message is sent to a worker that
	// no longer consumes its mailbox.
	ErrWorkerStopped = errors.New("worker stopped")
)

// FailureKind classifies a failed batch.
type FailureKind int

const (
	// PayloadFailure means Accept rejected a message.
	PayloadFailure FailureKind = iota + 1
	// SinkCommitFailure means Begin or Commit failed.
	SinkCommitFailure
	// WorkerFailure means the messages never reached a consumer because
	// their worker died.
	WorkerFailure
)

func (k FailureKind) String() string {
	switch k {
	case PayloadFailure:
		return "payload"
	case SinkCommitFailure:
		return "sink_commit"
	case WorkerFailure:
		return "worker"
	default:
		return "unknown"
	}
}

// BatchError describes a batch that was rolled back.
// It matches ErrPayload, ErrSinkCommit or ErrWorkerStopped with errors.Is
// depending on Kind.
type BatchError struct {
	WorkerID  string
	Kind      FailureKind
	Size      int    // Messages discarded with the batch
	MessageID string // Message that was rejected, for payload failures
	Err       error
}

func (e *BatchError) Error() string {
	if e.MessageID != "" {
		return fmt.Sprintf("%s: batch of %d rolled back on %s (message %s): %v", e.WorkerID, e.Size, e.Kind, e.MessageID, e.Err)
	}
	return fmt.Sprintf("%s: batch of %d rolled back on %s: %v", e.WorkerID, e.Size, e.Kind, e.Err)
}

func (e *BatchError) Unwrap() []error {
	switch e.Kind {
	case PayloadFailure:
		return []error{ErrPayload, e.Err}
	case SinkCommitFailure:
		return []error{ErrSinkCommit, e.Err}
	case WorkerFailure:
		return []error{ErrWorkerStopped, e.Err}
	default:
		return []error{e.Err}
	}
}
