package workerpool

import (
	"context"
	"time"
)

const defaultJobResultBufferSize = 10

// JobResult represents the result of a job execution, which can be either a value of type T or an error.
type JobResult[T any] interface {
	IsError() bool
	Error() error
	Item() T
}

// JobResultPipe is a channel-based pipeline for passing job results.
type JobResultPipe[T any] interface {
	ResultBufferSize() int
	ResultChan() <-chan JobResult[T]
	WriteError(ctx context.Context, val error) error
	WriteResult(ctx context.Context, val T) error
	ReadResult(ctx context.Context) (JobResult[T], bool)
	Close()
}

// Job represents a task that can be executed and produce results of type T.
type Job[T any] interface {
	JobResultPipe[T]
	F() func(ctx context.Context, result JobResultPipe[T]) error
	ID() string
}

// WorkerPool is the fire-and-forget execution primitive of the kit: telemetry
// deliveries and bundle prefetches are submitted here so callers never wait on
// the network.
type WorkerPool interface {
	Submit(ctx context.Context, task func()) error
	Shutdown()
	// ShutdownWithDrain waits for in-flight tasks up to the given timeout
	// before releasing the pool.
	ShutdownWithDrain(timeout time.Duration) error
}
