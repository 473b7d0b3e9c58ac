package sketch_queue

import "context"

type Queue interface {
	AddSketch(item *QueueItem) (int, error)
	StartPolling(ctx context.Context)
	// Len is the number of items waiting, not counting the running one.
	Len() int
	Busy() bool
}
