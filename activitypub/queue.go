package activitypub

import (
	"fmt"
	"log"
	"sync"
)

// Queue names used by the inbox gateway and the outbox.
const (
	QueueInbox  = "federation:inbox"
	QueueOutbox = "federation:outbox"
)

// HandlerFunc processes one queued payload. Errors are logged, a failed
// payload is never redelivered by the queue itself.
type HandlerFunc func(payload []byte) error

type queue struct {
	tasks   chan []byte
	handler HandlerFunc
}

// Queues is a set of named in-process task queues, each drained by its
// own worker goroutines.
type Queues struct {
	mu     sync.RWMutex
	queues map[string]*queue
	wg     sync.WaitGroup
	done   chan struct{}
}

func NewQueues() *Queues {
	return &Queues{
		queues: make(map[string]*queue),
		done:   make(chan struct{}),
	}
}

// Register creates a named queue and starts its workers.
func (q *Queues) Register(name string, workers int, bufferSize int, handler HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.queues[name]; exists {
		return
	}
	registered := &queue{
		tasks:   make(chan []byte, bufferSize),
		handler: handler,
	}
	q.queues[name] = registered

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work(name, registered)
	}
	log.Printf("Queues: Started %d worker(s) for %s", workers, name)
}

// Enqueue adds a payload to a named queue. Enqueueing blocks when the
// queue buffer is full, which applies natural backpressure on the
// inbox handlers.
func (q *Queues) Enqueue(name string, payload []byte) error {
	q.mu.RLock()
	registered, ok := q.queues[name]
	q.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown queue: %s", name)
	}

	select {
	case registered.tasks <- payload:
		return nil
	case <-q.done:
		return fmt.Errorf("queue %s is shutting down", name)
	}
}

func (q *Queues) work(name string, registered *queue) {
	defer q.wg.Done()
	for {
		select {
		case payload := <-registered.tasks:
			if err := registered.handler(payload); err != nil {
				log.Printf("Queues: Handler for %s failed: %v", name, err)
			}
		case <-q.done:
			return
		}
	}
}

// Stop signals all workers to exit and waits for them.
func (q *Queues) Stop() {
	close(q.done)
	q.wg.Wait()
}
