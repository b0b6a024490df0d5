package usecase

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	defaultWorkers     = 8
	notificationBuffer = 1024
	drainInterval      = 15 * time.Second
)

// Dispatcher fans incoming push notifications out to a fixed worker
// pool. Notifications are coalesced per mailbox while one is queued:
// a sync drains everything since the committed cursor, so queueing the
// same mailbox twice does no extra work.
type Dispatcher struct {
	pipeline *Pipeline
	workers  int

	notifications chan string
	queued        map[string]bool
	mu            sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewDispatcher(pipeline *Pipeline, workers int) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Dispatcher{
		pipeline:      pipeline,
		workers:       workers,
		notifications: make(chan string, notificationBuffer),
		queued:        make(map[string]bool),
		stopChan:      make(chan struct{}),
	}
}

// Start launches the worker pool and the deferred-message drain loop.
func (d *Dispatcher) Start(ctx context.Context) {
	log.Printf("[Dispatcher] Starting %d pipeline workers", d.workers)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.wg.Add(1)
	go d.drainLoop(ctx)
}

// Stop signals workers to finish and waits for them.
func (d *Dispatcher) Stop() {
	close(d.stopChan)
	d.wg.Wait()
	log.Println("[Dispatcher] Stopped")
}

// Notify enqueues a sync for the mailbox named in a push notification.
// Returns false when the queue is full; the notification is safe to drop
// because the next one replays the same cursor delta.
func (d *Dispatcher) Notify(email string) bool {
	d.mu.Lock()
	if d.queued[email] {
		d.mu.Unlock()
		return true
	}
	d.queued[email] = true
	d.mu.Unlock()

	select {
	case d.notifications <- email:
		return true
	default:
		d.mu.Lock()
		delete(d.queued, email)
		d.mu.Unlock()
		log.Printf("[Dispatcher] Notification queue full, dropping sync for %s", email)
		return false
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		case email := <-d.notifications:
			d.mu.Lock()
			delete(d.queued, email)
			d.mu.Unlock()

			if err := d.pipeline.SyncMailbox(ctx, email); err != nil {
				log.Printf("[Dispatcher] Sync failed for %s: %v", email, err)
			}
		}
	}
}

func (d *Dispatcher) drainLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pipeline.DrainDeferred(ctx)
		}
	}
}
