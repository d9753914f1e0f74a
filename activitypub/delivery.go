package activitypub

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/SamR1/fittrackee-federation/db"
	"github.com/SamR1/fittrackee-federation/domain"
	"github.com/SamR1/fittrackee-federation/util"
)

// deliveryBackoffMinutes is the retry ladder for failed deliveries.
var deliveryBackoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// maxDeliveryAttempts is the give-up threshold.
const maxDeliveryAttempts = 10

// DeliveryWorker drains the persistent delivery queue in the
// background. Failed deliveries are retried with growing backoff and
// dropped after maxDeliveryAttempts.
type DeliveryWorker struct {
	database *db.DB
	conf     *util.AppConfig
	sender   *Sender
	interval time.Duration
	done     chan struct{}
}

func NewDeliveryWorker(database *db.DB, conf *util.AppConfig, sender *Sender) *DeliveryWorker {
	return &DeliveryWorker{
		database: database,
		conf:     conf,
		sender:   sender,
		interval: 10 * time.Second,
		done:     make(chan struct{}),
	}
}

// Start runs the worker loop until Stop is called.
func (w *DeliveryWorker) Start() {
	log.Println("DeliveryWorker: Starting delivery worker")
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.ProcessQueue()
			case <-w.done:
				return
			}
		}
	}()
}

func (w *DeliveryWorker) Stop() {
	close(w.done)
}

// ProcessQueue delivers all due queue items once.
func (w *DeliveryWorker) ProcessQueue() {
	err, items := w.database.ReadPendingDeliveries(50)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}
	if items == nil || len(*items) == 0 {
		return
	}

	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(*items))

	for _, item := range *items {
		if err := w.deliver(&item); err != nil {
			w.recordFailure(&item, err)
		} else {
			log.Printf("DeliveryWorker: Delivered to %s", item.InboxURI)
			w.database.DeleteDelivery(item.Id)
		}
	}
}

// recordFailure pushes the item up the backoff ladder or drops it once
// the attempt budget is spent.
func (w *DeliveryWorker) recordFailure(item *domain.DeliveryQueueItem, err error) {
	item.Attempts++
	backoff := deliveryBackoffMinutes[min(item.Attempts-1, len(deliveryBackoffMinutes)-1)]
	item.NextRetryAt = time.Now().Add(time.Duration(backoff) * time.Minute)

	if item.Attempts >= maxDeliveryAttempts {
		log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts", item.InboxURI, item.Attempts)
		w.database.DeleteDelivery(item.Id)
		return
	}

	log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %dm: %v",
		item.InboxURI, item.Attempts, backoff, err)
	w.database.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt)
}

// deliver signs and sends a single queued activity. The signing actor
// is resolved from the activity's actor URI.
func (w *DeliveryWorker) deliver(item *domain.DeliveryQueueItem) error {
	var activity struct {
		Actor string `json:"actor"`
	}
	if err := json.Unmarshal([]byte(item.ActivityJSON), &activity); err != nil {
		return fmt.Errorf("failed to parse activity JSON: %w", err)
	}
	if activity.Actor == "" {
		return fmt.Errorf("activity missing actor field")
	}

	err, localActor := w.database.ReadActorByActivityPubId(activity.Actor)
	if err == sql.ErrNoRows {
		return fmt.Errorf("signing actor %s not found", activity.Actor)
	}
	if err != nil {
		return fmt.Errorf("failed to read signing actor: %w", err)
	}
	if !localActor.IsLocal() {
		return fmt.Errorf("actor %s has no private key", activity.Actor)
	}

	return w.sender.sendRaw([]byte(item.ActivityJSON), item.InboxURI, localActor)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
