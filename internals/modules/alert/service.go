package alert

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"cronguard/pkg/rabbitmq"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Publisher interface {
	PublishBatch(ctx context.Context, bodies [][]byte) error
}

type Notifier struct {
	// lifecycle
	workerCount int
	workerWG    sync.WaitGroup

	// channels
	eventChan chan Event

	// misc
	publisher Publisher
	logger    *zerolog.Logger
}

func NewNotifier(workerCount int, eventChan chan Event, publisher Publisher, logger *zerolog.Logger) *Notifier {
	return &Notifier{
		workerCount: workerCount,
		eventChan:   eventChan,
		publisher:   publisher,
		logger:      logger,
	}
}

// Start starts the Notifier workers
func (n *Notifier) Start() {

	n.workerWG.Add(n.workerCount)

	for i := 0; i < n.workerCount; i++ {
		go n.handleEvents()
	}
}

func (n *Notifier) handleEvents() {
	defer n.workerWG.Done()

	for event := range n.eventChan {
		n.publish(event)
	}
}

func (n *Notifier) publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to marshal transition event")
		return
	}

	envelope, err := json.Marshal(rabbitmq.EventPayload{
		ID:      uuid.New(),
		Type:    "monitor." + string(event.Transition),
		Payload: payload,
	})
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to marshal event envelope")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := n.publisher.PublishBatch(ctx, [][]byte{envelope}); err != nil {
		n.logger.Error().
			Err(err).
			Str("monitor_slug", event.MonitorSlug).
			Str("environment", event.Environment).
			Str("transition", string(event.Transition)).
			Msg("failed to publish transition event")
		return
	}

	n.logger.Info().
		Str("monitor_slug", event.MonitorSlug).
		Str("environment", event.Environment).
		Str("transition", string(event.Transition)).
		Int32("consecutive_count", event.ConsecutiveCount).
		Msg("transition event published")
}

// WorkerClosingWait waits for notifier workers to complete
func (n *Notifier) WorkerClosingWait() {
	n.workerWG.Wait()
}
