package tinymq

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/RodrigoJC20/tinymq-client/internal/das"
	"github.com/RodrigoJC20/tinymq-client/internal/store"
)

// PublishOrchestrator keeps the DAS's installed callbacks consistent
// with the store's publish_flag and topic_sensors configuration. Each
// Run clears and fully reinstalls the DAS callback set so no callback
// holds a stale sensor set. It does not watch the store: a topic
// create, publish toggle or sensor membership change takes effect in
// the installed sensor sets only at the next Run (publish_flag itself
// is re-read on every event). cmd/tinymqc calls Run after connecting
// and on every transition to Connected.
type PublishOrchestrator struct {
	mu      sync.Mutex
	client  *Client
	db      store.Store
	service *das.Service

	// onReading is the owner's persistence/UI callback, reinstalled on
	// every run alongside the per-topic publish callbacks.
	onReading das.DataCallback
}

// NewPublishOrchestrator builds an orchestrator bound to client, db, and
// service. onReading is reinstalled first on every Run, ahead of the
// per-topic publish callbacks.
func NewPublishOrchestrator(client *Client, db store.Store, service *das.Service, onReading das.DataCallback) *PublishOrchestrator {
	return &PublishOrchestrator{client: client, db: db, service: service, onReading: onReading}
}

// Run clears every callback on the DAS and reinstalls: first the
// owner's persistence callback, then one callback per topic with
// publish_flag == true, bound to that topic's current sensor set.
func (o *PublishOrchestrator) Run() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.service.ClearCallbacks()
	if o.onReading != nil {
		o.service.AddDataCallback(o.onReading)
	}

	topics, err := o.db.GetPublishedTopics()
	if err != nil {
		return fmt.Errorf("tinymq: list published topics: %w", err)
	}

	for _, topic := range topics {
		sensors, err := o.db.GetTopicSensors(topic.Name)
		if err != nil {
			return fmt.Errorf("tinymq: list sensors for topic %q: %w", topic.Name, err)
		}

		members := make(map[string]bool, len(sensors))
		for _, s := range sensors {
			members[s.Name] = true
		}

		o.service.AddDataCallback(o.publishCallbackFor(topic.Name, members))
	}

	return nil
}

// publishCallbackFor builds one DAS callback closed over a fixed topic
// name and sensor-membership snapshot. It re-reads publish_flag from the
// store on every invocation so a topic disabled after this callback was
// installed stops emitting immediately, without waiting for the next Run.
func (o *PublishOrchestrator) publishCallbackFor(topicName string, members map[string]bool) das.DataCallback {
	return func(sensorName string, reading das.Reading) {
		if !members[sensorName] {
			return
		}

		topic, err := o.db.GetTopic(topicName)
		if err != nil {
			return
		}
		if !topic.Publish {
			return
		}

		body := map[string]any{
			"sensor":    sensorName,
			"value":     reading.Value,
			"timestamp": reading.Timestamp,
			"units":     reading.Units,
		}
		encoded, err := json.Marshal(body)
		if err != nil {
			o.client.log.Error("tinymq: encode publish payload failed", "topic", topicName, "sensor", sensorName, "error", err)
			return
		}

		if err := o.client.Publish(topicName, string(encoded)); err != nil {
			o.client.log.Debug("tinymq: orchestrated publish failed", "topic", topicName, "sensor", sensorName, "error", err)
		}
	}
}
