// Package store is the local persistence boundary used by the TinyMQ
// client core. It durably tracks client identity, broker configuration,
// sensors and readings, topics and topic/sensor membership, and
// subscriptions and the data delivered on them.
//
// Every exported method is atomic at the call boundary: callers never
// see a partial write, and concurrent callers from different
// goroutines (the serial reader, the connection reader, delegation
// operations) may use the same Store without external locking.
package store

import "time"

// Sensor is a device-reported measurement source. Name is unique;
// LastValue/LastUpdated reflect the reading with the latest timestamp
// (on equal timestamps, the one added last).
type Sensor struct {
	ID          int64
	Name        string
	LastValue   string
	LastUpdated int64
}

// Reading is one append-only sample for a sensor.
type Reading struct {
	SensorID  int64
	Timestamp int64
	Value     string
	Units     string
}

// Topic is a locally owned publication channel. Name is unique per client.
type Topic struct {
	ID      int64
	Name    string
	Publish bool
}

// Subscription models "this client is subscribed to TopicName as
// published by SourceClientID". At most one active row exists per
// (TopicName, SourceClientID) pair.
type Subscription struct {
	ID             int64
	TopicName      string
	SourceClientID string
	Active         bool
}

// SubscriptionDatum is one inbound payload recorded against a subscription.
type SubscriptionDatum struct {
	SubscriptionID int64
	Timestamp      int64
	RawJSON        string
}

// Store is the local store interface the core depends on. The broker,
// firmware, and interactive surfaces are all external to it; nothing
// outside this package needs to know whether it's backed by SQLite, a
// file, or memory.
type Store interface {
	// Identity and configuration.
	GetClientID() (string, error)
	SetClientID(id string) error
	GetClientMetadata() (map[string]string, error)
	SetClientMetadata(meta map[string]string) error
	GetBrokerHost() (string, error)
	SetBrokerHost(host string) error
	GetBrokerPort() (int, error)
	SetBrokerPort(port int) error

	// Sensors and readings.
	AddReading(name, value string, timestamp int64, units string) error
	GetSensors() ([]Sensor, error)
	GetSensor(idOrName string) (Sensor, error)
	GetReadings(name string, limit int, start, end *int64) ([]Reading, error)

	// Topics.
	CreateTopic(name string, publish bool) error
	GetTopics() ([]Topic, error)
	GetTopic(idOrName string) (Topic, error)
	SetTopicPublish(name string, publish bool) error
	AddSensorToTopic(topic, sensor string) error
	RemoveSensorFromTopic(topic, sensor string) error
	GetTopicSensors(topic string) ([]Sensor, error)
	GetPublishedTopics() ([]Topic, error)

	// Subscriptions.
	AddSubscription(topic, sourceClientID string) error
	RemoveSubscription(topic, sourceClientID string) error
	GetSubscriptions() ([]Subscription, error)
	AddSubscriptionData(topic, sourceClientID string, timestamp int64, rawJSON string) error
	GetSubscriptionData(topic, sourceClientID string, limit int) ([]SubscriptionDatum, error)

	Close() error
}

// now returns the current wall-clock time in Unix seconds. No code in
// this package calls it or overrides it.
var now = func() int64 { return time.Now().Unix() }
