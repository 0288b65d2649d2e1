// Package tinymq is a client for the TinyMQ publish/subscribe protocol:
// a small, single-broker pub/sub system where topics are owned by the
// client that creates them, and ownership can be delegated to other
// clients in limited form (remote control of individually
// owner-declared "activable" sensors).
//
// # Architecture
//
// Connect dials the broker and performs the CONN/CONNACK handshake,
// returning a *Client with its reader goroutine already running. The
// reader owns the inbound byte stream exclusively (internal/wire's
// Accumulator decodes frames off a growing buffer) and dispatches each
// frame: first to any outstanding one-shot correlation handler, then by
// packet type to the publish/subscribe surface or the delegation
// subsystem's persistent callbacks.
//
// Client.Publish and Client.Subscribe are the publish/subscribe
// surface (pubsub.go). Delegation (delegation.go) wraps a *Client to
// implement the owner and requester halves of the administration
// protocol: granting, exercising, and revoking remote control of a
// topic's sensors. PublishOrchestrator (orchestrator.go) keeps the
// serial acquisition service's installed callbacks consistent with the
// local store's publish flags and topic/sensor membership.
//
// internal/store is the local persistence boundary (sensors, readings,
// topics, subscriptions) backed by SQLite. internal/das is the serial
// acquisition service that turns line-framed JSON from an attached
// microcontroller into sensor readings and persists them through
// internal/store. Neither package depends on this one; cmd/tinymqc
// wires them together.
//
// # Quick start
//
//	ctx := context.Background()
//	client, err := tinymq.Connect(ctx, "broker.example.com", 9000, "alice")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	if err := client.Subscribe("alice/weather", func(topic, message string) {
//	    log.Printf("%s: %s", topic, message)
//	}); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := client.Publish("weather", `{"sensor":"t","value":22.4}`); err != nil {
//	    log.Fatal(err)
//	}
//
// # Delegation
//
//	deleg := tinymq.NewDelegation(client, dasService)
//	deleg.ObserveAdminResult(func(ev tinymq.AdminResultEvent) {
//	    if ev.Revoked {
//	        log.Printf("admin on %s revoked", ev.TopicName)
//	    }
//	})
//	err := deleg.RequestAdmin("fan_room", "bob", func(ok bool, msg, code, topic string) {
//	    if !ok {
//	        log.Printf("request for %s denied: %s", topic, code)
//	    }
//	})
package tinymq
