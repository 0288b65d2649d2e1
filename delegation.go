package tinymq

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/RodrigoJC20/tinymq-client/internal/wire"
)

// SensorCommander is the minimal surface the delegation subsystem needs
// from the serial acquisition service: forwarding an admin-issued
// command to the attached device. das.Service satisfies this.
type SensorCommander interface {
	SendCommand(obj any) error
}

// AdminRequestCallback receives the outcome of a RequestAdmin call.
type AdminRequestCallback func(success bool, message, errorCode, topicName string)

// AdminResultEvent is the normalised form of an ADMIN_RESULT body: an
// approval/rejection or a revocation, depending on Revoked.
type AdminResultEvent struct {
	Revoked   bool
	Approved  bool
	TopicName string
	AdminID   string
	Message   string
}

// AdminResultCallback receives every ADMIN_RESULT delivered to a requester.
type AdminResultCallback func(AdminResultEvent)

// SensorStatusCallback confirms that an earlier SendSensorCommand took effect.
type SensorStatusCallback func(topicName, sensorName string, active bool)

// IncomingAdminRequest is one pending request to administer one of this
// client's topics, as surfaced by ListIncomingRequests or received
// directly on the owner notification path.
type IncomingAdminRequest struct {
	ID                string
	TopicName         string
	RequesterClientID string
	RequestTimestamp  int64
}

// OwnedTopic describes one topic this client created.
type OwnedTopic struct {
	Name          string
	PublishActive bool
	AdminClientID string
	CreatedAt     int64
}

// MyAdminRequest describes one request this client has made for admin
// rights on someone else's topic.
type MyAdminRequest struct {
	TopicName        string
	OwnerID          string
	RequestTimestamp int64
	Status           string
}

// AdminTopic describes one topic this client has been granted admin on.
type AdminTopic struct {
	Name          string
	OwnerClientID string
	Publish       bool
	GrantedAt     int64
}

// TopicSensor describes one sensor attached to a topic, as returned by
// GetTopicSensors.
type TopicSensor struct {
	Name         string
	Active       bool
	Activable    bool
	ConfiguredAt string
}

// Delegation implements both halves of the administration-delegation
// protocol: an owner receiving and resolving requests for control of
// its topics, and a requester asking for, exercising, and resigning
// that control. One Delegation is built around one Client.
type Delegation struct {
	c   *Client
	das SensorCommander

	requestMu       sync.Mutex
	pendingRequests []IncomingAdminRequest

	resultMu sync.Mutex
	onResult AdminResultCallback

	statusMu sync.Mutex
	onStatus SensorStatusCallback

	adminTopicsMu       sync.Mutex
	adminTopicsInFlight bool
}

// NewDelegation wires a Delegation to c, installing its persistent
// ADMIN_NOTIFY/ADMIN_RESULT/SENSOR_STATUS_RESP handlers. das may be nil
// for a client that never acts as a topic owner forwarding commands to
// a physical device.
func NewDelegation(c *Client, das SensorCommander) *Delegation {
	d := &Delegation{c: c, das: das}
	c.setAdminNotifyHandler(func(_ uint8, payload []byte) { d.processAdminNotification(payload) })
	c.setAdminResultHandler(d.handleAdminResult)
	c.setSensorStatusHandler(d.handleSensorStatus)
	return d
}

// EnableOwnerNotifications subscribes to this client's admin
// notification topic. Call once after Connect if this client may own
// administrable topics.
func (d *Delegation) EnableOwnerNotifications() error {
	return d.c.Subscribe(d.c.clientID+"/admin_notifications", func(_, message string) {
		d.processAdminNotification([]byte(message))
	})
}

// ObserveAdminResult registers the single callback fired for every
// ADMIN_RESULT frame (approvals, rejections, and revocations alike).
func (d *Delegation) ObserveAdminResult(cb AdminResultCallback) {
	d.resultMu.Lock()
	d.onResult = cb
	d.resultMu.Unlock()
}

// ObserveSensorStatus registers the single callback fired for every
// SENSOR_STATUS_RESP frame.
func (d *Delegation) ObserveSensorStatus(cb SensorStatusCallback) {
	d.statusMu.Lock()
	d.onStatus = cb
	d.statusMu.Unlock()
}

// DrainPendingRequests returns and clears the requests accumulated from
// the owner notification path since the last call.
func (d *Delegation) DrainPendingRequests() []IncomingAdminRequest {
	d.requestMu.Lock()
	defer d.requestMu.Unlock()
	out := d.pendingRequests
	d.pendingRequests = nil
	return out
}

// --- Owner operations ---

// ListIncomingRequests fetches the current set of pending admin
// requests on this client's topics via the correlation layer.
func (d *Delegation) ListIncomingRequests() ([]IncomingAdminRequest, error) {
	payload, err := d.c.correlatedRequest(wire.AdminListReq, nil, wire.AdminListResp, d.c.opts.CorrelationTimeout)
	if err != nil {
		return nil, err
	}

	var raw []map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("tinymq: decode ADMIN_LIST_RESP: %w", err)
	}

	out := make([]IncomingAdminRequest, 0, len(raw))
	for _, item := range raw {
		out = append(out, IncomingAdminRequest{
			ID:                stringField(item, "id"),
			TopicName:         firstStringField(item, "topic_name", "topic"),
			RequesterClientID: firstStringField(item, "requester_id", "requester_client_id"),
			RequestTimestamp:  int64Field(item, "request_timestamp"),
		})
	}
	return out, nil
}

// Respond approves or rejects a pending request. No synchronous reply
// is expected; the requester eventually observes the outcome through
// ADMIN_RESULT.
func (d *Delegation) Respond(topicName, requesterID string, approved bool) error {
	topicBytes := []byte(topicName)
	requesterBytes := []byte(requesterID)
	if len(topicBytes) > 255 || len(requesterBytes) > 255 {
		return ErrTopicTooLong
	}

	payload := make([]byte, 0, 2+len(topicBytes)+len(requesterBytes))
	if approved {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
	}
	payload = append(payload, byte(len(topicBytes)))
	payload = append(payload, topicBytes...)
	payload = append(payload, byte(len(requesterBytes)))
	payload = append(payload, requesterBytes...)

	return d.c.send(wire.AdminResp, 0, payload)
}

// Revoke withdraws a previously granted admin right. The broker
// performs the revocation and notifies the former admin via ADMIN_RESULT.
func (d *Delegation) Revoke(topicName, adminID string) error {
	msg := map[string]any{
		"__admin_revoke":  true,
		"client_id":       d.c.clientID,
		"topic_name":      topicName,
		"admin_to_revoke": adminID,
		"timestamp":       time.Now().Unix(),
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("tinymq: encode revoke: %w", err)
	}
	return d.c.Publish("system/admin/revoke", string(encoded))
}

// ListMyTopics fetches the topics this client owns via the correlation layer.
func (d *Delegation) ListMyTopics() ([]OwnedTopic, error) {
	payload, err := d.c.correlatedRequest(wire.MyTopicsReq, nil, wire.MyTopicsResp, d.c.opts.CorrelationTimeout)
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("tinymq: decode MY_TOPICS_RESP: %w", err)
	}
	out := make([]OwnedTopic, 0, len(raw))
	for _, item := range raw {
		out = append(out, OwnedTopic{
			Name:          stringField(item, "name"),
			PublishActive: boolField(item, "publish_active"),
			AdminClientID: stringField(item, "admin_client_id"),
			CreatedAt:     int64Field(item, "created_at"),
		})
	}
	return out, nil
}

// --- Requester operations ---

// RequestAdmin asks ownerID to grant this client administration of
// topic. It refuses locally, without touching the wire, if ownerID is
// this client's own id; cb is then called synchronously with
// SELF_REQUEST before RequestAdmin returns. Otherwise cb fires once,
// asynchronously, when ADMIN_REQ_ACK arrives (or on timeout/disconnect).
// If publishing the request fails, the error is returned and cb is not
// called.
func (d *Delegation) RequestAdmin(topic, ownerID string, cb AdminRequestCallback) error {
	if ownerID == d.c.clientID {
		if cb != nil {
			cb(false, "cannot request admin on your own topic", ErrCodeSelfRequest, topic)
		}
		return nil
	}

	envelope := map[string]any{
		"__admin_request": true,
		"client_id":       d.c.clientID,
		"topic_name":      topic,
		"owner_id":        ownerID,
		"timestamp":       time.Now().Unix(),
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("tinymq: encode admin request: %w", err)
	}

	w := newWaiter()
	d.c.corr.reg.register(wire.AdminReqAck, w)

	if err := d.c.Publish(ownerID+"/admin", string(encoded)); err != nil {
		d.c.corr.reg.unregister(wire.AdminReqAck, w)
		return err
	}

	go d.awaitRequestAdminResult(w, topic, cb)
	return nil
}

func (d *Delegation) awaitRequestAdminResult(w *waiter, topic string, cb AdminRequestCallback) {
	timeout := d.c.opts.CorrelationTimeout
	select {
	case <-w.Done():
		flags, payload, err := w.Result()
		if cb == nil {
			return
		}
		if err != nil {
			cb(false, err.Error(), "", topic)
			return
		}
		if flags == wire.AdminAckSuccess {
			cb(true, "", "", topic)
			return
		}
		var fail struct {
			ErrorCode    string `json:"error_code"`
			ErrorMessage string `json:"error_message"`
			TopicName    string `json:"topic_name"`
		}
		_ = json.Unmarshal(payload, &fail)
		cb(false, fail.ErrorMessage, fail.ErrorCode, fail.TopicName)
	case <-time.After(timeout):
		d.c.corr.reg.unregister(wire.AdminReqAck, w)
		if cb != nil {
			cb(false, "timed out waiting for ADMIN_REQ_ACK", "", topic)
		}
	}
}

// ListMyRequests fetches the outgoing admin requests this client has
// made, via the correlation layer.
func (d *Delegation) ListMyRequests() ([]MyAdminRequest, error) {
	payload, err := d.c.correlatedRequest(wire.MyAdminReq, nil, wire.MyAdminResp, d.c.opts.CorrelationTimeout)
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("tinymq: decode MY_ADMIN_RESP: %w", err)
	}
	out := make([]MyAdminRequest, 0, len(raw))
	for _, item := range raw {
		out = append(out, MyAdminRequest{
			TopicName:        stringField(item, "topic_name"),
			OwnerID:          stringField(item, "owner_id"),
			RequestTimestamp: int64Field(item, "request_timestamp"),
			Status:           stringField(item, "status"),
		})
	}
	return out, nil
}

// ListMyAdminTopics fetches the topics this client has been granted
// admin on. Only one call may be outstanding at a time; a concurrent
// call returns ErrAlreadyInFlight.
func (d *Delegation) ListMyAdminTopics() ([]AdminTopic, error) {
	d.adminTopicsMu.Lock()
	if d.adminTopicsInFlight {
		d.adminTopicsMu.Unlock()
		return nil, ErrAlreadyInFlight
	}
	d.adminTopicsInFlight = true
	d.adminTopicsMu.Unlock()
	defer func() {
		d.adminTopicsMu.Lock()
		d.adminTopicsInFlight = false
		d.adminTopicsMu.Unlock()
	}()

	payload, err := d.c.correlatedRequest(wire.MyAdminTopicsReq, nil, wire.MyAdminTopicsResp, d.c.opts.CorrelationTimeout)
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("tinymq: decode MY_ADMIN_TOPICS_RESP: %w", err)
	}
	out := make([]AdminTopic, 0, len(raw))
	for _, item := range raw {
		out = append(out, AdminTopic{
			Name:          stringField(item, "name"),
			OwnerClientID: stringField(item, "owner_client_id"),
			Publish:       boolField(item, "publish"),
			GrantedAt:     int64Field(item, "granted_at"),
		})
	}
	return out, nil
}

// GetTopicSensors fetches the sensors attached to topic via the
// correlation layer. cb is invoked once, asynchronously, with the
// result or error.
func (d *Delegation) GetTopicSensors(topic string, cb func(sensors []TopicSensor, err error)) {
	go func() {
		payload, err := d.c.correlatedRequest(wire.TopicSensorsReq, []byte(topic), wire.TopicSensorsResp, d.c.opts.CorrelationTimeout)
		if err != nil {
			if cb != nil {
				cb(nil, err)
			}
			return
		}

		var body struct {
			Sensors []map[string]any `json:"sensors"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			if cb != nil {
				cb(nil, fmt.Errorf("tinymq: decode TOPIC_SENSORS_RESP: %w", err))
			}
			return
		}

		sensors := make([]TopicSensor, 0, len(body.Sensors))
		for _, s := range body.Sensors {
			sensors = append(sensors, TopicSensor{
				Name:         stringField(s, "name"),
				Active:       boolField(s, "active"),
				Activable:    boolField(s, "activable"),
				ConfiguredAt: stringField(s, "configured_at"),
			})
		}
		if cb != nil {
			cb(sensors, nil)
		}
	}()
}

// ResignAdmin gives up this client's admin rights on topic. cb is
// invoked once, asynchronously, when ADMIN_RESIGN_ACK arrives.
func (d *Delegation) ResignAdmin(topic string, cb func(success bool, message string)) {
	go func() {
		payload, err := d.c.correlatedRequest(wire.AdminResign, []byte(topic), wire.AdminResignAck, d.c.opts.CorrelationTimeout)
		if err != nil {
			if cb != nil {
				cb(false, err.Error())
			}
			return
		}
		var body struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &body)
		if cb != nil {
			cb(body.Success, body.Message)
		}
	}()
}

// SendSensorCommand asks ownerID's broker-side admin check to forward a
// sensor toggle to the topic's owner. The broker validates that this
// client is the current admin and that the sensor is activable.
func (d *Delegation) SendSensorCommand(topic, ownerID, sensorName string, active bool) error {
	_ = ownerID // the broker resolves the owner from topic; kept for call-site symmetry with the spec
	msg := map[string]any{
		"command":     "set_sensor",
		"topic_name":  topic,
		"sensor_name": sensorName,
		"active":      active,
		"sender_id":   d.c.clientID,
		"timestamp":   time.Now().Unix(),
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("tinymq: encode sensor command: %w", err)
	}
	return d.c.Publish("system/admin/config", string(encoded))
}

// MarkActivable declares (or revokes) whether sensor on topic may be
// remotely toggled by an administrator.
func (d *Delegation) MarkActivable(topic, sensor string, activable bool) error {
	msg := map[string]any{
		"__admin_sensor_activable": true,
		"topic_name":               topic,
		"sensor_name":              sensor,
		"activable":                activable,
		"client_id":                d.c.clientID,
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("tinymq: encode activable declaration: %w", err)
	}
	return d.c.Publish("system/admin/sensor_activable", string(encoded))
}

// processAdminNotification handles one message arriving on the owner's
// admin notification path, whether delivered as a dedicated ADMIN_NOTIFY
// frame or as a PUB on "<client_id>/admin_notifications".
func (d *Delegation) processAdminNotification(payload []byte) {
	var probe map[string]any
	if err := json.Unmarshal(payload, &probe); err != nil {
		d.c.log.Debug("tinymq: malformed admin notification, dropping", "error", err)
		return
	}

	if cmd, ok := probe["command"].(string); ok && cmd == "set_sensor" {
		d.forwardSensorCommand(probe)
		return
	}

	if typ, ok := probe["type"].(string); ok && typ == "request" {
		req := IncomingAdminRequest{
			TopicName:         stringField(probe, "topic_name"),
			RequesterClientID: firstStringField(probe, "requester_id", "requester_client_id"),
			RequestTimestamp:  int64Field(probe, "request_timestamp"),
		}
		d.requestMu.Lock()
		d.pendingRequests = append(d.pendingRequests, req)
		d.requestMu.Unlock()
		return
	}

	d.c.log.Debug("tinymq: unrecognised admin notification, dropping")
}

// forwardSensorCommand relays a broker-forwarded admin command to the
// attached device via DAS.
func (d *Delegation) forwardSensorCommand(probe map[string]any) {
	sensorName := stringField(probe, "sensor_name")
	active := boolField(probe, "active")

	if d.das == nil {
		d.c.log.Debug("tinymq: set_sensor notification with no DAS attached", "sensor", sensorName)
		return
	}

	value := 0
	if active {
		value = 1
	}
	if err := d.das.SendCommand(map[string]any{
		"command": "set_" + sensorName,
		"value":   value,
	}); err != nil {
		d.c.log.Error("tinymq: forwarding set_sensor command to device failed", "sensor", sensorName, "error", err)
	}
}

// handleAdminResult parses an ADMIN_RESULT body and delivers it to the
// single registered result callback.
func (d *Delegation) handleAdminResult(payload []byte) {
	var probe map[string]any
	if err := json.Unmarshal(payload, &probe); err != nil {
		d.c.log.Debug("tinymq: malformed ADMIN_RESULT, dropping", "error", err)
		return
	}

	event := AdminResultEvent{
		TopicName: stringField(probe, "topic_name"),
		AdminID:   firstStringField(probe, "admin_id", "admin_client_id"),
		Message:   stringField(probe, "message"),
	}

	switch {
	case boolField(probe, "__admin_revoked"):
		event.Revoked = true
	case boolField(probe, "__admin_result"):
		event.Approved = boolField(probe, "approved")
	default:
		if _, ok := probe["approved"]; ok {
			event.Approved = boolField(probe, "approved")
		}
	}

	d.resultMu.Lock()
	cb := d.onResult
	d.resultMu.Unlock()
	if cb != nil {
		cb(event)
	} else {
		d.c.log.Debug("tinymq: ADMIN_RESULT with no registered result callback")
	}
}

// handleSensorStatus parses a SENSOR_STATUS_RESP body and delivers it
// to the single registered status callback.
func (d *Delegation) handleSensorStatus(payload []byte) {
	var body struct {
		TopicName  string `json:"topic_name"`
		SensorName string `json:"sensor_name"`
		Active     bool   `json:"active"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		d.c.log.Debug("tinymq: malformed SENSOR_STATUS_RESP, dropping", "error", err)
		return
	}

	d.statusMu.Lock()
	cb := d.onStatus
	d.statusMu.Unlock()
	if cb != nil {
		cb(body.TopicName, body.SensorName, body.Active)
	}
}
