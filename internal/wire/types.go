// Package wire implements the TinyMQ binary frame protocol: a 4-byte
// fixed header (type, flags, big-endian payload length) followed by a
// payload of at most 65535 bytes.
package wire

// Type is a TinyMQ packet type. The numeric values are fixed for wire
// compatibility with the broker and must never be renumbered.
type Type uint8

const (
	CONN     Type = 0x01 // first connection, payload is the UTF-8 client id
	CONNACK  Type = 0x02
	PUB      Type = 0x03
	PUBACK   Type = 0x04
	SUB      Type = 0x05
	SUBACK   Type = 0x06
	UNSUB    Type = 0x07
	UNSUBACK Type = 0x08

	TopicReq  Type = 0x09
	TopicResp Type = 0x0A

	AdminReq     Type = 0x0B
	AdminReqAck  Type = 0x0C
	AdminNotify  Type = 0x0D
	AdminResp    Type = 0x0E // ADMIN_RESPONSE: owner -> broker approve/reject
	AdminResult  Type = 0x0F
	AdminListReq Type = 0x10

	AdminListResp Type = 0x11
	AdminResp2    Type = 0x12 // ADMIN_RESP, reserved by the wire spec

	MyAdminReq  Type = 0x13
	MyAdminResp Type = 0x14

	MyTopicsReq  Type = 0x20
	MyTopicsResp Type = 0x21

	MyAdminTopicsReq  Type = 0x22
	MyAdminTopicsResp Type = 0x23

	AdminResign    Type = 0x24
	AdminResignAck Type = 0x25

	TopicSensorsReq  Type = 0x26
	TopicSensorsResp Type = 0x27

	SensorStatusResp Type = 0x35
)

// names holds the closed enumeration's display names for logging.
var names = map[Type]string{
	CONN:              "CONN",
	CONNACK:           "CONNACK",
	PUB:               "PUB",
	PUBACK:            "PUBACK",
	SUB:               "SUB",
	SUBACK:            "SUBACK",
	UNSUB:             "UNSUB",
	UNSUBACK:          "UNSUBACK",
	TopicReq:          "TOPIC_REQ",
	TopicResp:         "TOPIC_RESP",
	AdminReq:          "ADMIN_REQ",
	AdminReqAck:       "ADMIN_REQ_ACK",
	AdminNotify:       "ADMIN_NOTIFY",
	AdminResp:         "ADMIN_RESPONSE",
	AdminResult:       "ADMIN_RESULT",
	AdminListReq:      "ADMIN_LIST_REQ",
	AdminListResp:     "ADMIN_LIST_RESP",
	AdminResp2:        "ADMIN_RESP",
	MyAdminReq:        "MY_ADMIN_REQ",
	MyAdminResp:       "MY_ADMIN_RESP",
	MyTopicsReq:       "MY_TOPICS_REQ",
	MyTopicsResp:      "MY_TOPICS_RESP",
	MyAdminTopicsReq:  "MY_ADMIN_TOPICS_REQ",
	MyAdminTopicsResp: "MY_ADMIN_TOPICS_RESP",
	AdminResign:       "ADMIN_RESIGN",
	AdminResignAck:    "ADMIN_RESIGN_ACK",
	TopicSensorsReq:   "TOPIC_SENSORS_REQ",
	TopicSensorsResp:  "TOPIC_SENSORS_RESP",
	SensorStatusResp:  "SENSOR_STATUS_RESP",
}

// String renders the packet type's mnemonic, or "UNKNOWN" for a type
// byte outside the closed enumeration (still valid on the wire, just
// unknown to this client).
func (t Type) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return "UNKNOWN"
}

// Known reports whether t is part of the closed enumeration.
func (t Type) Known() bool {
	_, ok := names[t]
	return ok
}

// Admin request/response flag values carried in ADMIN_REQ_ACK.flags.
const (
	AdminAckSuccess uint8 = 0
	AdminAckError   uint8 = 1
)
