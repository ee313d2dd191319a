package l7

import (
	"github.com/cyh01/deepflow/types"
)

// MQTT control packet types, grounded on mqtt.rs's PacketKind.
const (
	mqttConnect     = 1
	mqttConnAck     = 2
	mqttPublish     = 3
	mqttPubAck      = 4
	mqttPubRec      = 5
	mqttPubRel      = 6
	mqttPubComp     = 7
	mqttSubscribe   = 8
	mqttSubAck      = 9
	mqttUnsubscribe = 10
	mqttUnsubAck    = 11
	mqttPingReq     = 12
	mqttPingResp    = 13
	mqttDisconnect  = 14
)

// MQTTInfo is the parsed payload of one MQTT packet, grounded on
// mqtt.rs's MqttInfo.
type MQTTInfo struct {
	ClientID        string
	Version         uint8
	PacketKind      uint8
	ReqMsgSize      int32
	ResMsgSize      int32
	SubscribeTopics []string
	PublishTopic    string
	Code            uint8
}

func (m *MQTTInfo) L7Protocol() types.L7Protocol { return types.L7ProtocolMQTT }

// Merge overwrites the response size and topic fields, grounded on
// mqtt.rs's MqttInfo::merge.
func (m *MQTTInfo) Merge(other Info) {
	o, ok := other.(*MQTTInfo)
	if !ok {
		return
	}

	if o.ResMsgSize >= 0 {
		m.ResMsgSize = o.ResMsgSize
	}
	if o.PublishTopic != "" {
		m.PublishTopic = o.PublishTopic
	}
	if len(o.SubscribeTopics) > 0 {
		m.SubscribeTopics = o.SubscribeTopics
	}
}

// mqttState tracks the client id associated with a flow so non-CONNECT
// packets (which carry no client id of their own) can still be
// attributed, grounded on mqtt.rs's
// amend_mqtt_proto_log_and_generate_log_data client_map lookup.
type mqttState struct {
	clientID string
}

func (s *mqttState) Reset() { s.clientID = "" }

// MQTTParser implements L7Parser for MQTT v3.1.1 over TCP.
type MQTTParser struct{}

func (p *MQTTParser) Protocol() types.L7Protocol { return types.L7ProtocolMQTT }
func (p *MQTTParser) NewState() ParserState      { return &mqttState{} }

func (p *MQTTParser) Parse(stateIface ParserState, payload []byte, dir types.PacketDirection) (Info, types.LogMessageType, error) {
	state, _ := stateIface.(*mqttState)

	if len(payload) < 2 {
		return nil, 0, ErrNotThisProtocol
	}

	kind := payload[0] >> 4
	flags := payload[0] & 0x0f

	remLen, lenBytes, err := decodeVariableLength(payload[1:])
	if err != nil {
		return nil, 0, ErrNotThisProtocol
	}

	bodyStart := 1 + lenBytes
	if bodyStart+remLen > len(payload) {
		return nil, 0, ErrNotThisProtocol
	}

	body := payload[bodyStart : bodyStart+remLen]

	switch kind {
	case mqttConnect:
		return p.parseConnect(state, body)
	case mqttConnAck:
		return p.parseConnAck(body)
	case mqttPublish:
		return p.parsePublish(state, body, flags)
	case mqttSubscribe:
		return p.parseSubscribe(state, body)
	case mqttDisconnect:
		info := &MQTTInfo{PacketKind: mqttDisconnect, ReqMsgSize: -1, ResMsgSize: -1}
		if state != nil {
			info.ClientID = state.clientID
			state.Reset()
		}

		return info, types.LogMessageTypeRequest, nil
	case mqttPubRel:
		// PUBREL reserved flags must be exactly 0b0010, grounded on
		// mqtt.rs's fixed-header flag validation for this packet kind.
		if flags != 0b0010 {
			return nil, 0, ErrNotThisProtocol
		}

		return &MQTTInfo{PacketKind: mqttPubRel, ReqMsgSize: -1, ResMsgSize: -1}, types.LogMessageTypeOther, nil
	default:
		info := &MQTTInfo{PacketKind: kind, ReqMsgSize: -1, ResMsgSize: -1}
		if state != nil {
			info.ClientID = state.clientID
		}

		return info, types.DirectionClientToServer.MessageType(), nil
	}
}

func (p *MQTTParser) parseConnect(state *mqttState, body []byte) (Info, types.LogMessageType, error) {
	// "MQTT" protocol name, length-prefixed.
	if len(body) < 2 {
		return nil, 0, ErrNotThisProtocol
	}

	nameLen := int(body[0])<<8 | int(body[1])
	if nameLen != 4 || len(body) < 2+4+2 {
		return nil, 0, ErrNotThisProtocol
	}

	protoName := string(body[2 : 2+nameLen])
	if protoName != "MQTT" {
		return nil, 0, ErrNotThisProtocol
	}

	offset := 2 + nameLen
	version := body[offset]
	offset++ // version
	offset++ // connect flags

	if offset+2 > len(body) {
		return nil, 0, ErrNotThisProtocol
	}

	offset += 2 // keep-alive

	clientIDLen := int(body[offset])<<8 | int(body[offset+1])
	offset += 2
	if offset+clientIDLen > len(body) {
		return nil, 0, ErrNotThisProtocol
	}

	clientID := string(body[offset : offset+clientIDLen])
	if !isValidMQTTString(clientID) {
		return nil, 0, ErrNotThisProtocol
	}

	if state != nil {
		state.clientID = clientID
	}

	return &MQTTInfo{
		ClientID:   clientID,
		Version:    version,
		PacketKind: mqttConnect,
		ReqMsgSize: int32(len(body)),
		ResMsgSize: -1,
	}, types.LogMessageTypeRequest, nil
}

func (p *MQTTParser) parseConnAck(body []byte) (Info, types.LogMessageType, error) {
	if len(body) < 2 {
		return nil, 0, ErrNotThisProtocol
	}

	return &MQTTInfo{
		PacketKind: mqttConnAck,
		Code:       body[1],
		ReqMsgSize: -1,
		ResMsgSize: int32(len(body)),
	}, types.LogMessageTypeResponse, nil
}

func (p *MQTTParser) parsePublish(state *mqttState, body []byte, flags uint8) (Info, types.LogMessageType, error) {
	// DUP=1 with QoS=0 is an invalid combination per the MQTT spec and
	// mqtt.rs rejects it outright.
	dup := flags&0x08 != 0
	qos := (flags >> 1) & 0x03
	if dup && qos == 0 {
		return nil, 0, ErrNotThisProtocol
	}

	if len(body) < 2 {
		return nil, 0, ErrNotThisProtocol
	}

	topicLen := int(body[0])<<8 | int(body[1])
	if 2+topicLen > len(body) {
		return nil, 0, ErrNotThisProtocol
	}

	topic := string(body[2 : 2+topicLen])

	info := &MQTTInfo{
		PacketKind:   mqttPublish,
		PublishTopic: topic,
		ReqMsgSize:   int32(len(body)),
		ResMsgSize:   -1,
	}
	if state != nil {
		info.ClientID = state.clientID
	}

	return info, types.LogMessageTypeRequest, nil
}

func (p *MQTTParser) parseSubscribe(state *mqttState, body []byte) (Info, types.LogMessageType, error) {
	if len(body) < 2 {
		return nil, 0, ErrNotThisProtocol
	}

	offset := 2 // packet identifier

	var topics []string

	for offset < len(body) {
		if offset+2 > len(body) {
			break
		}

		topicLen := int(body[offset])<<8 | int(body[offset+1])
		offset += 2
		if offset+topicLen > len(body) {
			break
		}

		topics = append(topics, string(body[offset:offset+topicLen]))
		offset += topicLen + 1 // + requested QoS byte
	}

	info := &MQTTInfo{
		PacketKind:      mqttSubscribe,
		SubscribeTopics: topics,
		ReqMsgSize:      int32(len(body)),
		ResMsgSize:      -1,
	}
	if state != nil {
		info.ClientID = state.clientID
	}

	return info, types.LogMessageTypeRequest, nil
}

// decodeVariableLength decodes the MQTT remaining-length field: a
// base-128 varint using the continuation bit (0x80) of each byte,
// grounded on mqtt.rs's decode_variable_length.
func decodeVariableLength(b []byte) (int, int, error) {
	multiplier := 1
	value := 0

	for i := 0; i < 4 && i < len(b); i++ {
		encoded := b[i]
		value += int(encoded&0x7f) * multiplier
		multiplier *= 128

		if encoded&0x80 == 0 {
			return value, i + 1, nil
		}
	}

	return 0, 0, ErrNotThisProtocol
}

// isValidMQTTString rejects control characters (C0/C1), grounded on
// mqtt.rs's mqtt_string control_characters check.
func isValidMQTTString(s string) bool {
	for _, r := range s {
		if r <= 0x1f || (r >= 0x7f && r <= 0x9f) {
			return false
		}
	}

	return true
}
