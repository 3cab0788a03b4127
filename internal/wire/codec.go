package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType = errors.New("wire: unknown envelope type")
	ErrBadEnvelope = errors.New("wire: malformed envelope")
)

// Encode marshals a variant to its wire form, stamping the discriminator if
// the caller left the Type field zero.
func Encode(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	if probe.Type == m.WireType() {
		return raw, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(m.WireType())
	if err != nil {
		return nil, err
	}
	obj["type"] = tag
	return json.Marshal(obj)
}

// Decode parses one inbound frame into its typed variant.
func Decode(data []byte) (Message, error) {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrBadEnvelope)
	}

	var (
		msg Message
		err error
	)
	switch probe.Type {
	case TypeIdentify:
		msg, err = decodeAs[Identify](data)
	case TypeChat:
		msg, err = decodeAs[Chat](data)
	case TypePeerJoined:
		msg, err = decodeAs[PeerJoined](data)
	case TypePeerLeft:
		msg, err = decodeAs[PeerLeft](data)
	case TypePeerList:
		msg, err = decodeAs[PeerList](data)
	case TypeSystem:
		msg, err = decodeAs[System](data)
	case TypeNameTaken:
		msg, err = decodeAs[NameTaken](data)
	case TypePrivate:
		msg, err = decodeAs[Private](data)
	case TypeChannelList:
		msg, err = decodeAs[ChannelList](data)
	case TypeTyping:
		msg, err = decodeAs[Typing](data)
	case TypeDelete:
		msg, err = decodeAs[Delete](data)
	case TypeEdit:
		msg, err = decodeAs[Edit](data)
	case TypeReaction:
		msg, err = decodeAs[Reaction](data)
	case TypeReactionsSync:
		msg, err = decodeAs[ReactionsSync](data)
	case TypePinRequest:
		msg, err = decodeAs[PinRequest](data)
	case TypePinsSync:
		msg, err = decodeAs[PinsSync](data)
	case TypePinAdded:
		msg, err = decodeAs[PinAdded](data)
	case TypePinRemoved:
		msg, err = decodeAs[PinRemoved](data)
	case TypeFullUserList:
		msg, err = decodeAs[FullUserList](data)
	case TypeProfileUpdate:
		msg, err = decodeAs[ProfileUpdate](data)
	case TypeProfileData:
		msg, err = decodeAs[ProfileData](data)
	case TypeProfileRequest:
		msg, err = decodeAs[ProfileRequest](data)
	case TypeDM:
		msg, err = decodeAs[DM](data)
	case TypeDMOpen:
		msg, err = decodeAs[DMOpen](data)
	case TypeDMHistory:
		msg, err = decodeAs[DMHistory](data)
	case TypeDMList:
		msg, err = decodeAs[DMList](data)
	case TypeDMRead:
		msg, err = decodeAs[DMRead](data)
	case TypeSyncSave:
		msg, err = decodeAs[SyncSave](data)
	case TypeVoiceCall:
		msg, err = decodeAs[VoiceCall](data)
	case TypeWebRTCSignal:
		msg, err = decodeAs[WebRTCSignal](data)
	case TypeVoiceRoomSignal:
		msg, err = decodeAs[VoiceRoomSignal](data)
	case TypeVoiceChannelList:
		msg, err = decodeAs[VoiceChannelList](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return msg, nil
}

func decodeAs[T Message](data []byte) (Message, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
