// Package wire models every envelope exchanged with the relay as a tagged
// variant over the JSON "type" discriminator. Each variant carries only the
// fields the relay actually produces or consumes for that type, so handlers
// can switch on the concrete struct instead of probing loose maps.
package wire

// Type is the wire discriminator of an envelope.
type Type string

const (
	TypeIdentify         Type = "identify"
	TypeChat             Type = "chat"
	TypePeerJoined       Type = "peer_joined"
	TypePeerLeft         Type = "peer_left"
	TypePeerList         Type = "peer_list"
	TypeSystem           Type = "system"
	TypeNameTaken        Type = "name_taken"
	TypePrivate          Type = "private"
	TypeChannelList      Type = "channel_list"
	TypeTyping           Type = "typing"
	TypeDelete           Type = "delete"
	TypeEdit             Type = "edit"
	TypeReaction         Type = "reaction"
	TypeReactionsSync    Type = "reactions_sync"
	TypePinRequest       Type = "pin_request"
	TypePinsSync         Type = "pins_sync"
	TypePinAdded         Type = "pin_added"
	TypePinRemoved       Type = "pin_removed"
	TypeFullUserList     Type = "full_user_list"
	TypeProfileUpdate    Type = "profile_update"
	TypeProfileData      Type = "profile_data"
	TypeProfileRequest   Type = "profile_request"
	TypeDM               Type = "dm"
	TypeDMOpen           Type = "dm_open"
	TypeDMHistory        Type = "dm_history"
	TypeDMList           Type = "dm_list"
	TypeDMRead           Type = "dm_read"
	TypeSyncSave         Type = "sync_save"
	TypeVoiceCall        Type = "voice_call"
	TypeWebRTCSignal     Type = "webrtc_signal"
	TypeVoiceRoomSignal  Type = "voice_room_signal"
	TypeVoiceChannelList Type = "voice_channel_list"
)

// SyncDataPrefix marks a system message that carries an encrypted settings
// blob instead of operator text.
const SyncDataPrefix = "__sync_data__:"

// Call actions carried by a voice_call envelope.
const (
	CallActionRing   = "ring"
	CallActionAccept = "accept"
	CallActionReject = "reject"
	CallActionHangup = "hangup"
)

// Signal types carried by webrtc_signal and voice_room_signal envelopes.
const (
	SignalOffer          = "offer"
	SignalAnswer         = "answer"
	SignalICE            = "ice"
	SignalNewParticipant = "new_participant"
)

// Message is implemented by every envelope variant.
type Message interface {
	WireType() Type
}

type Identify struct {
	Type        Type   `json:"type"`
	PublicKey   string `json:"public_key"`
	DisplayName string `json:"display_name,omitempty"`
	ECDHPublic  string `json:"ecdh_public,omitempty"`
	LinkCode    string `json:"link_code,omitempty"`
	InviteCode  string `json:"invite_code,omitempty"`
}

type Chat struct {
	Type      Type   `json:"type"`
	From      string `json:"from"`
	FromName  string `json:"from_name,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature,omitempty"`
	Channel   string `json:"channel,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

type PeerJoined struct {
	Type        Type   `json:"type"`
	PublicKey   string `json:"public_key"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
}

type PeerLeft struct {
	Type      Type   `json:"type"`
	PublicKey string `json:"public_key"`
}

// PeerInfo is one online roster entry inside a peer_list envelope.
type PeerInfo struct {
	PublicKey   string `json:"public_key"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
	ECDHPublic  string `json:"ecdh_public,omitempty"`
}

type PeerList struct {
	Type          Type       `json:"type"`
	Peers         []PeerInfo `json:"peers"`
	ServerVersion string     `json:"server_version,omitempty"`
}

type System struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

type NameTaken struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

type Private struct {
	Type    Type   `json:"type"`
	To      string `json:"to"`
	Message string `json:"message"`
}

type ChannelInfo struct {
	Name     string `json:"name"`
	Topic    string `json:"topic,omitempty"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

type ChannelList struct {
	Type     Type          `json:"type"`
	Channels []ChannelInfo `json:"channels"`
}

type Typing struct {
	Type     Type   `json:"type"`
	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
}

type Delete struct {
	Type      Type   `json:"type"`
	From      string `json:"from"`
	Timestamp int64  `json:"timestamp"`
}

type Edit struct {
	Type       Type   `json:"type"`
	From       string `json:"from"`
	Timestamp  int64  `json:"timestamp"`
	NewContent string `json:"new_content"`
	Channel    string `json:"channel,omitempty"`
}

type Reaction struct {
	Type            Type   `json:"type"`
	TargetFrom      string `json:"target_from"`
	TargetTimestamp int64  `json:"target_timestamp"`
	Emoji           string `json:"emoji"`
	From            string `json:"from"`
	FromName        string `json:"from_name,omitempty"`
	Channel         string `json:"channel,omitempty"`
}

// ReactionData is one persisted reaction inside a reactions_sync batch, sent
// on connect and on channel switch.
type ReactionData struct {
	TargetFrom      string `json:"target_from"`
	TargetTimestamp int64  `json:"target_timestamp"`
	Emoji           string `json:"emoji"`
	ReactorKey      string `json:"reactor_key"`
	ReactorName     string `json:"reactor_name"`
}

type ReactionsSync struct {
	Type      Type           `json:"type"`
	Reactions []ReactionData `json:"reactions"`
}

// PinRequest asks the relay to pin a message, identified by sender key and
// timestamp.
type PinRequest struct {
	Type      Type   `json:"type"`
	FromKey   string `json:"from_key"`
	FromName  string `json:"from_name"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Channel   string `json:"channel,omitempty"`
}

// PinData is one pinned message record.
type PinData struct {
	FromKey           string `json:"from_key"`
	FromName          string `json:"from_name"`
	Content           string `json:"content"`
	OriginalTimestamp int64  `json:"original_timestamp"`
	PinnedBy          string `json:"pinned_by"`
	PinnedAt          int64  `json:"pinned_at"`
}

type PinsSync struct {
	Type    Type      `json:"type"`
	Channel string    `json:"channel"`
	Pins    []PinData `json:"pins"`
}

type PinAdded struct {
	Type    Type    `json:"type"`
	Channel string  `json:"channel"`
	Pin     PinData `json:"pin"`
}

type PinRemoved struct {
	Type    Type   `json:"type"`
	Channel string `json:"channel"`
	Index   int    `json:"index"`
}

// UserInfo is one entry (online or offline) inside a full_user_list envelope.
type UserInfo struct {
	Name       string `json:"name"`
	PublicKey  string `json:"public_key"`
	Role       string `json:"role,omitempty"`
	Online     bool   `json:"online"`
	ECDHPublic string `json:"ecdh_public,omitempty"`
}

type FullUserList struct {
	Type  Type       `json:"type"`
	Users []UserInfo `json:"users"`
}

type ProfileUpdate struct {
	Type    Type   `json:"type"`
	Bio     string `json:"bio"`
	Socials string `json:"socials"`
}

type ProfileData struct {
	Type    Type   `json:"type"`
	Name    string `json:"name"`
	Bio     string `json:"bio"`
	Socials string `json:"socials"`
}

type ProfileRequest struct {
	Type Type   `json:"type"`
	Name string `json:"name"`
}

type DM struct {
	Type      Type   `json:"type"`
	From      string `json:"from"`
	FromName  string `json:"from_name,omitempty"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce,omitempty"`
	Encrypted bool   `json:"encrypted,omitempty"`
}

type DMOpen struct {
	Type    Type   `json:"type"`
	Partner string `json:"partner"`
}

type DMData struct {
	From      string `json:"from"`
	FromName  string `json:"from_name,omitempty"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce,omitempty"`
	Encrypted bool   `json:"encrypted,omitempty"`
}

type DMHistory struct {
	Type     Type     `json:"type"`
	Partner  string   `json:"partner"`
	Messages []DMData `json:"messages"`
}

type DMConversation struct {
	PartnerKey    string `json:"partner_key"`
	PartnerName   string `json:"partner_name"`
	LastMessage   string `json:"last_message"`
	LastTimestamp int64  `json:"last_timestamp"`
	UnreadCount   int64  `json:"unread_count"`
}

type DMList struct {
	Type          Type             `json:"type"`
	Conversations []DMConversation `json:"conversations"`
}

type DMRead struct {
	Type    Type   `json:"type"`
	Partner string `json:"partner"`
}

// SyncSave carries the device-encrypted settings blob to the relay.
type SyncSave struct {
	Type      Type   `json:"type"`
	Blob      string `json:"blob"`
	UpdatedAt int64  `json:"updated_at"`
}

type VoiceCall struct {
	Type   Type   `json:"type"`
	From   string `json:"from"`
	To     string `json:"to"`
	Action string `json:"action"`
}

type WebRTCSignal struct {
	Type       Type   `json:"type"`
	From       string `json:"from"`
	To         string `json:"to"`
	SignalType string `json:"signal_type"`
	Data       string `json:"data"`
}

type VoiceRoomSignal struct {
	Type       Type   `json:"type"`
	From       string `json:"from"`
	To         string `json:"to"`
	RoomID     string `json:"room_id"`
	SignalType string `json:"signal_type"`
	Data       string `json:"data"`
}

type VoiceRoomParticipant struct {
	PublicKey   string `json:"public_key"`
	DisplayName string `json:"display_name,omitempty"`
}

type VoiceRoomInfo struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Participants []VoiceRoomParticipant `json:"participants"`
}

type VoiceChannelList struct {
	Type  Type            `json:"type"`
	Rooms []VoiceRoomInfo `json:"rooms"`
}

func (m Identify) WireType() Type         { return TypeIdentify }
func (m Chat) WireType() Type             { return TypeChat }
func (m PeerJoined) WireType() Type       { return TypePeerJoined }
func (m PeerLeft) WireType() Type         { return TypePeerLeft }
func (m PeerList) WireType() Type         { return TypePeerList }
func (m System) WireType() Type           { return TypeSystem }
func (m NameTaken) WireType() Type        { return TypeNameTaken }
func (m Private) WireType() Type          { return TypePrivate }
func (m ChannelList) WireType() Type      { return TypeChannelList }
func (m Typing) WireType() Type           { return TypeTyping }
func (m Delete) WireType() Type           { return TypeDelete }
func (m Edit) WireType() Type             { return TypeEdit }
func (m Reaction) WireType() Type         { return TypeReaction }
func (m ReactionsSync) WireType() Type    { return TypeReactionsSync }
func (m PinRequest) WireType() Type       { return TypePinRequest }
func (m PinsSync) WireType() Type         { return TypePinsSync }
func (m PinAdded) WireType() Type         { return TypePinAdded }
func (m PinRemoved) WireType() Type       { return TypePinRemoved }
func (m FullUserList) WireType() Type     { return TypeFullUserList }
func (m ProfileUpdate) WireType() Type    { return TypeProfileUpdate }
func (m ProfileData) WireType() Type      { return TypeProfileData }
func (m ProfileRequest) WireType() Type   { return TypeProfileRequest }
func (m DM) WireType() Type               { return TypeDM }
func (m DMOpen) WireType() Type           { return TypeDMOpen }
func (m DMHistory) WireType() Type        { return TypeDMHistory }
func (m DMList) WireType() Type           { return TypeDMList }
func (m DMRead) WireType() Type           { return TypeDMRead }
func (m SyncSave) WireType() Type         { return TypeSyncSave }
func (m VoiceCall) WireType() Type        { return TypeVoiceCall }
func (m WebRTCSignal) WireType() Type     { return TypeWebRTCSignal }
func (m VoiceRoomSignal) WireType() Type  { return TypeVoiceRoomSignal }
func (m VoiceChannelList) WireType() Type { return TypeVoiceChannelList }
