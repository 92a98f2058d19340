package lavalink

import "encoding/json"

// Outbound op codes.
const (
	opPlay              = "play"
	opStop              = "stop"
	opPause             = "pause"
	opVolume            = "volume"
	opSeek              = "seek"
	opEqualizer         = "equalizer"
	opDestroy           = "destroy"
	opVoiceUpdate       = "voiceUpdate"
	opConfigureResuming = "configureResuming"
)

// Inbound op codes.
const (
	opStats        = "stats"
	opPlayerUpdate = "playerUpdate"
	opEvent        = "event"
)

// Remote event types carried by "event" messages.
const (
	TrackEndEvent        = "TrackEndEvent"
	TrackExceptionEvent  = "TrackExceptionEvent"
	TrackStuckEvent      = "TrackStuckEvent"
	WebSocketClosedEvent = "WebSocketClosedEvent"
)

// TrackEndReasonReplaced marks a track end caused by a new track preempting
// the old one rather than a real end of playback.
const TrackEndReasonReplaced = "REPLACED"

type playPayload struct {
	Op        string `json:"op"`
	GuildID   string `json:"guildId"`
	Track     string `json:"track"`
	StartTime int64  `json:"startTime,omitempty"`
	EndTime   int64  `json:"endTime,omitempty"`
	Volume    int    `json:"volume,omitempty"`
	NoReplace bool   `json:"noReplace,omitempty"`
}

type stopPayload struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
}

type pausePayload struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
	Pause   bool   `json:"pause"`
}

type volumePayload struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
	Volume  int    `json:"volume"`
}

type seekPayload struct {
	Op       string `json:"op"`
	GuildID  string `json:"guildId"`
	Position int64  `json:"position"`
}

type equalizerPayload struct {
	Op      string          `json:"op"`
	GuildID string          `json:"guildId"`
	Bands   []EqualizerBand `json:"bands"`
}

type destroyPayload struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
}

type voiceUpdatePayload struct {
	Op        string            `json:"op"`
	GuildID   string            `json:"guildId"`
	SessionID string            `json:"sessionId"`
	Event     VoiceServerUpdate `json:"event"`
}

type configureResumingPayload struct {
	Op      string `json:"op"`
	Key     string `json:"key"`
	Timeout int    `json:"timeout"`
}

// EqualizerBand adjusts the gain of one of the node's fifteen bands.
type EqualizerBand struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

// VoiceServerUpdate is the host platform's voice-server notification,
// forwarded verbatim to the node inside a voiceUpdate op.
type VoiceServerUpdate struct {
	Token    string `json:"token"`
	GuildID  string `json:"guild_id"`
	Endpoint string `json:"endpoint"`
}

// VoiceStateUpdate is the host platform's voice-state notification. An empty
// ChannelID means the user left or was disconnected from voice.
type VoiceStateUpdate struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// VoiceUpdate is the paired session id and server event a Player sends to its
// node to establish the voice connection. It is kept so the pair can be
// replayed when the player migrates to another node.
type VoiceUpdate struct {
	SessionID string            `json:"sessionId"`
	Event     VoiceServerUpdate `json:"event"`
}

// Message is one parsed inbound frame from a node. Fields beyond Op are
// populated depending on the op: GuildID and Type/Reason/... for events,
// State for playerUpdate. Raw always carries the full undecoded payload.
type Message struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`

	// event fields
	Type      string `json:"type"`
	Track     string `json:"track"`
	Reason    string `json:"reason"`
	Error     string `json:"error"`
	Code      int    `json:"code"`
	ByRemote  bool   `json:"byRemote"`
	Threshold int64  `json:"thresholdMs"`

	// playerUpdate fields
	State *stateUpdate `json:"state"`

	Raw json.RawMessage `json:"-"`
}

// stateUpdate uses pointers so a merge can distinguish omitted fields from
// zero values; volume and equalizer often arrive separately from position.
type stateUpdate struct {
	Time     *int64 `json:"time"`
	Position *int64 `json:"position"`
	Volume   *int   `json:"volume"`
}

// PlayerState is a player's cached view of the remote node's state. It
// reflects the last command issued and the last playerUpdate received, and is
// eventually consistent, not authoritative.
type PlayerState struct {
	Time      int64
	Position  int64
	Volume    int
	Equalizer []EqualizerBand
}

// NodeStats is the node-wide metrics snapshot pushed periodically over the
// control channel, used for load-based node selection.
type NodeStats struct {
	Players        int   `json:"players"`
	PlayingPlayers int   `json:"playingPlayers"`
	Uptime         int64 `json:"uptime"`
	Memory         struct {
		Free       int64 `json:"free"`
		Used       int64 `json:"used"`
		Allocated  int64 `json:"allocated"`
		Reservable int64 `json:"reservable"`
	} `json:"memory"`
	CPU struct {
		Cores        int     `json:"cores"`
		SystemLoad   float64 `json:"systemLoad"`
		LavalinkLoad float64 `json:"lavalinkLoad"`
	} `json:"cpu"`
	FrameStats struct {
		Sent    int64 `json:"sent"`
		Nulled  int64 `json:"nulled"`
		Deficit int64 `json:"deficit"`
	} `json:"frameStats"`
}

// GatewayPacket is a raw payload for the host platform's gateway, shaped like
// the Discord voice state update (op 4). ChannelID nil means leave.
type GatewayPacket struct {
	Op int               `json:"op"`
	D  GatewayPacketData `json:"d"`
}

// GatewayPacketData is the inner voice-state payload of a GatewayPacket.
type GatewayPacketData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}
