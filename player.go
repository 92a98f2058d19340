package lavalink

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TrackEvent is a per-guild lifecycle event forwarded from the node.
type TrackEvent struct {
	Type      string
	Track     string
	Reason    string
	Error     string
	Code      int
	ByRemote  bool
	Threshold int64
}

// PlayerHandlers are a player's application-facing notifications. Nil
// entries are dropped; in particular a TrackException with no listener must
// never take the process down.
type PlayerHandlers struct {
	// End fires when a track finishes or gets stuck, but not when it is
	// replaced by a new play command.
	End func(TrackEvent)

	// Exception fires on TrackExceptionEvent and WebSocketClosedEvent.
	Exception func(TrackEvent)

	// Warn receives unrecognized event types, for forward compatibility
	// with newer node protocols.
	Warn func(string)
}

// Player is one guild's playback session, bound to exactly one node at a
// time. Cached fields reflect the last command issued and are corrected by
// inbound playerUpdate/event messages; treat them as eventually consistent.
type Player struct {
	mu       sync.RWMutex
	node     *Node
	guildID  string
	channel  string
	state    PlayerState
	track    string
	playing  bool
	paused   bool
	started  time.Time
	voice    *VoiceUpdate
	handlers PlayerHandlers
	log      zerolog.Logger
}

// NewPlayer is the default PlayerFactory.
func NewPlayer(node *Node, guildID, channelID string) *Player {
	return &Player{
		node:    node,
		guildID: guildID,
		channel: channelID,
		state:   PlayerState{Volume: 100, Equalizer: []EqualizerBand{}},
		log:     node.log.With().Str("guild", guildID).Logger(),
	}
}

// GuildID returns the guild the player belongs to.
func (p *Player) GuildID() string { return p.guildID }

// Node returns the node the player is currently bound to.
func (p *Player) Node() *Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.node
}

// Channel returns the bound voice channel id.
func (p *Player) Channel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.channel
}

// Track returns the currently cached track, empty when nothing is loaded.
func (p *Player) Track() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.track
}

// Playing reports the cached playing flag.
func (p *Player) Playing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.playing
}

// Paused reports the cached pause flag.
func (p *Player) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// State returns a copy of the cached player state.
func (p *Player) State() PlayerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// VoiceUpdateState returns the last voice session pair sent to the node,
// needed to replay the connection on node migration.
func (p *Player) VoiceUpdateState() *VoiceUpdate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.voice
}

// SetHandlers installs the player's event handlers.
func (p *Player) SetHandlers(h PlayerHandlers) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = h
}

// PlayOptions are the optional parameters of a play op.
type PlayOptions struct {
	StartTime int64
	EndTime   int64
	Volume    int
	NoReplace bool
}

// Play loads and starts a track. The track string is the opaque base64
// payload resolved through the REST endpoint.
func (p *Player) Play(track string, opts PlayOptions) error {
	err := p.send(playPayload{
		Op:        opPlay,
		GuildID:   p.guildID,
		Track:     track,
		StartTime: opts.StartTime,
		EndTime:   opts.EndTime,
		Volume:    opts.Volume,
		NoReplace: opts.NoReplace,
	})
	p.mu.Lock()
	p.track = track
	p.playing = true
	p.started = time.Now()
	if opts.Volume > 0 {
		p.state.Volume = opts.Volume
	}
	p.mu.Unlock()
	return err
}

// Stop stops playback and clears the cached track.
func (p *Player) Stop() error {
	err := p.send(stopPayload{Op: opStop, GuildID: p.guildID})
	p.mu.Lock()
	p.playing = false
	p.track = ""
	p.started = time.Time{}
	p.mu.Unlock()
	return err
}

// Pause pauses or resumes playback. The cache is updated even when the send
// is a no-op against the remote state.
func (p *Player) Pause(pause bool) error {
	err := p.send(pausePayload{Op: opPause, GuildID: p.guildID, Pause: pause})
	p.mu.Lock()
	p.paused = pause
	p.mu.Unlock()
	return err
}

// Resume resumes a paused player.
func (p *Player) Resume() error {
	return p.Pause(false)
}

// Volume sets the playback volume.
func (p *Player) Volume(volume int) error {
	err := p.send(volumePayload{Op: opVolume, GuildID: p.guildID, Volume: volume})
	p.mu.Lock()
	p.state.Volume = volume
	p.mu.Unlock()
	return err
}

// Seek seeks to a position in milliseconds. Position is not cached here;
// future playerUpdate messages carry it authoritatively.
func (p *Player) Seek(position int64) error {
	return p.send(seekPayload{Op: opSeek, GuildID: p.guildID, Position: position})
}

// Equalizer applies the given bands.
func (p *Player) Equalizer(bands []EqualizerBand) error {
	err := p.send(equalizerPayload{Op: opEqualizer, GuildID: p.guildID, Bands: bands})
	p.mu.Lock()
	p.state.Equalizer = bands
	p.mu.Unlock()
	return err
}

// Connect records the voice session pair and forwards it to the node. The
// manager calls this once both the server update and a usable session id are
// buffered for the guild.
func (p *Player) Connect(voice VoiceUpdate) error {
	p.mu.Lock()
	p.voice = &voice
	p.mu.Unlock()
	return p.send(voiceUpdatePayload{
		Op:        opVoiceUpdate,
		GuildID:   p.guildID,
		SessionID: voice.SessionID,
		Event:     voice.Event,
	})
}

// Destroy tears down the session on the node. Removing the player from the
// registry is the manager's job, not the player's.
func (p *Player) Destroy() error {
	return p.send(destroyPayload{Op: opDestroy, GuildID: p.guildID})
}

// rebind moves the player to another node. State replay is the manager's
// Switch operation.
func (p *Player) rebind(node *Node) {
	p.mu.Lock()
	p.node = node
	p.log = node.log.With().Str("guild", p.guildID).Logger()
	p.mu.Unlock()
}

func (p *Player) setChannel(channelID string) {
	p.mu.Lock()
	p.channel = channelID
	p.mu.Unlock()
}

func (p *Player) send(v any) error {
	return p.Node().Send(v)
}

// handleMessage consumes a guild-scoped inbound frame from the node.
func (p *Player) handleMessage(msg Message) {
	switch msg.Op {
	case opEvent:
		p.handleEvent(msg)
	case opPlayerUpdate:
		p.mergeState(msg.State)
	}
}

func (p *Player) handleEvent(msg Message) {
	event := TrackEvent{
		Type:      msg.Type,
		Track:     msg.Track,
		Reason:    msg.Reason,
		Error:     msg.Error,
		Code:      msg.Code,
		ByRemote:  msg.ByRemote,
		Threshold: msg.Threshold,
	}

	p.mu.RLock()
	handlers := p.handlers
	p.mu.RUnlock()

	switch msg.Type {
	case TrackEndEvent:
		// A REPLACED end means a new track preempted this one; the cache
		// already reflects the new track and must be left alone.
		if msg.Reason == TrackEndReasonReplaced {
			return
		}
		p.mu.Lock()
		p.playing = false
		p.track = ""
		p.started = time.Time{}
		p.mu.Unlock()
		if handlers.End != nil {
			handlers.End(event)
		}
	case TrackExceptionEvent, WebSocketClosedEvent:
		if handlers.Exception != nil {
			handlers.Exception(event)
		}
	case TrackStuckEvent:
		if err := p.Stop(); err != nil {
			p.log.Warn().Err(err).Msg("stop after stuck track failed")
		}
		if handlers.End != nil {
			handlers.End(event)
		}
	default:
		warning := fmt.Sprintf("unexpected event type: %s", msg.Type)
		if handlers.Warn != nil {
			handlers.Warn(warning)
		} else {
			p.log.Warn().Msg(warning)
		}
	}
}

// mergeState folds a playerUpdate into the cached state without discarding
// fields the payload omits.
func (p *Player) mergeState(update *stateUpdate) {
	if update == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if update.Time != nil {
		p.state.Time = *update.Time
	}
	if update.Position != nil {
		p.state.Position = *update.Position
	}
	if update.Volume != nil {
		p.state.Volume = *update.Volume
	}
}
