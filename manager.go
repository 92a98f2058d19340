package lavalink

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// switchPositionOffset is added to the last known position when replaying a
// track on a new node; buffered audio around the migration point is assumed
// lost, so resuming exactly where the old node stopped would stutter.
const switchPositionOffset int64 = 2000

// JoinData identifies the session a Join call should establish.
type JoinData struct {
	GuildID   string
	ChannelID string

	// Host pins the session to the node registered under this tag or host.
	// When empty the manager selects a node itself.
	Host string

	// Endpoint is an optional voice-endpoint hint used for region-based
	// node selection when Host is empty.
	Endpoint string
}

// JoinOptions are the voice-state flags sent in the join packet.
type JoinOptions struct {
	SelfMute bool
	SelfDeaf bool
}

// PlayerManager owns the node set, the player registry, and the voice
// handshake reconciliation between the host platform and the nodes.
type PlayerManager struct {
	opts    ManagerOptions
	clock   clock.Clock
	log     zerolog.Logger
	players *PlayerStore

	mu           sync.RWMutex
	nodes        map[string]*Node
	voiceServers map[string]VoiceServerUpdate
	voiceStates  map[string]VoiceStateUpdate
	handshakes   map[string]*clock.Timer
}

// NewPlayerManager validates opts and builds an empty manager. Nodes are
// registered afterwards through CreateNode.
func NewPlayerManager(opts ManagerOptions) (*PlayerManager, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &PlayerManager{
		opts:         opts,
		clock:        opts.Clock,
		log:          opts.Logger.With().Str("component", "manager").Logger(),
		players:      newPlayerStore(opts.PlayerFactory),
		nodes:        make(map[string]*Node),
		voiceServers: make(map[string]VoiceServerUpdate),
		voiceStates:  make(map[string]VoiceStateUpdate),
		handshakes:   make(map[string]*clock.Timer),
	}, nil
}

// CreateNode registers a node under its tag (or host) and starts connecting
// it immediately. A connect failure is not fatal; the node keeps retrying on
// its own.
func (m *PlayerManager) CreateNode(opts NodeOptions) (*Node, error) {
	if opts.Clock == nil {
		opts.Clock = m.clock
	}
	if opts.Logger == nil {
		opts.Logger = m.opts.Logger
	}
	node, err := newNode(m, opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.nodes[node.Tag()]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("node %q is already registered", node.Tag())
	}
	m.nodes[node.Tag()] = node
	m.mu.Unlock()

	if err := node.Connect(); err != nil {
		m.log.Warn().Err(err).Str("node", node.Tag()).Msg("initial connect failed, node will retry")
	}
	return node, nil
}

// RemoveNode destroys and deregisters a node. Players bound to it are left
// in place; migrating them is a separate Switch call the application makes.
func (m *PlayerManager) RemoveNode(key string) bool {
	m.mu.Lock()
	node, ok := m.nodes[key]
	if ok {
		delete(m.nodes, key)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	node.Destroy()
	return true
}

// Node looks up a registered node by tag or host.
func (m *PlayerManager) Node(key string) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.nodes[key]
	return node, ok
}

// Nodes returns all registered nodes.
func (m *PlayerManager) Nodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodes := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}

// Player looks up the player registered for a guild.
func (m *PlayerManager) Player(guildID string) (*Player, bool) {
	return m.players.Get(guildID)
}

// IdealNodes returns the connected nodes ordered ascending by load. The
// ordering is advisory for selecting a node on new joins and is not
// re-evaluated mid-session.
func (m *PlayerManager) IdealNodes() []*Node {
	var nodes []*Node
	for _, n := range m.Nodes() {
		if n.Connected() {
			nodes = append(nodes, n)
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Load() < nodes[j].Load()
	})
	return nodes
}

// Join sends a voice-channel join packet and returns the guild's player,
// creating and registering one when none exists. Calling Join again for the
// same guild re-sends the join packet (channel moves) but always returns the
// existing player instance.
func (m *PlayerManager) Join(data JoinData, opts JoinOptions) (*Player, error) {
	if data.GuildID == "" || data.ChannelID == "" {
		return nil, fmt.Errorf("join: guild and channel ids are required")
	}

	node, err := m.selectNode(data)
	if err != nil {
		return nil, err
	}

	channel := data.ChannelID
	if err := m.sendWS(&GatewayPacket{
		Op: 4,
		D: GatewayPacketData{
			GuildID:   data.GuildID,
			ChannelID: &channel,
			SelfMute:  opts.SelfMute,
			SelfDeaf:  opts.SelfDeaf,
		},
	}); err != nil {
		return nil, fmt.Errorf("join: send voice packet: %w", err)
	}

	if existing, ok := m.players.Get(data.GuildID); ok {
		existing.setChannel(data.ChannelID)
		return existing, nil
	}
	player := m.players.Add(node, data.GuildID, data.ChannelID)
	m.log.Info().Str("guild", data.GuildID).Str("node", node.Tag()).Msg("player created")
	return player, nil
}

// Leave sends the voice-channel leave packet, destroys the guild's session
// on its node and removes the player. It returns false, and sends nothing,
// when no player exists for the guild.
func (m *PlayerManager) Leave(guildID string) bool {
	player, ok := m.players.Get(guildID)
	if !ok {
		return false
	}

	if err := m.sendWS(&GatewayPacket{
		Op: 4,
		D:  GatewayPacketData{GuildID: guildID, ChannelID: nil},
	}); err != nil {
		m.log.Warn().Err(err).Str("guild", guildID).Msg("leave packet failed")
	}

	player.SetHandlers(PlayerHandlers{})
	if err := player.Destroy(); err != nil {
		m.log.Warn().Err(err).Str("guild", guildID).Msg("destroy on leave failed")
	}
	m.clearHandshake(guildID)
	return m.players.Remove(guildID)
}

// Switch migrates a player to another node: the session on the old node is
// destroyed, the voice session is re-established, and track, position,
// volume and equalizer are replayed. The replay is best effort, not a
// gapless handoff; playback resumes slightly ahead of the last known
// position.
func (m *PlayerManager) Switch(player *Player, node *Node) (*Player, error) {
	track := player.Track()
	state := player.State()
	voice := player.VoiceUpdateState()

	if err := player.Destroy(); err != nil {
		m.log.Warn().Err(err).Str("guild", player.GuildID()).Msg("destroy on old node failed")
	}

	player.rebind(node)

	if voice != nil {
		if err := player.Connect(*voice); err != nil {
			return player, fmt.Errorf("switch: reconnect voice: %w", err)
		}
	}

	if track != "" {
		position := state.Position + switchPositionOffset
		if err := player.Play(track, PlayOptions{StartTime: position, Volume: state.Volume}); err != nil {
			return player, fmt.Errorf("switch: replay track: %w", err)
		}
	}
	if len(state.Equalizer) > 0 {
		if err := player.Equalizer(state.Equalizer); err != nil {
			return player, fmt.Errorf("switch: replay equalizer: %w", err)
		}
	}
	return player, nil
}

// VoiceServerUpdate buffers a voice-server update and attempts to pair it
// with a buffered state update for the same guild.
func (m *PlayerManager) VoiceServerUpdate(update VoiceServerUpdate) {
	m.mu.Lock()
	m.voiceServers[update.GuildID] = update
	m.armHandshakeLocked(update.GuildID)
	m.mu.Unlock()
	m.attemptConnection(update.GuildID)
}

// VoiceStateUpdate buffers a voice-state update for the bot user. A state
// update with no channel is the platform's "disconnected" signal and clears
// both buffered entries instead of pairing.
func (m *PlayerManager) VoiceStateUpdate(update VoiceStateUpdate) {
	if update.UserID != m.opts.UserID {
		return
	}

	if update.ChannelID == "" {
		m.clearHandshake(update.GuildID)
		return
	}

	m.mu.Lock()
	m.voiceStates[update.GuildID] = update
	m.armHandshakeLocked(update.GuildID)
	m.mu.Unlock()
	m.attemptConnection(update.GuildID)
}

// attemptConnection connects the guild's player once both handshake pieces
// are available. Either piece may arrive first; the buffers make the pairing
// commutative. Consumed entries are cleared so a stale pair can never replay
// into a future connect.
func (m *PlayerManager) attemptConnection(guildID string) {
	m.mu.RLock()
	server, hasServer := m.voiceServers[guildID]
	state, hasState := m.voiceStates[guildID]
	m.mu.RUnlock()

	if !hasServer {
		return
	}
	player, ok := m.players.Get(guildID)
	if !ok {
		return
	}

	sessionID := ""
	if hasState {
		sessionID = state.SessionID
	} else if voice := player.VoiceUpdateState(); voice != nil {
		sessionID = voice.SessionID
	}
	if sessionID == "" {
		return
	}

	m.clearHandshake(guildID)
	if err := player.Connect(VoiceUpdate{SessionID: sessionID, Event: server}); err != nil {
		m.log.Warn().Err(err).Str("guild", guildID).Msg("voice update send failed")
		m.guildError(guildID, err)
	}
}

// armHandshakeLocked starts the pairing timeout for a guild unless one is
// already running. Requires m.mu.
func (m *PlayerManager) armHandshakeLocked(guildID string) {
	if _, ok := m.handshakes[guildID]; ok {
		return
	}
	m.handshakes[guildID] = m.clock.AfterFunc(m.opts.HandshakeTimeout, func() {
		m.clearHandshake(guildID)
		m.log.Warn().Str("guild", guildID).Msg("voice handshake timed out")
		m.guildError(guildID, ErrVoiceTimeout)
	})
}

// clearHandshake drops both buffered handshake pieces and the pairing timer
// for a guild.
func (m *PlayerManager) clearHandshake(guildID string) {
	m.mu.Lock()
	delete(m.voiceServers, guildID)
	delete(m.voiceStates, guildID)
	if timer, ok := m.handshakes[guildID]; ok {
		timer.Stop()
		delete(m.handshakes, guildID)
	}
	m.mu.Unlock()
}

// selectNode resolves the node for a join: the pinned host if given, else a
// region match on the endpoint hint, else the least-loaded connected node.
func (m *PlayerManager) selectNode(data JoinData) (*Node, error) {
	if data.Host != "" {
		node, ok := m.Node(data.Host)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidHost, data.Host)
		}
		return node, nil
	}

	ideal := m.IdealNodes()
	if len(ideal) == 0 {
		return nil, ErrNoNodes
	}

	if data.Endpoint != "" {
		if region := m.regionForEndpoint(data.Endpoint); region != "" {
			for _, node := range ideal {
				if node.Region() == region {
					return node, nil
				}
			}
		}
	}
	return ideal[0], nil
}

// regionForEndpoint maps a voice endpoint hostname to a region key by prefix
// matching against the configured fragment table. Best effort only.
func (m *PlayerManager) regionForEndpoint(endpoint string) string {
	host := strings.TrimSpace(endpoint)
	for region, prefixes := range m.opts.Regions {
		for _, prefix := range prefixes {
			if strings.HasPrefix(host, prefix) {
				return region
			}
		}
	}
	return ""
}

// sendWS hands a raw packet to the host platform's gateway transport.
func (m *PlayerManager) sendWS(packet *GatewayPacket) error {
	return m.opts.Gateway.SendWS(packet)
}

// Node callbacks, fanned out to the application handlers. Nil handlers drop
// the notification.

func (m *PlayerManager) nodeReady(n *Node) {
	if h := m.opts.Handlers.NodeReady; h != nil {
		h(n)
	}
}

func (m *PlayerManager) nodeReconnecting(n *Node) {
	if h := m.opts.Handlers.NodeReconnecting; h != nil {
		h(n)
	}
}

func (m *PlayerManager) nodeDisconnect(n *Node, reason string) {
	if h := m.opts.Handlers.NodeDisconnect; h != nil {
		h(n, reason)
	}
}

func (m *PlayerManager) nodeError(n *Node, err error) {
	if h := m.opts.Handlers.NodeError; h != nil {
		h(n, err)
	}
}

func (m *PlayerManager) nodeMessage(n *Node, msg Message) {
	if h := m.opts.Handlers.NodeMessage; h != nil {
		h(n, msg)
	}
}

func (m *PlayerManager) guildError(guildID string, err error) {
	if h := m.opts.Handlers.GuildError; h != nil {
		h(guildID, err)
	}
}
