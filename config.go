package lavalink

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Defaults applied by validation when an option is left zero.
const (
	DefaultPort              = 2333
	DefaultPassword          = "youshallnotpass"
	DefaultReconnectInterval = 5 * time.Second
	DefaultResumeTimeout     = 60 * time.Second
	DefaultHandshakeTimeout  = 15 * time.Second
	DefaultDialTimeout       = 10 * time.Second
)

// NodeOptions configures a single node connection.
type NodeOptions struct {
	Host     string `env:"LAVALINK_HOST" envDefault:"localhost"`
	Port     int    `env:"LAVALINK_PORT" envDefault:"2333"`
	Password string `env:"LAVALINK_PASSWORD" envDefault:"youshallnotpass"`

	// Address overrides the ws://Host:Port URL when set.
	Address string `env:"LAVALINK_ADDRESS"`

	// Tag keys the node inside the manager; falls back to Host.
	Tag string `env:"LAVALINK_TAG"`

	// Region is an advisory routing key matched against voice endpoints.
	Region string `env:"LAVALINK_REGION"`

	// ReconnectInterval is the fixed delay between reconnect attempts after
	// an unclean close. Reconnects never give up.
	ReconnectInterval time.Duration `env:"LAVALINK_RECONNECT_INTERVAL"`

	// ResumeTimeout is the window the remote node preserves player state
	// across a disconnect, sent in configureResuming on every open.
	ResumeTimeout time.Duration `env:"LAVALINK_RESUME_TIMEOUT"`

	Dialer Dialer          `env:"-"`
	Clock  clock.Clock     `env:"-"`
	Logger *zerolog.Logger `env:"-"`
}

func (o *NodeOptions) validate() error {
	if o.Host == "" && o.Address == "" {
		return errors.New("node options: host or address is required")
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Password == "" {
		o.Password = DefaultPassword
	}
	if o.Address == "" {
		o.Address = fmt.Sprintf("ws://%s:%d", o.Host, o.Port)
	}
	if o.Tag == "" {
		o.Tag = o.Host
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = DefaultReconnectInterval
	}
	if o.ResumeTimeout <= 0 {
		o.ResumeTimeout = DefaultResumeTimeout
	}
	if o.Dialer == nil {
		o.Dialer = newWSDialer(DefaultDialTimeout)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		l := log.With().Str("component", "lavalink").Logger()
		o.Logger = &l
	}
	return nil
}

// NodeOptionsFromEnv builds NodeOptions from LAVALINK_* environment
// variables, loading a .env file first when one is present.
func NodeOptionsFromEnv() (NodeOptions, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using system environment")
	}
	var opts NodeOptions
	if err := env.Parse(&opts); err != nil {
		return NodeOptions{}, fmt.Errorf("parse node options: %w", err)
	}
	return opts, nil
}

// GatewaySender delivers raw voice packets to the host platform's gateway.
// The library never implements this itself; the discord subpackage provides
// a discordgo-backed implementation.
type GatewaySender interface {
	SendWS(packet *GatewayPacket) error
}

// PlayerFactory builds the Player registered for a guild. Embedding
// applications supply their own factory to pre-wire handlers or wrap the
// player; the default is NewPlayer.
type PlayerFactory func(node *Node, guildID, channelID string) *Player

// ManagerHandlers are the application-facing notifications of a
// PlayerManager. Nil entries are silently dropped.
type ManagerHandlers struct {
	NodeReady        func(*Node)
	NodeReconnecting func(*Node)
	NodeDisconnect   func(node *Node, reason string)
	NodeError        func(node *Node, err error)

	// NodeMessage receives every parsed inbound frame, for logging and
	// telemetry, in addition to normal routing.
	NodeMessage func(node *Node, msg Message)

	// GuildError receives per-guild failures that have no synchronous
	// caller, such as voice handshake timeouts.
	GuildError func(guildID string, err error)
}

// ManagerOptions configures a PlayerManager.
type ManagerOptions struct {
	// UserID is the bot user's id, sent in the Num-Shards/User-Id handshake
	// and used to filter foreign voice-state updates. Required.
	UserID string

	// Shards is the host application's shard count. Defaults to 1.
	Shards int

	// Gateway sends voice join/leave packets to the host platform. Required.
	Gateway GatewaySender

	PlayerFactory PlayerFactory
	Handlers      ManagerHandlers

	// HandshakeTimeout bounds how long a buffered voice-server/state pair
	// may wait for its counterpart before being discarded.
	HandshakeTimeout time.Duration

	// Regions maps a node region key to voice-endpoint hostname prefixes.
	// Matching is a best-effort heuristic; replace the table as needed.
	Regions map[string][]string

	Clock  clock.Clock
	Logger *zerolog.Logger
}

func (o *ManagerOptions) validate() error {
	if o.UserID == "" {
		return errors.New("manager options: user id is required")
	}
	if o.Gateway == nil {
		return errors.New("manager options: gateway sender is required")
	}
	if o.Shards <= 0 {
		o.Shards = 1
	}
	if o.PlayerFactory == nil {
		o.PlayerFactory = NewPlayer
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.Regions == nil {
		o.Regions = DefaultRegions()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		l := log.With().Str("component", "lavalink").Logger()
		o.Logger = &l
	}
	return nil
}

// DefaultRegions returns the built-in voice-endpoint prefix table. Keys are
// node region tags, values are hostname fragments the endpoint may start
// with. This is configuration data, not protocol.
func DefaultRegions() map[string][]string {
	return map[string][]string{
		"asia": {"hongkong", "singapore", "sydney", "japan", "southafrica", "india"},
		"eu":   {"eu", "amsterdam", "frankfurt", "russia", "london", "rotterdam", "madrid", "milan", "stockholm", "warsaw"},
		"us":   {"us", "brazil", "buenos-aires", "santiago", "newark", "atlanta", "seattle", "montreal", "oregon", "st-pete"},
	}
}
