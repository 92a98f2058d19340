// Package discord bridges a discordgo session to the lavalink manager: it
// feeds the session's voice gateway events into the manager and sends the
// manager's voice join/leave packets through the session's gateway.
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/lavalink"
)

// Bridge implements lavalink.GatewaySender on top of a discordgo session.
type Bridge struct {
	session *discordgo.Session
}

// NewBridge wraps an opened discordgo session.
func NewBridge(session *discordgo.Session) *Bridge {
	return &Bridge{session: session}
}

// SendWS delivers a voice-state packet (op 4) through the gateway. A nil
// channel id leaves the voice channel.
func (b *Bridge) SendWS(packet *lavalink.GatewayPacket) error {
	if packet == nil || packet.Op != 4 {
		return fmt.Errorf("unsupported gateway packet")
	}
	channelID := ""
	if packet.D.ChannelID != nil {
		channelID = *packet.D.ChannelID
	}
	return b.session.ChannelVoiceJoinManual(packet.D.GuildID, channelID, packet.D.SelfMute, packet.D.SelfDeaf)
}

// Attach registers the session handlers that forward voice-server and
// voice-state updates to the manager. The returned function detaches them.
func (b *Bridge) Attach(manager *lavalink.PlayerManager) func() {
	removeServer := b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
		manager.VoiceServerUpdate(lavalink.VoiceServerUpdate{
			Token:    e.Token,
			GuildID:  e.GuildID,
			Endpoint: e.Endpoint,
		})
	})
	removeState := b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
		manager.VoiceStateUpdate(lavalink.VoiceStateUpdate{
			GuildID:   e.GuildID,
			ChannelID: e.ChannelID,
			UserID:    e.UserID,
			SessionID: e.SessionID,
		})
	})
	return func() {
		removeServer()
		removeState()
	}
}
