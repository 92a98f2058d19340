// Package lavalink is a client for remote Lavalink audio-playback nodes. It
// keeps persistent websocket control connections to one or more nodes,
// routes per-guild playback commands to the node owning each session, and
// reconciles the voice handshake between the host platform's gateway events
// and the node's own voice session.
//
// Typical usage:
//
//	manager, err := lavalink.NewPlayerManager(lavalink.ManagerOptions{
//	    UserID:  botUserID,
//	    Shards:  1,
//	    Gateway: bridge, // e.g. discord.NewBridge(session)
//	})
//	if err != nil {
//	    log.Fatal().Err(err).Msg("manager init")
//	}
//
//	_, err = manager.CreateNode(lavalink.NodeOptions{Host: "localhost", Port: 2333})
//
//	player, err := manager.Join(lavalink.JoinData{
//	    GuildID:   guildID,
//	    ChannelID: channelID,
//	}, lavalink.JoinOptions{SelfDeaf: true})
//
//	tracks, err := rest.LoadTracks(ctx, "ytsearch:never gonna give you up")
//	err = player.Play(tracks[0].Track, lavalink.PlayOptions{})
//
// Audio decoding and mixing happen entirely on the remote node; this package
// only moves control messages. All state is in memory and is rebuilt from
// the node's playerUpdate/stats stream after a reconnect, aided by session
// resumption.
package lavalink
