package unit

import (
	"ydoc-node/backend/peer"
	"ydoc-node/backend/peer/impl"
	"ydoc-node/backend/transport"
	"ydoc-node/backend/transport/channel"
	"ydoc-node/backend/transport/websocket"
)

var peerFac peer.Factory = impl.NewPeer

var channelFac transport.Factory = channel.NewTransport

var websocketFac transport.Factory = websocket.NewTransport
