package main

import (
	"github.com/btcsync-io/btcsyncd/internal/chain"
	"github.com/btcsync-io/btcsyncd/internal/xlog"
	"github.com/btcsync-io/btcsyncd/pkg/wire"
)

// logOnlySender implements internal/executor.PeerSender by logging the
// outbound message instead of writing to a socket. Raw P2P/TCP transport
// isn't one of this core's external interfaces (only the wire codec,
// storage, consensus verifier, sync-listener and CLI surface are); the
// connection manager that would actually dial peers and call
// SendMessage with their encoded bytes lives outside this module.
type logOnlySender struct {
	log xlog.Logger
}

func newLogOnlySender(log xlog.Logger) *logOnlySender {
	return &logOnlySender{log: log}
}

func (s *logOnlySender) SendMessage(peer chain.PeerID, msg wire.Message) error {
	s.log.Debug("would send message", "peer", peer, "command", msg.Command(), "bytes", len(msg.Encode()))
	return nil
}
