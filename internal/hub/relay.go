package hub

import (
	"github.com/sirupsen/logrus"

	"keyrelay/internal/keys"
)

// relay forwards one chat message. The text is sealed to the receiver's
// public key and opened again with the receiver's private key before it is
// delivered, so the hub handles plaintext on both sides of the round trip.
// The sender gets its original text back as an echo.
func (m *Manager) relay(p *OutgoingMessage) {
	sender, ok := m.registry.Lookup(p.FromUserID)
	if !ok || !m.reachable(sender) {
		m.dropMessage("sender_offline", p)
		return
	}
	receiver, ok := m.registry.Lookup(p.ToUserID)
	if !ok || !m.reachable(receiver) {
		m.dropMessage("receiver_offline", p)
		return
	}
	if m.opts.RequireSharedKey {
		if _, ok := m.shared[pair{from: sender.UserID, to: receiver.UserID}]; !ok {
			m.dropMessage("no_shared_key", p)
			return
		}
	}

	text, err := roundTrip(receiver.keys, p.Message)
	if err != nil {
		m.log.WithError(err).WithField("to", receiver.UserID).Error("relay round trip")
		m.dropMessage("crypto", p)
		return
	}

	msg := ChatMessage{FromUserID: sender.UserID, FromUsername: sender.Username, Message: text}
	if m.send(receiver.client, m.encode(EventReceiveMessage, msg)) {
		m.metrics.Relayed.Inc()
	}
	msg.Message = p.Message
	m.send(sender.client, m.encode(EventReceiveMessage, msg))
}

func roundTrip(kp *keys.KeyPair, plaintext string) (string, error) {
	pk, err := keys.ImportPublic(kp.ExportPublic())
	if err != nil {
		return "", err
	}
	ct, err := keys.Seal(pk, []byte(plaintext))
	if err != nil {
		return "", err
	}
	out, err := kp.Open(ct)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (m *Manager) dropMessage(reason string, p *OutgoingMessage) {
	m.metrics.Dropped.WithLabelValues(EventSendMessage, reason).Inc()
	m.log.WithFields(logrus.Fields{"reason": reason, "from": p.FromUserID, "to": p.ToUserID}).
		Debug("message dropped")
}
