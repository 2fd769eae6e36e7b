package hub

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// requestKey forwards a key request to its target. Requests for users that
// are not online are dropped without telling the requester.
func (m *Manager) requestKey(p *KeyRequest) {
	target, ok := m.registry.Lookup(p.ToUserID)
	if !ok || !m.reachable(target) {
		m.dropHandshake(EventRequestPublicKey, "target_offline", p.FromUserID, p.ToUserID)
		return
	}

	notice := KeyRequestNotice{FromUserID: p.FromUserID}
	if m.opts.StrictHandshake {
		notice.RequestID = uuid.NewString()
		m.pending[pair{from: p.FromUserID, to: p.ToUserID}] = notice.RequestID
	}
	if m.send(target.client, m.encode(EventPublicKeyRequest, notice)) {
		m.metrics.Handshakes.WithLabelValues("requested").Inc()
	}
}

// shareKey answers a key request. FromUserID is the key owner and ToUserID
// the requester, whose connection is resolved now rather than at request
// time so a reconnect in between is tolerated.
func (m *Manager) shareKey(p *KeyShare) {
	if m.opts.StrictHandshake {
		key := pair{from: p.ToUserID, to: p.FromUserID}
		id, ok := m.pending[key]
		if !ok || (p.RequestID != "" && p.RequestID != id) {
			m.dropHandshake(EventSharePublicKey, "no_pending_request", p.FromUserID, p.ToUserID)
			return
		}
		delete(m.pending, key)
	}

	if !p.Approved {
		m.metrics.Handshakes.WithLabelValues("denied").Inc()
		return
	}

	owner, ok := m.registry.Lookup(p.FromUserID)
	if !ok {
		m.dropHandshake(EventSharePublicKey, "owner_offline", p.FromUserID, p.ToUserID)
		return
	}
	requester, ok := m.registry.Lookup(p.ToUserID)
	if !ok || !m.reachable(requester) {
		m.dropHandshake(EventSharePublicKey, "requester_offline", p.FromUserID, p.ToUserID)
		return
	}

	delivery := KeyDelivery{FromUserID: owner.UserID, PublicKey: owner.PublicKey()}
	if m.send(requester.client, m.encode(EventReceivePublicKey, delivery)) {
		m.shared[pair{from: requester.UserID, to: owner.UserID}] = struct{}{}
		m.metrics.Handshakes.WithLabelValues("approved").Inc()
	}
}

func (m *Manager) dropHandshake(event, reason string, from, to UserID) {
	m.metrics.Dropped.WithLabelValues(event, reason).Inc()
	m.log.WithFields(logrus.Fields{"event": event, "reason": reason, "from": from, "to": to}).
		Debug("handshake step dropped")
}
