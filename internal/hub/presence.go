package hub

// publish sends the full online-user list to every open connection, joined
// or not.
func (m *Manager) publish() {
	frame := m.encode(EventOnlineUsers, m.registry.Snapshot())
	if frame == nil {
		return
	}
	for c := range m.clients {
		m.send(c, frame)
	}
}
