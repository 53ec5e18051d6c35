package monitor

// Subscribe returns a channel that receives every published snapshot. A
// subscriber that falls behind only ever misses intermediate snapshots: the
// oldest pending one is dropped to make room for the newest. The channel is
// closed by cancel or by Close.
func (s *Store) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.nextSub++
	id := s.nextSub
	s.subs[id] = ch
	ch <- s.current.Load().clone()
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (s *Store) notifyLocked(snap Snapshot) {
	for _, ch := range s.subs {
		out := snap.clone()
		select {
		case ch <- out:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- out:
		default:
		}
	}
}
