package voicechat

import "sync"

// mailbox retains at most one pending PCM frame. Pushing a new frame drops
// whatever was pending: a voice-chat feeder mixes a live sidechain, not a
// recording, so falling behind should shed stale audio instead of queuing
// it; the feeder never retains decoded audio beyond a single frame.
type mailbox struct {
	mu    sync.Mutex
	frame []int16
	has   bool
}

func (m *mailbox) push(frame []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = frame
	m.has = true
}

func (m *mailbox) pop() ([]int16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		return nil, false
	}
	frame := m.frame
	m.frame = nil
	m.has = false
	return frame, true
}
