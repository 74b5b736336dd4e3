package voicechat

import "testing"

func TestMailboxRetainsOnlyLatestFrame(t *testing.T) {
	m := &mailbox{}
	m.push([]int16{1, 2})
	m.push([]int16{3, 4})

	frame, ok := m.pop()
	if !ok {
		t.Fatal("expected a pending frame")
	}
	if frame[0] != 3 || frame[1] != 4 {
		t.Fatalf("expected the most recently pushed frame, got %v", frame)
	}
	if _, ok := m.pop(); ok {
		t.Fatal("expected mailbox empty after pop")
	}
}

func TestMailboxEmptyPopReturnsFalse(t *testing.T) {
	m := &mailbox{}
	if _, ok := m.pop(); ok {
		t.Fatal("expected empty mailbox to report no frame")
	}
}
