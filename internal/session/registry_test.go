package session

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistryCreateGetRemove(t *testing.T) {
	r := NewRegistry()
	s := r.Create("conn-1", "u1", "agent-a", "", Config{VoiceID: "alloy"})
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if s.ThreadID == "" {
		t.Fatalf("thread ID should be generated when absent")
	}
	if s.Status != StatusIdle {
		t.Fatalf("status = %q, want %q", s.Status, StatusIdle)
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.Config.VoiceID != "alloy" {
		t.Fatalf("unexpected session state: %+v", got)
	}

	byConn, err := r.GetByConn("conn-1")
	if err != nil {
		t.Fatalf("GetByConn() error = %v", err)
	}
	if byConn.ID != s.ID {
		t.Fatalf("GetByConn() id = %q, want %q", byConn.ID, s.ID)
	}

	if _, err := r.Remove(s.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := r.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after remove error = %v, want ErrNotFound", err)
	}
	if _, err := r.GetByConn("conn-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByConn() after remove error = %v, want ErrNotFound", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistryUserIsolation(t *testing.T) {
	r := NewRegistry()
	a := r.Create("c1", "u1", "agent", "", Config{})
	r.Create("c2", "u1", "agent", "", Config{})
	r.Create("c3", "u2", "agent", "", Config{})

	if got := len(r.GetByUser("u1")); got != 2 {
		t.Fatalf("GetByUser(u1) len = %d, want 2", got)
	}
	if got := len(r.GetByUser("u2")); got != 1 {
		t.Fatalf("GetByUser(u2) len = %d, want 1", got)
	}

	if _, err := r.Remove(a.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if got := len(r.GetByUser("u1")); got != 1 {
		t.Fatalf("GetByUser(u1) after remove len = %d, want 1", got)
	}
	if got := len(r.GetByUser("u2")); got != 1 {
		t.Fatalf("GetByUser(u2) unaffected len = %d, want 1", got)
	}
}

func TestRegistryUpdateStatusAndConfigMerge(t *testing.T) {
	r := NewRegistry()
	s := r.Create("c1", "u1", "agent", "", Config{
		ASRProvider: "openai",
		VoiceID:     "alloy",
		SpeechRate:  1.0,
	})

	if err := r.UpdateStatus(s.ID, StatusListening); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	got, _ := r.Get(s.ID)
	if got.Status != StatusListening {
		t.Fatalf("status = %q, want %q", got.Status, StatusListening)
	}

	voice := "nova"
	timeoutS := 120
	got, err := r.UpdateConfig(s.ID, ConfigPatch{VoiceID: &voice, SessionTimeoutS: &timeoutS})
	if err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	if got.Config.VoiceID != "nova" {
		t.Fatalf("VoiceID = %q, want nova", got.Config.VoiceID)
	}
	if got.Config.SessionTimeout != 2*time.Minute {
		t.Fatalf("SessionTimeout = %v, want 2m", got.Config.SessionTimeout)
	}
	// Untouched fields survive the merge.
	if got.Config.ASRProvider != "openai" || got.Config.SpeechRate != 1.0 {
		t.Fatalf("merge clobbered untouched fields: %+v", got.Config)
	}
}

func TestSessionTimeoutBoundary(t *testing.T) {
	r := NewRegistry()
	s := r.Create("c1", "u1", "agent", "", Config{SessionTimeout: time.Second})

	if s.TimedOut(s.LastActivity) {
		t.Fatalf("TimedOut() = true immediately after creation")
	}
	if !s.TimedOut(s.LastActivity.Add(1500 * time.Millisecond)) {
		t.Fatalf("TimedOut() = false after 1.5s of inactivity")
	}
}

func TestRegistrySweepEvictsIdle(t *testing.T) {
	r := NewRegistry()
	evicted := make(chan *Session, 1)
	r.SetEvictHook(func(s *Session) { evicted <- s })

	stale := r.Create("c1", "u1", "agent", "", Config{SessionTimeout: 20 * time.Millisecond})
	fresh := r.Create("c2", "u2", "agent", "", Config{SessionTimeout: time.Minute})

	time.Sleep(40 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartSweeper(ctx, 10*time.Millisecond)

	select {
	case s := <-evicted:
		if s.ID != stale.ID {
			t.Fatalf("evicted session = %q, want %q", s.ID, stale.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("sweep never evicted the idle session")
	}

	if _, err := r.Get(stale.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale session still resolvable: %v", err)
	}
	if _, err := r.Get(fresh.ID); err != nil {
		t.Fatalf("fresh session evicted: %v", err)
	}
}

func TestRegistryRemoveAll(t *testing.T) {
	r := NewRegistry()
	r.Create("c1", "u1", "agent", "", Config{})
	r.Create("c2", "u2", "agent", "", Config{})

	removed := r.RemoveAll()
	if len(removed) != 2 {
		t.Fatalf("RemoveAll() len = %d, want 2", len(removed))
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after RemoveAll, want 0", r.Len())
	}
	if got := len(r.GetByUser("u1")); got != 0 {
		t.Fatalf("GetByUser(u1) after RemoveAll len = %d, want 0", got)
	}
}

func TestAudioBufferCap(t *testing.T) {
	b := &AudioBuffer{max: 8}
	if err := b.Append([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := b.Append(bytes.Repeat([]byte{9}, 5)); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("Append() over cap error = %v, want ErrBufferFull", err)
	}
	// The buffered prefix survives the rejected chunk.
	if b.Len() != 4 {
		t.Fatalf("Len() = %d after rejected append, want 4", b.Len())
	}

	got := b.Take()
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("Take() = %v", got)
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d after Take, want 0", b.Len())
	}
}

func TestAudioBufferClearIdempotent(t *testing.T) {
	b := NewAudioBuffer()
	if err := b.Append([]byte{1, 2}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Clearing twice in a row leaves the buffer empty both times.
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("Len() = %d after Reset, want 0", b.Len())
	}
	b.Reset()
	if got := b.Take(); len(got) != 0 {
		t.Fatalf("Take() = %v after double Reset, want empty", got)
	}
	if got := b.Take(); len(got) != 0 {
		t.Fatalf("Take() = %v on empty buffer, want empty", got)
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", b.Len())
	}
}
