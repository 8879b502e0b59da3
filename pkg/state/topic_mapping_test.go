package state

import "testing"

func TestSetAndLookupMapping(t *testing.T) {
	s := NewTopicMappingStore(t.TempDir())

	if err := s.SetMapping("chat-1", "thread-1", "research"); err != nil {
		t.Fatalf("SetMapping: %v", err)
	}

	if got := s.LookupSpecialist("chat-1", "thread-1"); got != "research" {
		t.Errorf("LookupSpecialist() = %q, want %q", got, "research")
	}
}

func TestLookupSpecialistUnknownReturnsEmpty(t *testing.T) {
	s := NewTopicMappingStore(t.TempDir())
	if got := s.LookupSpecialist("nope", "nope"); got != "" {
		t.Errorf("LookupSpecialist() = %q, want empty string", got)
	}
}

func TestSetMappingUpdatesExisting(t *testing.T) {
	s := NewTopicMappingStore(t.TempDir())
	if err := s.SetMapping("chat-1", "thread-1", "research"); err != nil {
		t.Fatalf("SetMapping: %v", err)
	}
	if err := s.SetMapping("chat-1", "thread-1", "finance"); err != nil {
		t.Fatalf("SetMapping (update): %v", err)
	}

	if got := s.LookupSpecialist("chat-1", "thread-1"); got != "finance" {
		t.Errorf("LookupSpecialist() = %q, want %q after update", got, "finance")
	}
	if len(s.Mappings) != 1 {
		t.Errorf("len(Mappings) = %d, want 1 (update, not append)", len(s.Mappings))
	}
}

func TestRemoveMapping(t *testing.T) {
	s := NewTopicMappingStore(t.TempDir())
	s.SetMapping("chat-1", "thread-1", "research")

	if err := s.RemoveMapping("chat-1", "thread-1"); err != nil {
		t.Fatalf("RemoveMapping: %v", err)
	}
	if got := s.LookupSpecialist("chat-1", "thread-1"); got != "" {
		t.Errorf("LookupSpecialist() = %q, want empty after removal", got)
	}
}

func TestTopicMappingStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	first := NewTopicMappingStore(dir)
	if err := first.SetMapping("chat-9", "thread-9", "ops"); err != nil {
		t.Fatalf("SetMapping: %v", err)
	}

	second := NewTopicMappingStore(dir)
	if got := second.LookupSpecialist("chat-9", "thread-9"); got != "ops" {
		t.Errorf("LookupSpecialist() on reloaded store = %q, want %q", got, "ops")
	}
}
