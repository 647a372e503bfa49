package eventlog

import (
	"context"
	"testing"
	"time"
)

func TestValidateTopic(t *testing.T) {
	valid := []string{
		"trading.tradeexecuted.v1",
		"astra.trading.tradeexecuted.v1",
		"gamefi.xp_awarded.v2",
		"nft.asset-minted.v10",
	}
	for _, topic := range valid {
		if err := ValidateTopic(topic); err != nil {
			t.Errorf("ValidateTopic(%q) error: %v", topic, err)
		}
	}

	invalid := []string{
		"",
		"trading",
		"trading.v1",
		"trading.tradeexecuted",
		"trading.tradeexecuted.1",
		"trading.tradeexecuted.version1",
		"Trading.tradeexecuted.v1",
		"trading..v1",
		".tradeexecuted.v1",
	}
	for _, topic := range invalid {
		if err := ValidateTopic(topic); err == nil {
			t.Errorf("ValidateTopic(%q) = nil, want error", topic)
		}
	}
}

func TestCanonicalTopic(t *testing.T) {
	tests := []struct {
		namespace string
		topic     string
		want      string
	}{
		{"astra", "trading.tradeexecuted.v1", "astra.trading.tradeexecuted.v1"},
		{"astra", "astra.trading.tradeexecuted.v1", "astra.trading.tradeexecuted.v1"},
		{"astra", "*.*.v1", "astra.*.*.v1"},
		{"", "trading.tradeexecuted.v1", "trading.tradeexecuted.v1"},
	}
	for _, tt := range tests {
		if got := CanonicalTopic(tt.namespace, tt.topic); got != tt.want {
			t.Errorf("CanonicalTopic(%q, %q) = %q, want %q", tt.namespace, tt.topic, got, tt.want)
		}
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"astra.trading.tradeexecuted.v1", "astra.trading.tradeexecuted.v1", true},
		{"astra.*.*.v1", "astra.trading.tradeexecuted.v1", true},
		{"astra.*.*.v1", "astra.gamefi.xpawarded.v1", true},
		{"astra.*.*.v1", "astra.trading.tradeexecuted.v2", false},
		{"astra.trading.*.v1", "astra.gamefi.xpawarded.v1", false},
		{"astra.*.v1", "astra.trading.tradeexecuted.v1", false},
	}
	for _, tt := range tests {
		if got := MatchTopic(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestPartitionFor(t *testing.T) {
	p1 := PartitionFor("order-1001", 8)
	p2 := PartitionFor("order-1001", 8)
	if p1 != p2 {
		t.Fatalf("PartitionFor not stable: %d vs %d", p1, p2)
	}
	if p1 < 0 || p1 >= 8 {
		t.Fatalf("PartitionFor out of range: %d", p1)
	}
	if got := PartitionFor("anything", 1); got != 0 {
		t.Errorf("PartitionFor with one partition = %d, want 0", got)
	}
}

func TestNewEventID_Sortable(t *testing.T) {
	early := NewEventID(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	late := NewEventID(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	if !(early < late) {
		t.Errorf("event IDs not time-ordered: %s vs %s", early, late)
	}
}

func TestMemoryStore_AppendAssignsDenseOffsets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 3; i++ {
		env, err := store.Append(ctx, Envelope{Topic: "astra.trading.tradeexecuted.v1", Partition: 2})
		if err != nil {
			t.Fatalf("Append error: %v", err)
		}
		if env.Offset != int64(i) {
			t.Errorf("offset = %d, want %d", env.Offset, i)
		}
	}

	latest, err := store.LatestOffset(ctx, "astra.trading.tradeexecuted.v1", 2)
	if err != nil {
		t.Fatalf("LatestOffset error: %v", err)
	}
	if latest != 2 {
		t.Errorf("LatestOffset = %d, want 2", latest)
	}

	empty, err := store.LatestOffset(ctx, "astra.trading.tradeexecuted.v1", 5)
	if err != nil {
		t.Fatalf("LatestOffset error: %v", err)
	}
	if empty != CursorNone {
		t.Errorf("LatestOffset on empty partition = %d, want %d", empty, CursorNone)
	}
}

func TestMemoryStore_CursorNeverMovesBack(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.LoadCursor(ctx, "g", "t.e.v1", 0); err != nil {
		t.Fatalf("LoadCursor error: %v", err)
	}

	if err := store.SaveCursor(ctx, "g", "t.e.v1", 0, 5); err != nil {
		t.Fatalf("SaveCursor error: %v", err)
	}
	if err := store.SaveCursor(ctx, "g", "t.e.v1", 0, 3); err != nil {
		t.Fatalf("SaveCursor error: %v", err)
	}

	cur, err := store.LoadCursor(ctx, "g", "t.e.v1", 0)
	if err != nil {
		t.Fatalf("LoadCursor error: %v", err)
	}
	if cur != 5 {
		t.Errorf("cursor = %d, want 5 after stale save", cur)
	}
}
