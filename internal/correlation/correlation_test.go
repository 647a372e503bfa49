package correlation

import (
	"context"
	"testing"
)

func TestEnsure_GeneratesWhenAbsent(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if id == "" {
		t.Fatal("Ensure returned empty ID")
	}
	if FromContext(ctx) != id {
		t.Errorf("context carries %q, want %q", FromContext(ctx), id)
	}

	// A second Ensure keeps the existing ID.
	ctx2, id2 := Ensure(ctx)
	if id2 != id {
		t.Errorf("Ensure replaced existing ID: %q -> %q", id, id2)
	}
	if ctx2 != ctx {
		t.Error("Ensure allocated a new context for an already-carried ID")
	}
}

func TestFromContext_Empty(t *testing.T) {
	if got := FromContext(context.Background()); got != "" {
		t.Errorf("FromContext on bare context = %q, want empty", got)
	}
}

func TestCausation(t *testing.T) {
	ctx := WithCausation(context.Background(), "event-42")
	if got := CausationFromContext(ctx); got != "event-42" {
		t.Errorf("causation = %q, want event-42", got)
	}
	if got := CausationFromContext(context.Background()); got != "" {
		t.Errorf("causation on bare context = %q, want empty", got)
	}
}
