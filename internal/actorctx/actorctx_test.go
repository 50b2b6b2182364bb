package actorctx

import (
	"context"
	"testing"
)

func TestActorRoundTrip(t *testing.T) {
	ctx := With(context.Background(), Actor{UserID: "u-1", Email: "a@example.com", Role: "user"})

	a, ok := From(ctx)
	if !ok || a.Email != "a@example.com" {
		t.Fatalf("unexpected actor: %+v ok=%v", a, ok)
	}

	id, ok := UserIDFrom(ctx)
	if !ok || id != "u-1" {
		t.Fatalf("expected u-1, got %q", id)
	}

	if _, ok := From(context.Background()); ok {
		t.Fatalf("empty context must not carry an actor")
	}
	if _, ok := From(With(context.Background(), Actor{})); ok {
		t.Fatalf("actor without id must not count")
	}
}
