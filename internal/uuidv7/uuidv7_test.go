package uuidv7_test

import (
	"testing"

	"pkt.systems/rentald/internal/uuidv7"
)

func TestNewIsVersion7(t *testing.T) {
	t.Parallel()

	id := uuidv7.New()
	if id.Version() != 7 {
		t.Fatalf("expected version 7, got %d", id.Version())
	}
}

func TestNewStringOrdering(t *testing.T) {
	t.Parallel()

	a := uuidv7.NewString()
	b := uuidv7.NewString()
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
}
