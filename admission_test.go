package shepherd

import (
	"context"
	"testing"
	"time"
)

func TestPassthroughGate(t *testing.T) {
	gate := NewPassthroughGate()

	start := time.Now()

	for shardID := int32(0); shardID < 8; shardID++ {
		err := gate.Request(context.Background(), shardID, shardID%2 == 0)
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}

		err = gate.Release(context.Background(), shardID)
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected pass-through requests to return immediately, but took %v", elapsed)
	}
}

func TestBucketGateFirstRequest(t *testing.T) {
	gate := NewBucketGate(1)

	err := gate.Request(context.Background(), 0, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	err = gate.Release(context.Background(), 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestBucketGateInvalidConcurrency(t *testing.T) {
	gate := NewBucketGate(0)

	err := gate.Request(context.Background(), 3, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}
