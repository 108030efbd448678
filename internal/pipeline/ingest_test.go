package pipeline

import (
	"testing"
	"time"
)

func TestInternalDateFor_PrefersDateHeader(t *testing.T) {
	dateHeader := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	receivedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got := internalDateFor(WorkItem{DateHeader: dateHeader, ReceivedAt: receivedAt})
	if !got.Equal(dateHeader) {
		t.Errorf("internalDateFor() = %v, want Date header %v", got, dateHeader)
	}
}

func TestInternalDateFor_FallsBackToReceivedAtWhenDateHeaderIsZero(t *testing.T) {
	receivedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got := internalDateFor(WorkItem{ReceivedAt: receivedAt})
	if !got.Equal(receivedAt) {
		t.Errorf("internalDateFor() = %v, want ReceivedAt fallback %v", got, receivedAt)
	}
}
