package realtime

import (
	"context"
	"testing"
)

func TestDispatchToEmptyRoomSkips(t *testing.T) {
	hub := NewHub()

	res := hub.DispatchEvent(context.Background(), "sess-1", "session_status", nil)
	if !res.OK {
		t.Error("dispatch to empty room should still be ok")
	}
	if !res.Skipped || res.Reason != "no_room_subscribers" {
		t.Errorf("result = %+v, want skipped with no_room_subscribers", res)
	}
	if res.Delivered != 0 {
		t.Errorf("delivered = %d, want 0", res.Delivered)
	}
}

func TestJoinLeaveRoomAccounting(t *testing.T) {
	hub := NewHub()

	a := hub.Join("sess-1", nil)
	b := hub.Join("sess-1", nil)
	if a == b {
		t.Error("socket ids must be unique")
	}
	if got := hub.RoomSize("sess-1"); got != 2 {
		t.Fatalf("room size = %d, want 2", got)
	}

	hub.Leave("sess-1", a)
	if got := hub.RoomSize("sess-1"); got != 1 {
		t.Fatalf("room size after leave = %d, want 1", got)
	}

	hub.Leave("sess-1", b)
	if got := hub.RoomSize("sess-1"); got != 0 {
		t.Fatalf("room size after last leave = %d, want 0", got)
	}
	if _, ok := hub.rooms["sess-1"]; ok {
		t.Error("empty room should be dropped from the map")
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	hub := NewHub()
	hub.Join("sess-1", nil)

	res := hub.DispatchEvent(context.Background(), "sess-2", "new_message", nil)
	if !res.Skipped {
		t.Errorf("dispatch to other room = %+v, want skip", res)
	}
}
