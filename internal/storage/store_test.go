package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

func TestOpenAndClose(t *testing.T) {
	s, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "nested", "test.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got, err := s.GetState(ctx, nil)
	if err != nil {
		t.Fatalf("GetState before write: %v", err)
	}
	if string(got) != "null" {
		t.Fatalf("GetState before write = %s, want null", got)
	}

	want := json.RawMessage(`{"counter":1}`)
	if err := s.PutState(ctx, nil, want); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	got, err = s.GetState(ctx, nil)
	if err != nil {
		t.Fatalf("GetState after write: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("GetState = %s, want %s", got, want)
	}

	// Replacing state overwrites rather than accumulating rows.
	want2 := json.RawMessage(`{"counter":2}`)
	if err := s.PutState(ctx, nil, want2); err != nil {
		t.Fatalf("PutState second write: %v", err)
	}
	got, err = s.GetState(ctx, nil)
	if err != nil {
		t.Fatalf("GetState after second write: %v", err)
	}
	if string(got) != string(want2) {
		t.Fatalf("GetState = %s, want %s", got, want2)
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	ctx := context.Background()
	s, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for _, id := range []string{"q1", "q2", "q3"} {
		if err := s.EnqueueQueueItem(ctx, nil, id, "doWork", json.RawMessage(`{"n":1}`)); err != nil {
			t.Fatalf("EnqueueQueueItem %s: %v", id, err)
		}
	}

	items, err := s.ListQueueItems(ctx, nil)
	if err != nil {
		t.Fatalf("ListQueueItems: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	for i, want := range []string{"q1", "q2", "q3"} {
		if items[i].ID != want {
			t.Fatalf("items[%d].ID = %s, want %s", i, items[i].ID, want)
		}
	}

	if err := s.DeleteQueueItem(ctx, nil, "q2"); err != nil {
		t.Fatalf("DeleteQueueItem: %v", err)
	}
	items, err = s.ListQueueItems(ctx, nil)
	if err != nil {
		t.Fatalf("ListQueueItems after delete: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) after delete = %d, want 2", len(items))
	}
}

func TestScheduleDueFiltering(t *testing.T) {
	ctx := context.Background()
	s, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.PutSchedule(ctx, nil, Schedule{ID: "s1", Callback: "tick", Type: ScheduleTypeScheduled, Time: 100}); err != nil {
		t.Fatalf("PutSchedule s1: %v", err)
	}
	if err := s.PutSchedule(ctx, nil, Schedule{ID: "s2", Callback: "tick", Type: ScheduleTypeScheduled, Time: 200}); err != nil {
		t.Fatalf("PutSchedule s2: %v", err)
	}

	due, err := s.ListDueSchedules(ctx, nil, 150)
	if err != nil {
		t.Fatalf("ListDueSchedules: %v", err)
	}
	if len(due) != 1 || due[0].ID != "s1" {
		t.Fatalf("ListDueSchedules(150) = %+v, want only s1", due)
	}

	// Cron-style reschedule: rewrite the same row to the next fire time.
	if err := s.PutSchedule(ctx, nil, Schedule{ID: "s1", Callback: "tick", Type: ScheduleTypeCron, Time: 300, Cron: "* * * * *"}); err != nil {
		t.Fatalf("PutSchedule reschedule: %v", err)
	}
	all, err := s.ListSchedules(ctx, nil)
	if err != nil {
		t.Fatalf("ListSchedules: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2 (reschedule should not duplicate)", len(all))
	}

	if err := s.DeleteSchedule(ctx, nil, "s2"); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}
	all, err = s.ListSchedules(ctx, nil)
	if err != nil {
		t.Fatalf("ListSchedules after delete: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len(all) after delete = %d, want 1", len(all))
	}
}

func TestMCPServerBindingRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	b := MCPServerBinding{
		ID:        "srv-1",
		Name:      "docs",
		ServerURL: "https://mcp.example.com/sse",
		ClientID:  "client-abc",
	}
	if err := s.PutMCPServer(ctx, nil, b); err != nil {
		t.Fatalf("PutMCPServer: %v", err)
	}

	list, err := s.ListMCPServers(ctx, nil)
	if err != nil {
		t.Fatalf("ListMCPServers: %v", err)
	}
	if len(list) != 1 || list[0].ServerURL != b.ServerURL {
		t.Fatalf("ListMCPServers = %+v, want one binding matching %+v", list, b)
	}

	b.ClientID = "client-xyz"
	if err := s.PutMCPServer(ctx, nil, b); err != nil {
		t.Fatalf("PutMCPServer update: %v", err)
	}
	list, err = s.ListMCPServers(ctx, nil)
	if err != nil {
		t.Fatalf("ListMCPServers after update: %v", err)
	}
	if len(list) != 1 || list[0].ClientID != "client-xyz" {
		t.Fatalf("ListMCPServers after update = %+v, want ClientID client-xyz", list)
	}

	if err := s.DeleteMCPServer(ctx, nil, "srv-1"); err != nil {
		t.Fatalf("DeleteMCPServer: %v", err)
	}
	list, err = s.ListMCPServers(ctx, nil)
	if err != nil {
		t.Fatalf("ListMCPServers after delete: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("ListMCPServers after delete = %+v, want empty", list)
	}
}

func TestChatMessageLog(t *testing.T) {
	ctx := context.Background()
	s, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.AppendChatMessage(ctx, nil, "m1", json.RawMessage(`{"role":"user","content":"hi"}`)); err != nil {
		t.Fatalf("AppendChatMessage m1: %v", err)
	}
	if err := s.AppendChatMessage(ctx, nil, "m2", json.RawMessage(`{"role":"assistant","content":"hello"}`)); err != nil {
		t.Fatalf("AppendChatMessage m2: %v", err)
	}

	msgs, err := s.ListChatMessages(ctx, nil)
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("ListChatMessages = %+v, want m1 then m2", msgs)
	}

	if err := s.ClearChatMessages(ctx, nil); err != nil {
		t.Fatalf("ClearChatMessages: %v", err)
	}
	msgs, err = s.ListChatMessages(ctx, nil)
	if err != nil {
		t.Fatalf("ListChatMessages after clear: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("ListChatMessages after clear = %+v, want empty", msgs)
	}
}

func TestDeleteAllClearsEveryTable(t *testing.T) {
	ctx := context.Background()
	s, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.PutState(ctx, nil, json.RawMessage(`{"x":1}`)); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	if err := s.EnqueueQueueItem(ctx, nil, "q1", "cb", json.RawMessage("null")); err != nil {
		t.Fatalf("EnqueueQueueItem: %v", err)
	}
	if err := s.PutSchedule(ctx, nil, Schedule{ID: "s1", Callback: "cb", Type: ScheduleTypeScheduled, Time: 1}); err != nil {
		t.Fatalf("PutSchedule: %v", err)
	}
	if err := s.PutMCPServer(ctx, nil, MCPServerBinding{ID: "srv-1", Name: "n", ServerURL: "u"}); err != nil {
		t.Fatalf("PutMCPServer: %v", err)
	}
	if err := s.AppendChatMessage(ctx, nil, "m1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("AppendChatMessage: %v", err)
	}

	if err := s.DeleteAll(ctx, nil); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}

	if got, _ := s.GetState(ctx, nil); string(got) != "null" {
		t.Fatalf("state after DeleteAll = %s, want null", got)
	}
	if items, _ := s.ListQueueItems(ctx, nil); len(items) != 0 {
		t.Fatalf("queue after DeleteAll = %+v, want empty", items)
	}
	if scheds, _ := s.ListSchedules(ctx, nil); len(scheds) != 0 {
		t.Fatalf("schedule after DeleteAll = %+v, want empty", scheds)
	}
	if servers, _ := s.ListMCPServers(ctx, nil); len(servers) != 0 {
		t.Fatalf("mcp_servers after DeleteAll = %+v, want empty", servers)
	}
	if msgs, _ := s.ListChatMessages(ctx, nil); len(msgs) != 0 {
		t.Fatalf("chat_messages after DeleteAll = %+v, want empty", msgs)
	}
}

func TestTransactionRollbackLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	s, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.PutState(ctx, nil, json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if err := s.PutState(ctx, tx, json.RawMessage(`{"v":2}`)); err != nil {
		t.Fatalf("PutState in tx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	got, err := s.GetState(ctx, nil)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if string(got) != `{"v":1}` {
		t.Fatalf("GetState after rollback = %s, want unchanged {\"v\":1}", got)
	}
}
