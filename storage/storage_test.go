package storage

import (
	"testing"

	"pulseboard/domain"
)

func TestTaskEntityRoundTrip(t *testing.T) {
	task := domain.Task{
		ID:          "t1",
		UserID:      "u1",
		Title:       "Write tests",
		Description: "cover the codecs",
		Status:      domain.StatusInProgress,
		Priority:    domain.PriorityHigh,
		CreatedAt:   100,
		UpdatedAt:   200,
	}

	data, err := encodeTaskEntity("u1", task)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeTaskEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != task {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, task)
	}
}

func TestDecodeTaskEntityUsesKeysForIdentity(t *testing.T) {
	data := []byte(`{"PartitionKey":"u9","RowKey":"42","Title":"from table","Status":"done","Priority":"low"}`)
	got, err := decodeTaskEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "42" || got.UserID != "u9" {
		t.Fatalf("identity not taken from entity keys: %+v", got)
	}
	if got.Status != domain.StatusDone {
		t.Fatalf("unexpected status: %s", got.Status)
	}
}

func TestDecodeSettingsEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"u1","RowKey":"u1","TasksPerColumn":5,"ShowDoneTasks":true}`)
	s, err := decodeSettingsEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.TasksPerColumn != 5 || !s.ShowDoneTasks {
		t.Fatalf("unexpected settings: %+v", s)
	}
}

func TestDefaultSettings(t *testing.T) {
	s := defaultSettings()
	if s.TasksPerColumn <= 0 {
		t.Fatalf("default tasks per column must be positive, got %d", s.TasksPerColumn)
	}
	if !s.ShowDoneTasks {
		t.Fatal("done tasks should be shown by default")
	}
}
