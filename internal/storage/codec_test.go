package storage

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"ringevo/internal/model"
)

func TestDecodeArenaSnapshotFixture(t *testing.T) {
	data := readFixture(t, "arena_snapshot_v1.json")
	snapshot, err := DecodeArenaSnapshot(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if snapshot.RunID != "run-fixture-1" || snapshot.Capacity != 10 || snapshot.NextEvent != 4 {
		t.Fatalf("unexpected snapshot header: %+v", snapshot)
	}
	if len(snapshot.Members) != 4 {
		t.Fatalf("members=%d want 4", len(snapshot.Members))
	}
	if f := snapshot.Members[2].Fitness; f == nil || *f != 9 {
		t.Fatalf("unexpected fitness for slot 2: %v", f)
	}
	failed := snapshot.Members[3]
	if !failed.Failed || failed.Fitness != nil {
		t.Fatalf("expected failed member without fitness, got %+v", failed)
	}
}

func TestDecodeEventFixture(t *testing.T) {
	event, err := DecodeEvent(readFixture(t, "event_v1.json"))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if event.Event != 3 || event.ParentA != 2 || event.ParentB != 0 {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Children[0].Outcome != "replaced" || event.Children[1].Outcome != "inserted" {
		t.Fatalf("unexpected outcomes: %+v", event.Children)
	}
	if !event.Children[1].Failed || event.Children[1].Fitness != nil {
		t.Fatalf("expected failed child without fitness: %+v", event.Children[1])
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	run := model.RunRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion + 1, CodecVersion: CurrentCodecVersion},
		ID:              "run-1",
	}
	data, err := EncodeRun(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRun(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}

	snapshot := model.ArenaSnapshot{RunID: "run-1"}
	data, err = EncodeArenaSnapshot(snapshot)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeArenaSnapshot(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch for unversioned snapshot, got %v", err)
	}
}

func TestFitnessHistoryNonFiniteValues(t *testing.T) {
	data, err := EncodeFitnessHistory([]float64{1.5, math.Inf(-1), 2.5, math.NaN()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != "[1.5,null,2.5,null]" {
		t.Fatalf("unexpected encoding: %s", data)
	}
	history, err := DecodeFitnessHistory(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 4 || history[0] != 1.5 || history[2] != 2.5 {
		t.Fatalf("unexpected history: %v", history)
	}
	if !math.IsNaN(history[1]) || !math.IsNaN(history[3]) {
		t.Fatalf("expected NaN placeholders, got %v", history)
	}
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(fixturePath(name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}
