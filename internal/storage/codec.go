package storage

import (
	"encoding/json"
	"errors"
	"math"

	"ringevo/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps new records.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeArenaSnapshot(s model.ArenaSnapshot) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeArenaSnapshot(data []byte) (model.ArenaSnapshot, error) {
	var snapshot model.ArenaSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return model.ArenaSnapshot{}, err
	}
	if err := checkVersion(snapshot.VersionedRecord); err != nil {
		return model.ArenaSnapshot{}, err
	}
	return snapshot, nil
}

func EncodeEvent(e model.EventRecord) ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEvent(data []byte) (model.EventRecord, error) {
	var event model.EventRecord
	if err := json.Unmarshal(data, &event); err != nil {
		return model.EventRecord{}, err
	}
	if err := checkVersion(event.VersionedRecord); err != nil {
		return model.EventRecord{}, err
	}
	return event, nil
}

// EncodeFitnessHistory writes non-finite entries as null; they decode as NaN.
func EncodeFitnessHistory(history []float64) ([]byte, error) {
	out := make([]*float64, len(history))
	for i, f := range history {
		out[i] = model.Finite(f)
	}
	return json.Marshal(out)
}

func DecodeFitnessHistory(data []byte) ([]float64, error) {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	history := make([]float64, len(raw))
	for i, f := range raw {
		if f == nil {
			history[i] = math.NaN()
			continue
		}
		history[i] = *f
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
