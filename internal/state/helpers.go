package state

import (
	"encoding/json"
	"time"

	"github.com/ccrvlh/codey-sub000/internal/engine"
)

func encodeParts(parts []engine.Part) (string, error) {
	data, err := json.Marshal(parts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeParts(v string) ([]engine.Part, error) {
	var out []engine.Part
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
