package job

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a job body to its wire JSON. Timestamps are rendered in
// UTC with RFC 3339 precision so they round-trip exactly.
func Encode(j *Job) ([]byte, error) {
	if j.Type == "" {
		return nil, fmt.Errorf("encode job %s: missing type", j.ID)
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	return data, nil
}

// Decode parses a wire JSON job body.
func Decode(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if j.Type == "" {
		return nil, fmt.Errorf("decode job %s: missing type", j.ID)
	}
	j.CreatedAt = j.CreatedAt.UTC()
	return &j, nil
}
