package fieldservice

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// extractID pulls the created record's id out of a create response (jobs and
// customers share the same envelope). Different backend deployments echo the
// id in different places, so extraction tries each known shape in a fixed
// priority order:
//
//  1. top-level "id"
//  2. top-level "job_id"
//  3. nested "job.id"
//  4. nested "data.id"
//
// Total absence of an extractable id is [ErrMalformedResponse], never a
// silent empty string.
func extractID(raw []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	candidates := []any{
		body["id"],
		body["job_id"],
		nested(body, "job", "id"),
		nested(body, "data", "id"),
	}
	for _, v := range candidates {
		if id := idString(v); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no job id in %s", ErrMalformedResponse, truncate(raw, 256))
}

// responseEchoesSchedule reports whether a create response already carries a
// non-null schedule, in which case no follow-up schedule call is needed. The
// same envelopes are probed as for id extraction.
func responseEchoesSchedule(raw []byte) bool {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return false
	}
	if v, ok := body["schedule"]; ok && v != nil {
		return true
	}
	for _, outer := range []string{"job", "data"} {
		if m, ok := body[outer].(map[string]any); ok {
			if v, ok := m["schedule"]; ok && v != nil {
				return true
			}
		}
	}
	return false
}

func nested(body map[string]any, outer, inner string) any {
	m, ok := body[outer].(map[string]any)
	if !ok {
		return nil
	}
	return m[inner]
}

// idString normalises a decoded id value to text. Numbers keep their exact
// decimal form via [json.Number].
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	default:
		return ""
	}
}
