package worker

import "encoding/json"

// payload is the resolved push payload.
type payload struct {
	Title string
	Body  string
	Data  map[string]any
}

// wirePayload is the server-defined JSON shape; every field is optional.
type wirePayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Data  any    `json:"data"`
}

// decodePayload turns untrusted push data into a payload, never failing.
//
// Absent and malformed data share one fallback branch: an empty title (the
// caller substitutes the default) and the raw text as body. That mirrors the
// upstream behavior of swallowing parse errors rather than distinguishing
// "no payload" from "bad payload".
func decodePayload(raw []byte) payload {
	if len(raw) == 0 {
		return payload{Data: map[string]any{}}
	}

	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return payload{Body: string(raw), Data: map[string]any{}}
	}

	data, ok := w.Data.(map[string]any)
	if !ok {
		data = map[string]any{}
	}
	return payload{Title: w.Title, Body: w.Body, Data: data}
}
