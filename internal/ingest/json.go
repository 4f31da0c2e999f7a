package ingest

import (
	"encoding/json"
	"fmt"
	"os"
)

// transcriptEntry is one message in an exported conversation transcript,
// an array of {"name": ..., "msg": ...} objects.
type transcriptEntry struct {
	Name string `json:"name"`
	Msg  string `json:"msg"`
}

// loadTranscript reads a JSON conversation export and turns each message
// into a "name: msg" unit so individual turns stay retrievable on their own.
// Entries without a name are attributed to "Unknown".
func loadTranscript(path, name string) ([]Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}

	var entries []transcriptEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing transcript %s: %w", name, err)
	}

	units := make([]Unit, 0, len(entries))
	for _, e := range entries {
		speaker := e.Name
		if speaker == "" {
			speaker = "Unknown"
		}
		units = append(units, Unit{
			Text: speaker + ": " + e.Msg,
			Metadata: map[string]string{
				unitSource: name + ":" + speaker,
				"name":     speaker,
			},
		})
	}
	return units, nil
}
