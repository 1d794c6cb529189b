package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"vivarium/internal/domain/event"
)

// Digest hashes an event stream into a comparable fingerprint. Only
// deterministic fields participate: tick, position in the stream, type,
// agent and the canonical payload encoding (json.Marshal sorts map
// keys). Event IDs, absolute versions and wall-clock timestamps are
// excluded so equal logical streams digest equally regardless of when
// or at which log offset they were recorded.
func Digest(events []event.Event) string {
	h := sha256.New()
	for i, evt := range events {
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			payload = []byte("unencodable")
		}
		fmt.Fprintf(h, "%d|%d|%s|%s|%s\n", evt.Tick, i, evt.Type, evt.AgentID, payload)
	}
	return hex.EncodeToString(h.Sum(nil))
}
