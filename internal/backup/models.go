package backup

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"finvault/internal/platform/config"
)

// SchemaVersion is stamped on every backup entry.
const SchemaVersion = "1"

// Payload is one application-state snapshot as supplied by the host: raw
// JSON for positions, settings, and free-form metadata.
type Payload struct {
	Assets   json.RawMessage `json:"assets"`
	Settings json.RawMessage `json:"settings"`
	Metadata json.RawMessage `json:"metadata"`
}

// Entry is one snapshot in the backup ring. Checksum is xxhash64 over the
// serialized payload: fast and non-cryptographic, used only to decide whether
// a new backup is worth creating. Tamper detection is the encrypted store's
// integrity digest, a separate mechanism.
type Entry struct {
	ID            uuid.UUID `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       Payload   `json:"data"`
	Checksum      uint64    `json:"checksum"`
	SizeBytes     int       `json:"size"`
	SchemaVersion string    `json:"version"`
}

// newEntry builds a candidate entry from a snapshot, applying the configured
// compression level before measuring.
func newEntry(payload Payload, level config.CompressionLevel, now time.Time) (Entry, error) {
	if level == config.CompressionBasic {
		payload = compactPayload(payload)
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:            uuid.New(),
		Timestamp:     now,
		Payload:       payload,
		Checksum:      xxhash.Sum64(serialized),
		SizeBytes:     len(serialized),
		SchemaVersion: SchemaVersion,
	}, nil
}

// compactPayload strips insignificant whitespace from the host-supplied raw
// JSON. Invalid fragments are left as-is; they fail later at Marshal time.
func compactPayload(p Payload) Payload {
	return Payload{
		Assets:   compactJSON(p.Assets),
		Settings: compactJSON(p.Settings),
		Metadata: compactJSON(p.Metadata),
	}
}

func compactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return append(json.RawMessage(nil), buf.Bytes()...)
}
