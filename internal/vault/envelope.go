package vault

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

// SchemaVersion is written into every envelope. Readers tolerate mismatches
// (logged, data still returned) so old records survive upgrades.
const SchemaVersion = "1"

// Envelope is the plaintext wrapper sealed as a unit before storage. The
// integrity digest is cryptographic and detects tampering of Data; it is
// unrelated to the backup manager's change-detection checksum.
type Envelope struct {
	Data          string `json:"data"`
	Integrity     string `json:"integrity"`
	Timestamp     int64  `json:"timestamp"` // epoch millis
	SchemaVersion string `json:"schema_version"`
}

func newEnvelope(data string, now time.Time) Envelope {
	return Envelope{
		Data:          data,
		Integrity:     digest(data),
		Timestamp:     now.UnixMilli(),
		SchemaVersion: SchemaVersion,
	}
}

// verifyIntegrity recomputes the digest of Data and compares in constant time.
func (e Envelope) verifyIntegrity() bool {
	want := digest(e.Data)
	return subtle.ConstantTimeCompare([]byte(want), []byte(e.Integrity)) == 1
}

func digest(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
