package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key returns the content address for one agent invocation: the hex
// SHA-256 over the node id, agent id, agent fingerprint and the resolved
// input bytes, separated by NUL bytes. Identical inputs yield identical keys.
func Key(nodeID, agentID, fingerprint string, input []byte) string {
	h := sha256.New()
	h.Write([]byte(nodeID))
	h.Write([]byte{0})
	h.Write([]byte(agentID))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}
