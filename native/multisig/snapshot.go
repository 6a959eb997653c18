package multisig

import (
	"encoding/hex"
	"encoding/json"
)

// AccountSnapshot is the authoritative account-plus-members blob exchanged
// with the backend relay and ingested during recovery.
type AccountSnapshot struct {
	Account Account `json:"account"`
	Members Members `json:"members"`
}

// QueueSnapshot is the queue-plus-signatures blob exchanged with the
// backend relay, both when reporting terminal transitions and when
// rebuilding local state.
type QueueSnapshot struct {
	Queue      Queue      `json:"queue"`
	Signatures Signatures `json:"signatures"`
}

// Encode serializes the snapshot into the hex transport form the relay
// stores as opaque raw data.
func (s AccountSnapshot) Encode() (string, error) {
	return encodeRaw(s)
}

func (s QueueSnapshot) Encode() (string, error) {
	return encodeRaw(s)
}

// DecodeAccountSnapshot parses the hex transport form.
func DecodeAccountSnapshot(raw string) (AccountSnapshot, error) {
	var snap AccountSnapshot
	err := decodeRaw(raw, &snap)
	return snap, err
}

// DecodeQueueSnapshot parses the hex transport form.
func DecodeQueueSnapshot(raw string) (QueueSnapshot, error) {
	var snap QueueSnapshot
	err := decodeRaw(raw, &snap)
	return snap, err
}

func encodeRaw(v any) (string, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func decodeRaw(raw string, v any) error {
	buf, err := hex.DecodeString(raw)
	if err != nil {
		return validationf("malformed snapshot: %v", err)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return validationf("malformed snapshot: %v", err)
	}
	return nil
}
