package resultcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/record"
)

// envelope is the versioned, checksummed wire form of a NodeResult.
type envelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

// Encode serializes a result into a checksummed envelope.
func Encode(res *NodeResult) ([]byte, error) {
	payload, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encoding node result: %w", err)
	}
	sum := sha256.Sum256(payload)
	return json.Marshal(envelope{
		Version:  EnvelopeVersion,
		Checksum: hex.EncodeToString(sum[:]),
		Payload:  payload,
	})
}

// Decode verifies and deserializes an envelope. Numbers in rows come back
// as int64 when integral and float64 otherwise.
func Decode(data []byte) (*NodeResult, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, env.Version)
	}
	sum := sha256.Sum256(env.Payload)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.UseNumber()
	var res NodeResult
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for i, row := range res.Rows {
		res.Rows[i] = record.NormalizeRow(row)
	}
	return &res, nil
}

// DecodeEntry decodes a stored entry for addr. A corrupt entry is logged and
// reported as absent so the node runs again.
func DecodeEntry(ctx context.Context, addr nodeid.Address, data []byte) (*NodeResult, bool, error) {
	res, err := Decode(data)
	if errors.Is(err, ErrCorrupt) {
		ctxlog.FromContext(ctx).Warn("Discarding corrupt checkpoint.", "node", addr.String(), "error", err)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	res.Address = addr
	return res, true, nil
}
