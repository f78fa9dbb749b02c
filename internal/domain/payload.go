package domain

import (
	"encoding/json"
	"fmt"
)

// payload is the wire form of an entry inside a WAL file. The WAL layer
// treats it as an opaque length-prefixed blob; only this package knows the
// encoding.
type payload struct {
	Stream       Stream   `json:"stream"`
	SchemaKey    string   `json:"schema_key,omitempty"`
	PartitionKey string   `json:"partition_key,omitempty"`
	Records      []Record `json:"records"`
}

// EncodePayload serializes stream identity and records into a WAL entry blob.
func EncodePayload(stream Stream, schemaKey, partitionKey string, records []Record) ([]byte, error) {
	p := payload{
		Stream:       stream,
		SchemaKey:    schemaKey,
		PartitionKey: partitionKey,
		Records:      records,
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode entry payload: %w", err)
	}
	return b, nil
}

// DecodePayload parses a WAL entry blob back into its components.
func DecodePayload(b []byte) (Stream, string, string, []Record, error) {
	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Stream{}, "", "", nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return p.Stream, p.SchemaKey, p.PartitionKey, p.Records, nil
}
