package domain

import "encoding/json"

// Record is one opaque ingested record. The pipeline ships records without
// inspecting them.
type Record = json.RawMessage

// Stream identifies the logical stream a batch of records belongs to.
type Stream struct {
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
}

// Destination describes where exported entries are delivered.
// Endpoint and Token come from configuration, keyed by Name.
type Destination struct {
	Name     string
	Endpoint string
	Token    string
}

// Entry is one decoded WAL entry on its way to a sink.
//
// StartPos/EndPos are the byte positions in the source file before and after
// the entry. EndPos is what gets committed to the offset store after a
// successful export, so a resumed reader skips to exactly this byte.
type Entry struct {
	Stream       Stream
	SchemaKey    string
	PartitionKey string
	Records      []Record

	File     string
	StartPos int64
	EndPos   int64

	Dest Destination
}
