// Package walfile implements the on-disk WAL file format: a key/value
// header followed by length-prefixed, checksummed entries. Entry payloads
// are opaque byte blobs; higher layers own their encoding.
package walfile
