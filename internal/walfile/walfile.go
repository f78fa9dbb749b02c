package walfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/obstack/walpipe/internal/domain"
)

const (
	walMagic   uint32 = 0x57504C31 // "WPL1"
	walVersion uint8  = 1

	// entryOverhead is the framing cost per entry: u32 length + u32 crc.
	entryOverhead = 8

	// maxEntrySize bounds a single entry. A length prefix beyond this is
	// treated as corruption rather than an allocation request.
	maxEntrySize = 64 << 20
)

// Header keys written by the pipeline.
const (
	HeaderPipelineID  = "pipeline_id"
	HeaderOrgID       = "org_id"
	HeaderStreamName  = "stream_name"
	HeaderStreamType  = "stream_type"
	HeaderDestination = "destination"
)

// File is an open WAL file in either write or read mode.
//
// Entries are framed as u32 length | payload | u32 crc32(payload), little
// endian, preceded by a key/value file header. Payloads are opaque to this
// package.
type File struct {
	f         *os.File
	w         *bufio.Writer
	r         *bufio.Reader
	path      string
	pos       int64
	headerLen int64
	header    map[string]string
}

// EntrySize returns the on-disk size of an entry for a payload of n bytes.
func EntrySize(n int) int64 {
	return int64(n) + entryOverhead
}

// Create creates a new WAL file for appending and writes its header.
// bufSize controls the write buffer; <= 0 uses the bufio default.
func Create(path string, header map[string]string, bufSize int) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create wal file %s: %w", path, err)
	}

	hdr, err := encodeHeader(header)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("write wal header %s: %w", path, err)
	}

	var w *bufio.Writer
	if bufSize > 0 {
		w = bufio.NewWriterSize(f, bufSize)
	} else {
		w = bufio.NewWriter(f)
	}

	hc := make(map[string]string, len(header))
	for k, v := range header {
		hc[k] = v
	}

	return &File{
		f:         f,
		w:         w,
		path:      path,
		pos:       int64(len(hdr)),
		headerLen: int64(len(hdr)),
		header:    hc,
	}, nil
}

// Open opens an existing WAL file for sequential reading starting at
// startPos. A startPos at or below the header length starts at the first
// entry. Returns domain.ErrNotFound for a missing file and
// domain.ErrInvalidFormat for an unparseable header.
func Open(path string, startPos int64) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("open wal file %s: %w", path, err)
	}

	header, headerLen, err := decodeHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidFormat, path, err)
	}

	if startPos < headerLen {
		startPos = headerLen
	}
	if _, err := f.Seek(startPos, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek wal file %s: %w", path, err)
	}

	return &File{
		f:         f,
		r:         bufio.NewReaderSize(f, 64*1024),
		path:      path,
		pos:       startPos,
		headerLen: headerLen,
		header:    header,
	}, nil
}

// Write appends one framed entry and returns its on-disk size. Payloads over
// the per-entry cap are rejected up front: the read side treats such lengths
// as corruption, so letting them through would write an unreadable entry.
func (wf *File) Write(payload []byte) (int64, error) {
	if wf.w == nil {
		return 0, os.ErrClosed
	}
	if len(payload) > maxEntrySize {
		return 0, fmt.Errorf("%w: %d bytes exceeds cap %d", domain.ErrEntryTooLarge, len(payload), maxEntrySize)
	}

	var frame [4]byte
	binary.LittleEndian.PutUint32(frame[:], uint32(len(payload)))
	if _, err := wf.w.Write(frame[:]); err != nil {
		return 0, fmt.Errorf("write entry length: %w", err)
	}
	if _, err := wf.w.Write(payload); err != nil {
		return 0, fmt.Errorf("write entry payload: %w", err)
	}
	binary.LittleEndian.PutUint32(frame[:], crc32.ChecksumIEEE(payload))
	if _, err := wf.w.Write(frame[:]); err != nil {
		return 0, fmt.Errorf("write entry checksum: %w", err)
	}

	n := EntrySize(len(payload))
	wf.pos += n
	return n, nil
}

// ReadEntryWithLength decodes the next entry and the number of bytes it
// consumed. A clean or partial end of written data returns (nil, 0, nil);
// the caller should retry later if the file is still being appended.
// A checksum mismatch or implausible length returns domain.ErrDecode.
func (wf *File) ReadEntryWithLength() ([]byte, int64, error) {
	if wf.r == nil {
		return nil, 0, os.ErrClosed
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(wf.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, 0, nil
		}
		if err == io.ErrUnexpectedEOF {
			return nil, 0, wf.rewind()
		}
		return nil, 0, fmt.Errorf("read entry length: %w", err)
	}

	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length == 0 || length > maxEntrySize {
		return nil, 0, fmt.Errorf("%w: entry length %d at offset %d", domain.ErrDecode, length, wf.pos)
	}

	buf := make([]byte, length+4)
	if _, err := io.ReadFull(wf.r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// Entry tail not written yet.
			return nil, 0, wf.rewind()
		}
		return nil, 0, fmt.Errorf("read entry payload: %w", err)
	}

	payload := buf[:length]
	want := binary.LittleEndian.Uint32(buf[length:])
	if got := crc32.ChecksumIEEE(payload); got != want {
		return nil, 0, fmt.Errorf("%w: checksum mismatch at offset %d", domain.ErrDecode, wf.pos)
	}

	consumed := EntrySize(int(length))
	wf.pos += consumed
	return payload, consumed, nil
}

// rewind restores the read position after a partial frame so that a retry
// observes the entry from its start.
func (wf *File) rewind() error {
	if _, err := wf.f.Seek(wf.pos, io.SeekStart); err != nil {
		return fmt.Errorf("rewind wal file %s: %w", wf.path, err)
	}
	wf.r.Reset(wf.f)
	return nil
}

// Sync flushes buffered writes and forces them to stable storage.
func (wf *File) Sync() error {
	if wf.w != nil {
		if err := wf.w.Flush(); err != nil {
			return fmt.Errorf("flush wal file %s: %w", wf.path, err)
		}
	}
	if err := wf.f.Sync(); err != nil {
		return fmt.Errorf("sync wal file %s: %w", wf.path, err)
	}
	return nil
}

// Metadata returns file metadata. In write mode buffered data is flushed
// first so the reported size is accurate.
func (wf *File) Metadata() (os.FileInfo, error) {
	if wf.w != nil {
		if err := wf.w.Flush(); err != nil {
			return nil, fmt.Errorf("flush wal file %s: %w", wf.path, err)
		}
	}
	return wf.f.Stat()
}

// CurrentPosition returns the byte position after the last written or read
// entry, including the header.
func (wf *File) CurrentPosition() int64 {
	return wf.pos
}

// HeaderLen returns the encoded header length in bytes.
func (wf *File) HeaderLen() int64 {
	return wf.headerLen
}

// Header returns the key/value pairs from the file header.
func (wf *File) Header() map[string]string {
	return wf.header
}

// Path returns the file path.
func (wf *File) Path() string {
	return wf.path
}

// Close releases the file. In write mode buffered entries are flushed and
// synced first.
func (wf *File) Close() error {
	if wf.f == nil {
		return nil
	}
	if wf.w != nil {
		if err := wf.Sync(); err != nil {
			wf.f.Close()
			wf.f = nil
			return err
		}
	}
	err := wf.f.Close()
	wf.f = nil
	return err
}
