package walfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// Header layout: magic u32 | version u8 | pair count u16 | pairs.
// Each pair is u16 key length | key | u16 value length | value.

func encodeHeader(header map[string]string) ([]byte, error) {
	if len(header) > 0xFFFF {
		return nil, errors.New("too many header pairs")
	}

	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 64)
	buf = binary.LittleEndian.AppendUint32(buf, walMagic)
	buf = append(buf, walVersion)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(keys)))
	for _, k := range keys {
		v := header[k]
		if len(k) > 0xFFFF || len(v) > 0xFFFF {
			return nil, fmt.Errorf("header pair %q too large", k)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(k)))
		buf = append(buf, k...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(v)))
		buf = append(buf, v...)
	}
	return buf, nil
}

func decodeHeader(f *os.File) (map[string]string, int64, error) {
	r := bufio.NewReader(f)
	var n int64

	var magicBuf [4]byte
	if _, err := io.ReadFull(r, magicBuf[:]); err != nil {
		return nil, 0, fmt.Errorf("read magic: %w", err)
	}
	n += 4
	if got := binary.LittleEndian.Uint32(magicBuf[:]); got != walMagic {
		return nil, 0, fmt.Errorf("bad magic %#x", got)
	}

	version, err := r.ReadByte()
	if err != nil {
		return nil, 0, fmt.Errorf("read version: %w", err)
	}
	n++
	if version != walVersion {
		return nil, 0, fmt.Errorf("unsupported version %d", version)
	}

	var cntBuf [2]byte
	if _, err := io.ReadFull(r, cntBuf[:]); err != nil {
		return nil, 0, fmt.Errorf("read pair count: %w", err)
	}
	n += 2
	count := binary.LittleEndian.Uint16(cntBuf[:])

	header := make(map[string]string, count)
	for i := 0; i < int(count); i++ {
		k, kn, err := readLenString(r)
		if err != nil {
			return nil, 0, fmt.Errorf("read header key: %w", err)
		}
		v, vn, err := readLenString(r)
		if err != nil {
			return nil, 0, fmt.Errorf("read header value: %w", err)
		}
		header[k] = v
		n += kn + vn
	}

	return header, n, nil
}

func readLenString(r io.Reader) (string, int64, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", 0, err
	}
	length := binary.LittleEndian.Uint16(lenBuf[:])
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", 0, err
	}
	return string(buf), int64(2 + length), nil
}
