package pmem

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/kevinzs2048/pmem/blobstore"
	"github.com/kevinzs2048/pmem/codec"
)

// Snapshot format:
//
//	magic    [8]byte  "pmemsnp1"
//	version  uint16
//	codec    uint16 length + name bytes
//	size     uint64   uncompressed region size
//	crc      uint32   CRC-32C of the uncompressed region
//	payload  compressed region data
var snapshotMagic = [8]byte{'p', 'm', 'e', 'm', 's', 'n', 'p', '1'}

const snapshotVersion uint16 = 1

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Snapshot writes a consistent copy of the mapped region to w, compressed
// with the mapping's codec. Pending deferred flushes are drained first so
// the snapshot never contains data the mapping does not consider durable.
func (m *Map) Snapshot(w io.Writer) error {
	start := time.Now()
	err := m.snapshot(w)
	m.metrics.RecordSnapshot(int64(m.size), time.Since(start), err)
	return err
}

func (m *Map) snapshot(w io.Writer) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := m.Drain(); err != nil {
		return fmt.Errorf("drain before snapshot: %w", err)
	}

	data := m.mapping.Bytes()
	if err := writeSnapshotHeader(w, m.codec.Name(), uint64(len(data)), crc32.Checksum(data, castagnoli)); err != nil {
		return err
	}

	enc, err := m.codec.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func writeSnapshotHeader(w io.Writer, codecName string, size uint64, crc uint32) error {
	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])
	binary.Write(&buf, binary.LittleEndian, snapshotVersion)
	binary.Write(&buf, binary.LittleEndian, uint16(len(codecName)))
	buf.WriteString(codecName)
	binary.Write(&buf, binary.LittleEndian, size)
	binary.Write(&buf, binary.LittleEndian, crc)
	_, err := w.Write(buf.Bytes())
	return err
}

type snapshotHeader struct {
	codecName string
	size      uint64
	crc       uint32
}

func readSnapshotHeader(r io.Reader) (*snapshotHeader, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, &SnapshotError{Reason: "short header"}
	}
	if magic != snapshotMagic {
		return nil, &SnapshotError{Reason: "bad magic"}
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, &SnapshotError{Reason: "short header"}
	}
	if version != snapshotVersion {
		return nil, &SnapshotError{Reason: fmt.Sprintf("unsupported version %d", version)}
	}
	var nameLen uint16
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return nil, &SnapshotError{Reason: "short header"}
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, &SnapshotError{Reason: "short header"}
	}
	h := &snapshotHeader{codecName: string(name)}
	if err := binary.Read(r, binary.LittleEndian, &h.size); err != nil {
		return nil, &SnapshotError{Reason: "short header"}
	}
	if err := binary.Read(r, binary.LittleEndian, &h.crc); err != nil {
		return nil, &SnapshotError{Reason: "short header"}
	}
	return h, nil
}

// Restore replaces the mapped region with snapshot data read from r and
// makes it durable. The snapshot is decompressed and checksum-verified in
// a staging buffer before a single byte touches the mapping.
func (m *Map) Restore(r io.Reader) error {
	start := time.Now()
	err := m.restore(r)
	m.metrics.RecordRestore(int64(m.size), time.Since(start), err)
	return err
}

func (m *Map) restore(r io.Reader) error {
	if m.closed.Load() {
		return ErrClosed
	}

	h, err := readSnapshotHeader(r)
	if err != nil {
		return err
	}
	if h.size != uint64(m.size) {
		return &SizeMismatchError{Snapshot: int64(h.size), Mapping: int64(m.size)}
	}
	c, ok := codec.ByName(h.codecName)
	if !ok {
		return &SnapshotError{Reason: fmt.Sprintf("unknown codec %q", h.codecName)}
	}

	dec, err := c.NewReader(r)
	if err != nil {
		return err
	}
	defer dec.Close()

	staging := make([]byte, h.size)
	if _, err := io.ReadFull(dec, staging); err != nil {
		return &SnapshotError{Reason: fmt.Sprintf("truncated payload: %v", err)}
	}
	if crc := crc32.Checksum(staging, castagnoli); crc != h.crc {
		return &SnapshotError{Reason: fmt.Sprintf("checksum mismatch: got %08x, want %08x", crc, h.crc)}
	}

	m.MoveFn()(m.mapping.Bytes(), staging, FlagNonTemporal)
	return m.Drain()
}

// SnapshotTo writes a snapshot into a blob store under the given name.
func (m *Map) SnapshotTo(ctx context.Context, store blobstore.BlobStore, name string) error {
	var buf bytes.Buffer
	err := m.Snapshot(&buf)
	if err == nil {
		err = store.Put(ctx, name, buf.Bytes())
	}
	m.logger.LogSnapshot(name, int64(buf.Len()), err)
	return err
}

// RestoreFrom restores the region from a named blob.
func (m *Map) RestoreFrom(ctx context.Context, store blobstore.BlobStore, name string) error {
	blob, err := store.Open(ctx, name)
	if err != nil {
		m.logger.LogRestore(name, 0, err)
		return err
	}
	defer blob.Close()

	err = m.Restore(io.NewSectionReader(blob, 0, blob.Size()))
	m.logger.LogRestore(name, blob.Size(), err)
	return err
}
