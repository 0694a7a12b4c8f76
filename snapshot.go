package entidb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/entidb/codec"
	"github.com/hupe1980/entidb/core"
	"github.com/hupe1980/entidb/persistence"
)

// Compression selects the snapshot body compression.
type Compression uint16

const (
	// CompressionNone stores the snapshot body uncompressed.
	CompressionNone Compression = iota
	// CompressionZstd compresses the snapshot body with zstandard.
	CompressionZstd
	// CompressionLZ4 compresses the snapshot body with the LZ4 frame format.
	CompressionLZ4
)

var (
	snapshotMagic         = [4]byte{'E', 'D', 'B', '1'}
	snapshotFooterMagic   = [4]byte{'E', 'D', 'B', 'F'}
	snapshotFormatVersion = uint16(1)
)

// maxSnapshotBodyLen bounds the declared body length of a snapshot. The
// length field is read before the checksum can be verified, so a corrupt
// header must not be able to trigger an arbitrarily large allocation.
const maxSnapshotBodyLen = 1 << 31

// snapshotRecord is one persisted identifier/entity pair. Only entities are
// persisted: indexes are always rebuilt by replaying inserts on restore, so
// the restored index state is consistent with the restored records by
// construction.
type snapshotRecord[E any] struct {
	ID     core.ID `json:"id"`
	Entity E       `json:"entity"`
}

// Snapshot writes a point-in-time encoding of the table to w.
//
// Format:
//  1. header: magic, version, compression, codec name length, entity count
//  2. codec name (self-describing; Restore selects the codec by name)
//  3. body length, body (codec-marshaled records, optionally compressed)
//  4. body CRC32 checksum
//  5. footer magic
func (t *Table[E]) Snapshot(w io.Writer) error {
	err := t.snapshot(w)
	t.logger.LogSnapshot(t.name, "save", t.Len(), err)
	return err
}

func (t *Table[E]) snapshot(w io.Writer) error {
	if w == nil {
		return fmt.Errorf("snapshot: writer is nil")
	}

	t.mu.RLock()
	records := make([]snapshotRecord[E], 0, t.records.Len())
	for id, e := range t.records.Scan() {
		records = append(records, snapshotRecord[E]{ID: id, Entity: e})
	}
	t.mu.RUnlock()

	payload, err := t.codec.Marshal(records)
	if err != nil {
		return fmt.Errorf("snapshot: failed to encode records: %w", err)
	}

	body, err := compress(payload, t.compression)
	if err != nil {
		return err
	}

	codecName := t.codec.Name()
	if len(codecName) > 0xFFFF {
		return fmt.Errorf("snapshot: codec name too long: %d", len(codecName))
	}

	// Header (16 bytes + codec name)
	// [0:4]   magic
	// [4:6]   version
	// [6:8]   compression
	// [8:10]  codec name len
	// [10:12] reserved
	// [12:16] entity count
	var hdr [16]byte
	copy(hdr[0:4], snapshotMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], snapshotFormatVersion)
	binary.LittleEndian.PutUint16(hdr[6:8], uint16(t.compression))
	binary.LittleEndian.PutUint16(hdr[8:10], uint16(len(codecName)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(records)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte(codecName)); err != nil {
		return err
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}

	cw := persistence.NewChecksumWriter(w)
	if _, err := cw.Write(body); err != nil {
		return err
	}

	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], cw.Sum())
	if _, err := w.Write(crcBuf[:]); err != nil {
		return err
	}

	_, err = w.Write(snapshotFooterMagic[:])
	return err
}

// Restore replaces the table's state with the snapshot read from r. All
// indexes are rebuilt from the decoded records; identifiers are preserved.
//
// The table's attached indexes and identifier generator are construction
// state and are not part of the snapshot: restore into a table built with
// the same declarations that produced the snapshot.
//
// If Restore fails the table's state is unspecified; restore into a fresh
// table when the source bytes are untrusted.
func (t *Table[E]) Restore(r io.Reader) error {
	err := t.restore(r)
	t.logger.LogSnapshot(t.name, "load", t.Len(), err)
	return err
}

func (t *Table[E]) restore(r io.Reader) error {
	if r == nil {
		return fmt.Errorf("snapshot: reader is nil")
	}

	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("snapshot: failed to read header: %w", err)
	}
	if !bytes.Equal(hdr[0:4], snapshotMagic[:]) {
		return fmt.Errorf("snapshot: bad magic %q", hdr[0:4])
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != snapshotFormatVersion {
		return fmt.Errorf("snapshot: unsupported format version %d", v)
	}
	compression := Compression(binary.LittleEndian.Uint16(hdr[6:8]))
	codecNameLen := int(binary.LittleEndian.Uint16(hdr[8:10]))
	entityCount := binary.LittleEndian.Uint32(hdr[12:16])

	codecName := make([]byte, codecNameLen)
	if _, err := io.ReadFull(r, codecName); err != nil {
		return fmt.Errorf("snapshot: failed to read codec name: %w", err)
	}

	// Snapshots are self-describing: decode with the codec they were
	// written with, not the table's configured one.
	c := t.codec
	if c.Name() != string(codecName) {
		byName, ok := codec.ByName(string(codecName))
		if !ok {
			return fmt.Errorf("snapshot: unknown codec %q", codecName)
		}
		c = byName
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("snapshot: failed to read body length: %w", err)
	}
	bodyLen := binary.LittleEndian.Uint64(lenBuf[:])
	if bodyLen > maxSnapshotBodyLen {
		return fmt.Errorf("snapshot: implausible body length %d", bodyLen)
	}

	cr := persistence.NewChecksumReader(r)
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(cr, body); err != nil {
		return fmt.Errorf("snapshot: failed to read body: %w", err)
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return fmt.Errorf("snapshot: failed to read checksum: %w", err)
	}
	if err := cr.Verify(binary.LittleEndian.Uint32(crcBuf[:])); err != nil {
		return err
	}

	var footer [4]byte
	if _, err := io.ReadFull(r, footer[:]); err != nil {
		return fmt.Errorf("snapshot: failed to read footer: %w", err)
	}
	if !bytes.Equal(footer[:], snapshotFooterMagic[:]) {
		return fmt.Errorf("snapshot: bad footer magic %q", footer)
	}

	payload, err := decompress(body, compression)
	if err != nil {
		return err
	}

	var records []snapshotRecord[E]
	if err := c.Unmarshal(payload, &records); err != nil {
		return fmt.Errorf("snapshot: failed to decode records: %w", err)
	}
	if uint32(len(records)) != entityCount {
		return fmt.Errorf("snapshot: header declares %d entities, body holds %d", entityCount, len(records))
	}

	return t.replay(records)
}

// replay clears the table and reconstructs it from decoded records. The
// record store is filled first; each index is then rebuilt independently,
// fanned out across indexes.
func (t *Table[E]) replay(records []snapshotRecord[E]) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records.Clear()
	for _, ix := range t.indexes {
		ix.Clear()
	}

	locals := make([]core.LocalID, len(records))
	for i, rec := range records {
		local, err := t.records.InsertWithID(rec.ID, rec.Entity)
		if err != nil {
			return fmt.Errorf("snapshot: replay of %s: %w", rec.ID, t.translateError(err))
		}
		locals[i] = local
	}

	var g errgroup.Group
	for _, ix := range t.indexes {
		g.Go(func() error {
			for i, rec := range records {
				if err := ix.Insert(locals[i], rec.Entity); err != nil {
					return fmt.Errorf("snapshot: rebuild of index %q at %s: %w", ix.Name(), rec.ID, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return t.translateError(err)
	}

	return nil
}

// SnapshotToFile writes the snapshot to filename atomically.
func (t *Table[E]) SnapshotToFile(filename string) error {
	return persistence.SaveToFile(filename, func(w io.Writer) error {
		return t.Snapshot(w)
	})
}

// RestoreFromFile replaces the table's state from a snapshot file.
func (t *Table[E]) RestoreFromFile(filename string) error {
	return persistence.LoadFromFile(filename, func(r io.Reader) error {
		return t.Restore(r)
	})
}

func compress(payload []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return payload, nil

	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("snapshot: failed to create zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(payload, nil), nil

	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("snapshot: lz4 compression failed: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("snapshot: lz4 compression failed: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrInvalidArgument, compression)
	}
}

func decompress(body []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return body, nil

	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("snapshot: failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		payload, err := dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd decompression failed: %w", err)
		}
		return payload, nil

	case CompressionLZ4:
		payload, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("snapshot: lz4 decompression failed: %w", err)
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("snapshot: unknown compression %d", compression)
	}
}
