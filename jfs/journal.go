package jfs

import (
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/wippyai/fdtab/codec"
	"github.com/wippyai/fdtab/vfs"
)

func checksum(h *header, payload []byte) [32]byte {
	buf := h.encode()[4:sumOffset]
	buf = append(buf, payload...)
	return blake3.Sum256(buf)
}

// reserve fails with vfs.ErrNoSpace when rec might not fit in the journal.
// The caller holds fs.mu.
func (fs *FS) reserve(rec *record) error {
	if fs.broken != nil {
		return fs.broken
	}
	if fs.tail+rec.bound() > int64(fs.sb.journalEnd) {
		return vfs.ErrNoSpace
	}
	return nil
}

// append writes rec at the journal tail. A failure leaves the in-memory
// state ahead of the journal, so the filesystem refuses further mutations.
// The caller holds fs.mu.
func (fs *FS) append(rec *record) error {
	rec.Time = toNanos(fs.stamp)
	raw, err := codec.Marshal(rec)
	if err != nil {
		return fs.fail(fmt.Errorf("jfs: encode %s record: %w", rec.Op, err))
	}

	payload := raw
	var flags uint8
	if len(raw) >= compressMin {
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err == nil && n > 0 && n < len(raw) {
			payload = dst[:n]
			flags |= flagLZ4
		}
	}

	h := header{
		generation: fs.sb.generation,
		seq:        fs.seq + 1,
		flags:      flags,
		rawLen:     uint32(len(raw)),
		payloadLen: uint32(len(payload)),
	}
	h.sum = checksum(&h, payload)

	frame := append(h.encode(), payload...)
	if fs.tail+int64(len(frame)) > int64(fs.sb.journalEnd) {
		return fs.fail(vfs.ErrNoSpace)
	}
	if _, err := fs.a.WriteRange(fs.tail, frame); err != nil {
		return fs.fail(err)
	}
	fs.tail += int64(len(frame))
	fs.seq++
	fs.records++
	return nil
}

func (fs *FS) fail(err error) error {
	Logger().Error("journal append failed, refusing further mutations", zap.Error(err))
	fs.broken = err
	return err
}

// replay applies every valid record from the journal start, in order, to
// the fresh state tree and positions the tail after the last one.
func (fs *FS) replay() error {
	off := int64(fs.sb.journalStart)
	end := int64(fs.sb.journalEnd)
	log := Logger().With(zap.Uint64("generation", fs.sb.generation))

	for off+headerSize <= end {
		buf, err := fs.a.ReadRange(off, headerSize)
		if err != nil {
			return err
		}
		h, ok := decodeHeader(buf)
		if !ok || h.generation != fs.sb.generation || h.seq != fs.seq+1 {
			break
		}
		if int64(h.payloadLen) > end-off-headerSize {
			log.Warn("discarding record past journal end", zap.Uint64("seq", h.seq))
			break
		}
		payload, err := fs.a.ReadRange(off+headerSize, int(h.payloadLen))
		if err != nil {
			return err
		}
		if checksum(&h, payload) != h.sum {
			log.Warn("discarding torn journal tail", zap.Uint64("seq", h.seq), zap.Int64("offset", off))
			break
		}
		raw := payload
		if h.flags&flagLZ4 != 0 {
			raw = make([]byte, h.rawLen)
			n, err := lz4.UncompressBlock(payload, raw)
			if err != nil || n != int(h.rawLen) {
				log.Warn("discarding undecodable record", zap.Uint64("seq", h.seq), zap.Error(err))
				break
			}
		}
		var rec record
		if err := codec.Unmarshal(raw, &rec); err != nil {
			log.Warn("discarding undecodable record", zap.Uint64("seq", h.seq), zap.Error(err))
			break
		}
		if err := fs.apply(&rec); err != nil {
			if errors.Is(err, errIno) {
				return fmt.Errorf("%w: record %d recreates inode %d out of order", vfs.ErrCorrupt, h.seq, rec.Ino)
			}
			log.Warn("skipping record that no longer applies",
				zap.Uint64("seq", h.seq),
				zap.Stringer("op", rec.Op),
				zap.Error(err))
		}
		off += headerSize + int64(h.payloadLen)
		fs.seq++
		fs.records++
	}
	fs.tail = off
	log.Debug("journal replayed", zap.Uint64("records", fs.records), zap.Int64("tail", off))
	return nil
}
