package kv

import (
	"encoding/binary"

	"github.com/RoaringBitmap/roaring"
)

// MergeI64Add_ implements the "i64-add" merge operator: existing and every
// operand are 8-byte big-endian signed integers; the result is their sum,
// re-encoded the same way. A missing existing value is treated as zero.
func MergeI64Add_(existing []byte, operands [][]byte) ([]byte, error) {
	var total int64
	if len(existing) == 8 {
		total = int64(binary.BigEndian.Uint64(existing))
	}
	for _, op := range operands {
		if len(op) != 8 {
			continue
		}
		total += int64(binary.BigEndian.Uint64(op))
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(total))
	return out, nil
}

// MergeBitmapUnion_ implements the "bitmap-union" merge operator used by
// deletion lists: existing (if present) is a serialized roaring bitmap;
// each operand is a 2-byte big-endian LocalOrd to add to that bitmap. The
// result is the re-serialized bitmap.
func MergeBitmapUnion_(existing []byte, operands [][]byte) ([]byte, error) {
	bm := roaring.New()
	if len(existing) > 0 {
		if _, err := bm.FromBuffer(existing); err != nil {
			return nil, err
		}
	}
	for _, op := range operands {
		if len(op) != 2 {
			continue
		}
		bm.Add(uint32(binary.BigEndian.Uint16(op)))
	}
	return bm.ToBytes()
}
