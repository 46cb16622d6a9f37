package cache

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/BaSui01/agentgraph/types"
)

// Envelope layout (big endian):
//
//	magic[4] version[1] created_at_unix_nano[8] size[8] checksum[8] zstd_payload...
const (
	envelopeVersion    = 1
	envelopeHeaderSize = 4 + 1 + 8 + 8 + 8

	// MaxEntrySize 单条缓存解压后的上限，超出的 header 视为损坏
	MaxEntrySize = 256 << 20
)

var envelopeMagic = [4]byte{'A', 'G', 'R', 'C'}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(MaxEntrySize),
	)
)

// Entry is a decoded cache record.
type Entry struct {
	CreatedAt time.Time
	Size      int
	Checksum  uint64
	Data      []byte
}

// Encode compresses value and wraps it in an envelope stamped with now.
func Encode(value []byte, now time.Time) []byte {
	out := make([]byte, envelopeHeaderSize, envelopeHeaderSize+len(value)/2+16)
	copy(out[0:4], envelopeMagic[:])
	out[4] = envelopeVersion
	binary.BigEndian.PutUint64(out[5:13], uint64(now.UnixNano()))
	binary.BigEndian.PutUint64(out[13:21], uint64(len(value)))
	binary.BigEndian.PutUint64(out[21:29], xxhash.Sum64(value))
	if len(value) == 0 {
		return out
	}
	return encoder.EncodeAll(value, out)
}

// Decode validates and decompresses an envelope produced by Encode. Any
// mismatch is reported as a corruption error.
func Decode(raw []byte) (*Entry, error) {
	if len(raw) < envelopeHeaderSize {
		return nil, corruption("envelope truncated: %d bytes", len(raw))
	}
	if [4]byte(raw[0:4]) != envelopeMagic {
		return nil, corruption("bad envelope magic")
	}
	if raw[4] != envelopeVersion {
		return nil, corruption("unsupported envelope version %d", raw[4])
	}

	createdAt := time.Unix(0, int64(binary.BigEndian.Uint64(raw[5:13])))
	size := binary.BigEndian.Uint64(raw[13:21])
	checksum := binary.BigEndian.Uint64(raw[21:29])
	payload := raw[envelopeHeaderSize:]

	if size > MaxEntrySize {
		return nil, corruption("declared size %d exceeds limit %d", size, MaxEntrySize)
	}

	var data []byte
	if size == 0 {
		if len(payload) != 0 {
			return nil, corruption("unexpected payload for empty entry")
		}
		data = []byte{}
	} else {
		var err error
		// 不按 header 预分配，解码输出由 WithDecoderMaxMemory 限制
		data, err = decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, types.NewError(types.ErrCacheCorruption, "zstd decode failed").WithCause(err)
		}
	}

	if uint64(len(data)) != size {
		return nil, corruption("size mismatch: header %d, decoded %d", size, len(data))
	}
	if xxhash.Sum64(data) != checksum {
		return nil, corruption("checksum mismatch")
	}

	return &Entry{
		CreatedAt: createdAt,
		Size:      int(size),
		Checksum:  checksum,
		Data:      data,
	}, nil
}

func corruption(format string, args ...any) error {
	return types.NewError(types.ErrCacheCorruption, fmt.Sprintf(format, args...))
}
