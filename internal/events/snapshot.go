package events

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"FlightSurety/internal/storage"
)

// ErrLogNotEmpty is returned when importing a snapshot into a log that has entries.
var ErrLogNotEmpty = errors.New("event log is not empty")

// importBatchSize bounds the number of entries written per Pebble batch.
const importBatchSize = 1024

// Export serializes the whole log as length-prefixed records compressed with zstd.
func (l *Log) Export() ([]byte, error) {
	var raw []byte
	var lenBuf [binary.MaxVarintLen64]byte

	err := l.db.IteratePrefix(logKeyPrefix, func(_, value []byte) error {
		n := binary.PutUvarint(lenBuf[:], uint64(len(value)))
		raw = append(raw, lenBuf[:n]...)
		raw = append(raw, value...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan log:\n%w", err)
	}

	return compress(raw)
}

// Import loads a snapshot produced by Export into an empty log.
// Entries must carry contiguous sequence numbers starting at 1.
func (l *Log) Import(snapshot []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.next != 1 {
		return 0, ErrLogNotEmpty
	}

	raw, err := decompress(snapshot)
	if err != nil {
		return 0, err
	}

	pairs := make([]storage.KeyValue, 0, importBatchSize)
	count := 0

	for len(raw) > 0 {
		size, n := binary.Uvarint(raw)
		if n <= 0 || uint64(len(raw)-n) < size {
			return count, fmt.Errorf("truncated snapshot at entry %d", count+1)
		}

		record := raw[n : n+int(size)]
		raw = raw[n+int(size):]

		ev, err := Decode(record)
		if err != nil {
			return count, fmt.Errorf("entry %d:\n%w", count+1, err)
		}

		if ev.Seq != uint64(count+1) {
			return count, fmt.Errorf("non-contiguous sequence: got %d, want %d", ev.Seq, count+1)
		}

		pairs = append(pairs, storage.KeyValue{Key: makeLogKey(ev.Seq), Value: record})
		count++

		if len(pairs) == importBatchSize {
			if err := l.db.SetBatch(pairs); err != nil {
				return count, fmt.Errorf("write batch:\n%w", err)
			}
			pairs = pairs[:0]
		}
	}

	if err := l.db.SetBatch(pairs); err != nil {
		return count, fmt.Errorf("write batch:\n%w", err)
	}

	l.next = uint64(count) + 1

	return count, nil
}

// compress compresses data using zstd.
func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompress decompresses zstd-compressed data.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot:\n%w", err)
	}

	return out, nil
}
