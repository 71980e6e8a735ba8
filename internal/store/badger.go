package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/i474232898/airquality-daily-stats/internal/stats"
)

// Key prefixes for BadgerDB storage
const (
	pointKeyPrefix   = "pt:"
	channelKeyPrefix = "ch:"
)

// BadgerStore implements the datastore on BadgerDB. Each point is one key:
// pt:<user>:<device>:<channel>:<8-byte timestamp>, holding the float64 bits.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a BadgerDB datastore in dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open datastore %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already opened database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// ImportJSON writes a statistics artifact into the device's channels. Points
// at an existing timestamp are overwritten and null values delete the stored
// point, so re-importing is idempotent.
func (s *BadgerStore) ImportJSON(ctx context.Context, userID int64, device string, out *stats.FeedStatsOutput) (ImportSummary, error) {
	if err := validateTarget(userID, device); err != nil {
		return ImportSummary{}, err
	}
	writes, err := explode(out)
	if err != nil {
		return ImportSummary{}, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	summary := ImportSummary{}
	for name, w := range writes {
		if err := ctx.Err(); err != nil {
			return ImportSummary{}, err
		}
		key := ChannelKey{UserID: userID, Device: device, Channel: name}
		for _, ts := range w.Clear {
			if err := wb.Delete(pointKey(key, ts)); err != nil {
				return ImportSummary{}, fmt.Errorf("clear point %s@%d: %w", key, ts, err)
			}
		}
		if len(w.Set) == 0 {
			continue
		}
		if err := wb.Set(channelKey(key), nil); err != nil {
			return ImportSummary{}, fmt.Errorf("set channel %s: %w", key, err)
		}
		for _, p := range w.Set {
			if err := wb.Set(pointKey(key, p.TimestampSecs), encodeValue(p.Value)); err != nil {
				return ImportSummary{}, fmt.Errorf("set point %s@%d: %w", key, p.TimestampSecs, err)
			}
		}
		summary.Channels++
		summary.Points += len(w.Set)
	}

	if err := wb.Flush(); err != nil {
		return ImportSummary{}, fmt.Errorf("flush import for %s: %w", device, err)
	}
	return summary, nil
}

// Channels lists the channel names of a device, sorted.
func (s *BadgerStore) Channels(ctx context.Context, userID int64, device string) ([]string, error) {
	prefix := []byte(channelKeyPrefix + deviceSegment(userID, device))

	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, string(bytes.TrimPrefix(it.Item().Key(), prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNotFound
	}
	return names, nil
}

// GetRange returns the points of a channel between from and to (inclusive).
func (s *BadgerStore) GetRange(ctx context.Context, key ChannelKey, from, to int64) ([]Point, error) {
	prefix := pointPrefix(key)

	var result []Point
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(pointKey(key, from)); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			ts := decodeTimestamp(item.Key()[len(prefix):])
			if ts > to {
				break
			}
			err := item.Value(func(val []byte) error {
				v, err := decodeValue(val)
				if err != nil {
					return err
				}
				result = append(result, Point{TimestampSecs: ts, Value: v})
				return nil
			})
			if err != nil {
				return fmt.Errorf("read point %s@%d: %w", key, ts, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

func deviceSegment(userID int64, device string) string {
	return strconv.FormatInt(userID, 10) + ":" + device + ":"
}

func channelKey(key ChannelKey) []byte {
	return []byte(channelKeyPrefix + deviceSegment(key.UserID, key.Device) + key.Channel)
}

func pointPrefix(key ChannelKey) []byte {
	var b strings.Builder
	b.WriteString(pointKeyPrefix)
	b.WriteString(deviceSegment(key.UserID, key.Device))
	b.WriteString(key.Channel)
	b.WriteByte(':')
	return []byte(b.String())
}

// pointKey appends the timestamp with its sign bit flipped so that byte order
// matches numeric order, negative timestamps included.
func pointKey(key ChannelKey, ts int64) []byte {
	prefix := pointPrefix(key)
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], uint64(ts)^(1<<63))
	return buf
}

func decodeTimestamp(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

func encodeValue(v float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

func decodeValue(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, errors.New("stored value is not 8 bytes")
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}
