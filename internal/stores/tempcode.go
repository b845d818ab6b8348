package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tempCodeRecordVersionV1 = 1
	tempCodeHashSize        = 32
)

var (
	ErrTempCodeExists           = errors.New("temp code already outstanding")
	ErrTempCodeNotFound         = errors.New("temp code not found")
	ErrTempCodeRedisUnavailable = errors.New("temp code redis unavailable")
	ErrTempCodeCorrupt          = errors.New("temp code record corrupt")
)

// compareAndDeleteLua deletes KEYS[1] only if it still holds ARGV[1].
// Returns 1 when the key was deleted, 0 otherwise.
var compareAndDeleteLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return 0
end
if data ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// TempCodeRecord is the stored form of an issued code. ExpiresAt is unix
// milliseconds.
type TempCodeRecord struct {
	Purpose   uint8
	ForID     string
	Hash      [tempCodeHashSize]byte
	Salt      []byte
	ExpiresAt int64

	blob []byte
}

// Expired reports whether now is at or past the expiry.
func (r *TempCodeRecord) Expired(now time.Time) bool {
	return now.UnixMilli() >= r.ExpiresAt
}

type TempCodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTempCodeStore(redisClient redis.UniversalClient, prefix string) *TempCodeStore {
	if prefix == "" {
		prefix = "idt"
	}
	return &TempCodeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *TempCodeStore) key(purpose uint8, forID string) string {
	return s.prefix + ":" + strconv.Itoa(int(purpose)) + ":" + forID
}

// Create writes record if no code is outstanding for its (purpose, subject).
// A leftover record whose expiry has passed at now is replaced once; a live
// one yields ErrTempCodeExists.
func (s *TempCodeStore) Create(ctx context.Context, record *TempCodeRecord, now time.Time) error {
	encoded, err := encodeTempCodeRecord(record)
	if err != nil {
		return err
	}

	ttl := time.UnixMilli(record.ExpiresAt).Sub(now)
	if ttl <= 0 {
		return errors.New("temp code record already expired")
	}
	key := s.key(record.Purpose, record.ForID)

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.redis.SetNX(ctx, key, encoded, ttl).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTempCodeRedisUnavailable, err)
		}
		if ok {
			record.blob = encoded
			return nil
		}
		if attempt > 0 {
			break
		}

		existing, err := s.get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrTempCodeNotFound) {
				continue
			}
			if errors.Is(err, ErrTempCodeCorrupt) {
				if err := s.redis.Del(ctx, key).Err(); err != nil {
					return fmt.Errorf("%w: %v", ErrTempCodeRedisUnavailable, err)
				}
				continue
			}
			return err
		}
		if !existing.Expired(now) {
			return ErrTempCodeExists
		}
		if _, err := s.compareAndDelete(ctx, key, existing.blob); err != nil {
			return err
		}
	}

	return ErrTempCodeExists
}

// Get returns the outstanding record for (purpose, forID). Expiry is left to
// the caller, which owns the clock.
func (s *TempCodeStore) Get(ctx context.Context, purpose uint8, forID string) (*TempCodeRecord, error) {
	return s.get(ctx, s.key(purpose, forID))
}

func (s *TempCodeStore) get(ctx context.Context, key string) (*TempCodeRecord, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTempCodeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTempCodeRedisUnavailable, err)
	}

	record, err := decodeTempCodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTempCodeCorrupt, err)
	}
	record.blob = data
	return record, nil
}

// Consume deletes record if it is still the stored value. It reports false
// when the record was already consumed or replaced.
func (s *TempCodeStore) Consume(ctx context.Context, record *TempCodeRecord) (bool, error) {
	if record == nil || len(record.blob) == 0 {
		return false, errors.New("temp code record was not read from the store")
	}
	return s.compareAndDelete(ctx, s.key(record.Purpose, record.ForID), record.blob)
}

// Restore puts back a record removed by Consume, keeping its original
// expiry. It is a no-op once the record has expired at now, and yields
// ErrTempCodeExists if a new code was issued in the meantime.
func (s *TempCodeStore) Restore(ctx context.Context, record *TempCodeRecord, now time.Time) error {
	if record == nil || len(record.blob) == 0 {
		return errors.New("temp code record was not read from the store")
	}
	ttl := time.UnixMilli(record.ExpiresAt).Sub(now)
	if ttl <= 0 {
		return nil
	}

	ok, err := s.redis.SetNX(ctx, s.key(record.Purpose, record.ForID), record.blob, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTempCodeRedisUnavailable, err)
	}
	if !ok {
		return ErrTempCodeExists
	}
	return nil
}

// Delete removes any outstanding record for (purpose, forID).
func (s *TempCodeStore) Delete(ctx context.Context, purpose uint8, forID string) error {
	if err := s.redis.Del(ctx, s.key(purpose, forID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTempCodeRedisUnavailable, err)
	}
	return nil
}

func (s *TempCodeStore) compareAndDelete(ctx context.Context, key string, blob []byte) (bool, error) {
	deleted, err := compareAndDeleteLua.Run(ctx, s.redis, []string{key}, string(blob)).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTempCodeRedisUnavailable, err)
	}
	return deleted == 1, nil
}

func encodeTempCodeRecord(record *TempCodeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tempCodeRecordVersionV1)
	buf.WriteByte(record.Purpose)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.ForID) == 0 || len(record.ForID) > 65535 {
		return nil, errors.New("temp code subject id length out of range")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.ForID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.ForID)
	buf.Write(record.Hash[:])

	if len(record.Salt) == 0 || len(record.Salt) > 255 {
		return nil, errors.New("temp code salt length out of range")
	}
	buf.WriteByte(byte(len(record.Salt)))
	buf.Write(record.Salt)

	return buf.Bytes(), nil
}

func decodeTempCodeRecord(data []byte) (*TempCodeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tempCodeRecordVersionV1 {
		return nil, errors.New("invalid temp code record version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &TempCodeRecord{Purpose: purpose}

	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var forIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &forIDLen); err != nil {
		return nil, err
	}
	forID := make([]byte, forIDLen)
	if _, err := io.ReadFull(reader, forID); err != nil {
		return nil, err
	}
	record.ForID = string(forID)

	if _, err := io.ReadFull(reader, record.Hash[:]); err != nil {
		return nil, err
	}

	saltLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Salt = make([]byte, saltLen)
	if _, err := io.ReadFull(reader, record.Salt); err != nil {
		return nil, err
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in temp code record")
	}

	return record, nil
}
