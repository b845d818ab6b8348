package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const recordFormatVersion = 1

// ErrCorruptRecord is returned when a stored blob cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt session record")

// Encode serialises r without its Ref, which is the storage key.
func Encode(r *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersion)

	if len(r.UserID) == 0 || len(r.UserID) > 255 {
		return nil, errors.New("userID length must be between 1 and 255")
	}
	buf.WriteByte(byte(len(r.UserID)))
	buf.WriteString(r.UserID)

	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode. Ref is left empty.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrCorruptRecord
	}
	if version != recordFormatVersion {
		return nil, ErrCorruptRecord
	}

	r := &Record{}

	userLen, err := reader.ReadByte()
	if err != nil || userLen == 0 {
		return nil, ErrCorruptRecord
	}
	userID := make([]byte, userLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, ErrCorruptRecord
	}
	r.UserID = string(userID)

	if err := binary.Read(reader, binary.BigEndian, &r.CreatedAt); err != nil {
		return nil, ErrCorruptRecord
	}
	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, ErrCorruptRecord
	}
	if reader.Len() != 0 {
		return nil, ErrCorruptRecord
	}

	return r, nil
}
