package mqs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

const codecVersion byte = 1

var ErrMalformedMessage = errors.New("malformed message")

// encodeMessage serializes a message for byte-oriented transports:
//
//	version(1) idLen(2) id count(2) [keyLen(2) key valLen(4) val]... body
func encodeMessage(msg *Message) ([]byte, error) {
	if len(msg.ID) > math.MaxUint16 {
		return nil, fmt.Errorf("message id too long: %d", len(msg.ID))
	}
	if len(msg.Metadata) > math.MaxUint16 {
		return nil, fmt.Errorf("too many metadata entries: %d", len(msg.Metadata))
	}

	size := 1 + 2 + len(msg.ID) + 2 + len(msg.Body)
	keys := make([]string, 0, len(msg.Metadata))
	for k, v := range msg.Metadata {
		if len(k) > math.MaxUint16 {
			return nil, fmt.Errorf("metadata key too long: %d", len(k))
		}
		keys = append(keys, k)
		size += 2 + len(k) + 4 + len(v)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, size)
	buf = append(buf, codecVersion)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.ID)))
	buf = append(buf, msg.ID...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(keys)))
	for _, k := range keys {
		v := msg.Metadata[k]
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(k)))
		buf = append(buf, k...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
		buf = append(buf, v...)
	}
	buf = append(buf, msg.Body...)
	return buf, nil
}

func decodeMessage(data []byte) (*Message, error) {
	r := reader{data: data}

	version, ok := r.readByte()
	if !ok || version != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version", ErrMalformedMessage)
	}
	idLen, ok := r.readUint16()
	if !ok {
		return nil, fmt.Errorf("%w: truncated id", ErrMalformedMessage)
	}
	id, ok := r.read(int(idLen))
	if !ok {
		return nil, fmt.Errorf("%w: truncated id", ErrMalformedMessage)
	}
	count, ok := r.readUint16()
	if !ok {
		return nil, fmt.Errorf("%w: truncated metadata", ErrMalformedMessage)
	}

	msg := &Message{ID: string(id)}
	if count > 0 {
		msg.Metadata = make(map[string]string, count)
	}
	for i := 0; i < int(count); i++ {
		keyLen, ok := r.readUint16()
		if !ok {
			return nil, fmt.Errorf("%w: truncated metadata", ErrMalformedMessage)
		}
		key, ok := r.read(int(keyLen))
		if !ok {
			return nil, fmt.Errorf("%w: truncated metadata", ErrMalformedMessage)
		}
		valLen, ok := r.readUint32()
		if !ok {
			return nil, fmt.Errorf("%w: truncated metadata", ErrMalformedMessage)
		}
		val, ok := r.read(int(valLen))
		if !ok {
			return nil, fmt.Errorf("%w: truncated metadata", ErrMalformedMessage)
		}
		msg.Metadata[string(key)] = string(val)
	}

	body := r.rest()
	msg.Body = make([]byte, len(body))
	copy(msg.Body, body)
	return msg, nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) readByte() (byte, bool) {
	if r.off+1 > len(r.data) {
		return 0, false
	}
	b := r.data[r.off]
	r.off++
	return b, true
}

func (r *reader) readUint16() (uint16, bool) {
	b, ok := r.read(2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

func (r *reader) readUint32() (uint32, bool) {
	b, ok := r.read(4)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

func (r *reader) read(n int) ([]byte, bool) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, false
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, true
}

func (r *reader) rest() []byte {
	return r.data[r.off:]
}
