// Package nfcframe implements the compact binary envelope used when the
// pairing and unlock protocol messages travel over a framed point-to-point
// channel such as NFC instead of HTTP. A frame carries an optional challenge
// id and an optional opaque payload, with a leading format tag selecting
// between the raw encoding and a zlib-compressed one. Channel MTUs are small,
// so payloads above a size threshold are compressed.
package nfcframe

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

const (
	// FormatBinary tags an uncompressed frame.
	FormatBinary byte = 0x00
	// FormatZlib tags a zlib-compressed frame.
	FormatZlib byte = 0x01
)

// challengeIDSize is the raw length of a decoded challenge id.
const challengeIDSize = 32

// compressThreshold is the frame size above which encoding compresses.
// Smaller frames fit a single transceive unit and zlib overhead would only
// grow them.
const compressThreshold = 64

// maxPayloadSize bounds decoded payloads, matching the HTTP body limit.
const maxPayloadSize = 1 << 20

var (
	// ErrTruncatedFrame means the frame ended before a declared field.
	ErrTruncatedFrame = errors.New("truncated frame")
	// ErrUnknownFormat means the leading format tag is not recognized.
	ErrUnknownFormat = errors.New("unknown frame format")
)

// Frame is one protocol message on the framed channel.
type Frame struct {
	// ChallengeID is the challenge the message addresses, empty for
	// messages that do not reference one.
	ChallengeID interfaces.ChallengeID

	// Payload is the serialized request or response body, nil for
	// messages without one.
	Payload []byte
}

// Encode serializes the frame. Frames above the compression threshold are
// zlib-compressed; the format tag tells the two encodings apart.
func Encode(f Frame) ([]byte, error) {
	var body bytes.Buffer

	if f.ChallengeID == "" {
		body.WriteByte(0)
	} else {
		raw, err := base64.RawURLEncoding.DecodeString(string(f.ChallengeID))
		if err != nil {
			return nil, fmt.Errorf("invalid challenge id: %w", err)
		}
		if len(raw) != challengeIDSize {
			return nil, fmt.Errorf("invalid challenge id length %d", len(raw))
		}
		body.WriteByte(1)
		body.Write(raw)
	}

	if f.Payload == nil {
		body.WriteByte(0)
	} else {
		if len(f.Payload) > maxPayloadSize {
			return nil, fmt.Errorf("payload too large: %d bytes", len(f.Payload))
		}
		body.WriteByte(1)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)))
		body.Write(lenBuf[:])
		body.Write(f.Payload)
	}

	if body.Len() < compressThreshold {
		return append([]byte{FormatBinary}, body.Bytes()...), nil
	}

	var out bytes.Buffer
	out.WriteByte(FormatZlib)
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(body.Bytes()); err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	return out.Bytes(), nil
}

// Decode parses a frame produced by Encode.
func Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrTruncatedFrame
	}

	var body []byte
	switch data[0] {
	case FormatBinary:
		body = data[1:]
	case FormatZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data[1:]))
		if err != nil {
			return Frame{}, fmt.Errorf("decompression failed: %w", err)
		}
		defer zr.Close()
		body, err = io.ReadAll(io.LimitReader(zr, maxPayloadSize+challengeIDSize+16))
		if err != nil {
			return Frame{}, fmt.Errorf("decompression failed: %w", err)
		}
	default:
		return Frame{}, fmt.Errorf("%w: 0x%02x", ErrUnknownFormat, data[0])
	}

	buf := bytes.NewReader(body)
	var f Frame

	hasChallenge, err := buf.ReadByte()
	if err != nil {
		return Frame{}, ErrTruncatedFrame
	}
	if hasChallenge == 1 {
		var raw [challengeIDSize]byte
		if _, err := io.ReadFull(buf, raw[:]); err != nil {
			return Frame{}, ErrTruncatedFrame
		}
		f.ChallengeID = interfaces.ChallengeID(base64.RawURLEncoding.EncodeToString(raw[:]))
	} else if hasChallenge != 0 {
		return Frame{}, fmt.Errorf("invalid challenge id marker 0x%02x", hasChallenge)
	}

	hasPayload, err := buf.ReadByte()
	if err != nil {
		return Frame{}, ErrTruncatedFrame
	}
	if hasPayload == 1 {
		var lenBuf [4]byte
		if _, err := io.ReadFull(buf, lenBuf[:]); err != nil {
			return Frame{}, ErrTruncatedFrame
		}
		payloadLen := binary.BigEndian.Uint32(lenBuf[:])
		if payloadLen > maxPayloadSize {
			return Frame{}, fmt.Errorf("payload too large: %d bytes", payloadLen)
		}
		f.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(buf, f.Payload); err != nil {
			return Frame{}, ErrTruncatedFrame
		}
	} else if hasPayload != 0 {
		return Frame{}, fmt.Errorf("invalid payload marker 0x%02x", hasPayload)
	}

	if buf.Len() != 0 {
		return Frame{}, fmt.Errorf("trailing data after frame: %d bytes", buf.Len())
	}
	return f, nil
}
