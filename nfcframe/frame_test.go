package nfcframe

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicklock/lock-pairing-backend/cryptoutils"
	"github.com/quicklock/lock-pairing-backend/interfaces"
)

func newChallengeID(t *testing.T) interfaces.ChallengeID {
	t.Helper()
	id, err := cryptoutils.NewChallengeID()
	require.NoError(t, err)
	return id
}

func TestRoundTrip(t *testing.T) {
	challengeID := newChallengeID(t)

	tests := []struct {
		name  string
		frame Frame
	}{
		{"empty", Frame{}},
		{"challenge only", Frame{ChallengeID: challengeID}},
		{"payload only", Frame{Payload: []byte(`{"entityId":"front-door"}`)}},
		{"both", Frame{ChallengeID: challengeID, Payload: []byte(`{"deviceId":"abc"}`)}},
		{"empty payload present", Frame{Payload: []byte{}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Encode(tc.frame)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tc.frame.ChallengeID, decoded.ChallengeID)
			if tc.frame.Payload == nil {
				assert.Nil(t, decoded.Payload)
			} else {
				assert.Equal(t, []byte(tc.frame.Payload), decoded.Payload)
			}
		})
	}
}

func TestSmallFrameStaysUncompressed(t *testing.T) {
	data, err := Encode(Frame{Payload: []byte("short")})
	require.NoError(t, err)
	assert.Equal(t, FormatBinary, data[0])
}

func TestLargeFrameCompresses(t *testing.T) {
	// JSON-ish repetitive payload, compresses well.
	payload := bytes.Repeat([]byte(`{"entityId":"front-door"},`), 40)

	data, err := Encode(Frame{ChallengeID: newChallengeID(t), Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, FormatZlib, data[0])
	assert.Less(t, len(data), len(payload))

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded.Payload)
}

func TestIncompressibleLargeFrame(t *testing.T) {
	payload := make([]byte, 4096)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	data, err := Encode(Frame{Payload: payload})
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded.Payload)
}

func TestEncodeRejectsBadChallengeID(t *testing.T) {
	_, err := Encode(Frame{ChallengeID: "not base64 at all!!"})
	assert.Error(t, err)

	// Valid base64 but wrong decoded length.
	short := base64.RawURLEncoding.EncodeToString([]byte("tooshort"))
	_, err = Encode(Frame{ChallengeID: interfaces.ChallengeID(short)})
	assert.Error(t, err)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	challengeID := newChallengeID(t)
	valid, err := Encode(Frame{ChallengeID: challengeID, Payload: []byte("payload")})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown format", []byte{0x7f, 0x00, 0x00}},
		{"truncated markers", []byte{FormatBinary}},
		{"truncated challenge", []byte{FormatBinary, 1, 0xab}},
		{"truncated payload", valid[:len(valid)-3]},
		{"trailing garbage", append(append([]byte{}, valid...), 0xff)},
		{"bad zlib stream", []byte{FormatZlib, 0x00, 0x01, 0x02}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			assert.Error(t, err)
		})
	}
}

func TestDecodeRejectsOversizedPayloadLength(t *testing.T) {
	// Hand-built frame declaring a payload far larger than the limit.
	data := []byte{FormatBinary, 0, 1, 0xff, 0xff, 0xff, 0xff}
	_, err := Decode(data)
	assert.Error(t, err)
}
