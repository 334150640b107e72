package salts

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureSaltsDecodeWireOrder(t *testing.T) {
	body := make([]byte, 0, 16+2*RecordSize)
	body = binary.LittleEndian.AppendUint64(body, 0x5e0b800000000004)
	body = binary.LittleEndian.AppendUint32(body, 1700000000)
	body = binary.LittleEndian.AppendUint32(body, 2)
	body = binary.LittleEndian.AppendUint32(body, 1700000000)
	body = binary.LittleEndian.AppendUint32(body, 1700003600)
	body = binary.LittleEndian.AppendUint64(body, 0x1111)
	body = binary.LittleEndian.AppendUint32(body, 1700003600)
	body = binary.LittleEndian.AppendUint32(body, 1700007200)
	body = binary.LittleEndian.AppendUint64(body, uint64(0xfedcba9876543210))

	fs, err := DecodeFutureSalts(body)
	require.NoError(t, err)

	assert.Equal(t, uint64(0x5e0b800000000004), fs.ReqMsgID)
	assert.Equal(t, int32(1700000000), fs.Now)
	require.Len(t, fs.Salts, 2)
	assert.Equal(t, Salt{Value: 0x1111, ValidSince: 1700000000, ValidUntil: 1700003600}, fs.Salts[0])
	assert.Equal(t, int64(-81985529216486896), fs.Salts[1].Value)

	boxed := fs.Encode()
	assert.Equal(t, ConstructorFutureSalts, binary.LittleEndian.Uint32(boxed))
	assert.Equal(t, body, boxed[4:])

	again, err := DecodeBoxedFutureSalts(boxed)
	require.NoError(t, err)
	assert.Equal(t, fs, again)
}

func TestFutureSaltsDecodeErrors(t *testing.T) {
	valid := (&FutureSalts{ReqMsgID: 8, Now: 10, Salts: []Salt{{Value: 1, ValidSince: 1, ValidUntil: 2}}}).Encode()

	tests := []struct {
		name    string
		input   []byte
		boxed   bool
		wantErr error
	}{
		{"empty", nil, false, ErrShortFutureSalts},
		{"header only truncated", valid[4:12], false, ErrShortFutureSalts},
		{"records truncated", valid[4 : len(valid)-1], false, ErrShortFutureSalts},
		{"wrong constructor", append([]byte{1, 2, 3, 4}, valid[4:]...), true, ErrBadConstructor},
		{"boxed too short", []byte{0x95}, true, ErrShortFutureSalts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.boxed {
				_, err = DecodeBoxedFutureSalts(tt.input)
			} else {
				_, err = DecodeFutureSalts(tt.input)
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	huge := append([]byte(nil), valid[4:]...)
	binary.LittleEndian.PutUint32(huge[12:16], 0xffffffff)
	_, err := DecodeFutureSalts(huge)
	assert.ErrorIs(t, err, ErrTooManySalts)
}

func TestFutureSaltsEmptyList(t *testing.T) {
	fs, err := DecodeBoxedFutureSalts((&FutureSalts{ReqMsgID: 4, Now: 5}).Encode())
	require.NoError(t, err)
	assert.Empty(t, fs.Salts)
}

func TestEncodeGetFutureSalts(t *testing.T) {
	body := EncodeGetFutureSalts(64)
	assert.Equal(t, []byte{0x04, 0xbd, 0x21, 0xb9, 64, 0, 0, 0}, body)
}
