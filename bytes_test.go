package astipsi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindow(t *testing.T) {
	bs := []byte{0, 1, 2, 3}
	w, err := window(bs, 1, 2)
	assert.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, w)
	assert.Equal(t, 2, cap(w))

	// Windows alias the backing slice
	bs[1] = 9
	assert.Equal(t, []byte{9, 2}, w)

	_, err = window(bs, 3, 2)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = window(bs, -1, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	w, err = tail(bs, 4)
	assert.NoError(t, err)
	assert.Empty(t, w)
	_, err = tail(bs, 5)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestUintN(t *testing.T) {
	assert.Equal(t, uint16(0x1000), uint13([]byte{0xf0, 0x00}))
	assert.Equal(t, uint16(0x3ff), uint10([]byte{0xff, 0xff}))
}
