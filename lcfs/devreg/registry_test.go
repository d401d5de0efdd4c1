package devreg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, bitmap uint16, sectors, blocks uint16) *Registry {
	r := New()
	for _, id := range r.Discover(bitmap) {
		require.NoError(t, r.InitGeometry(id, sectors, blocks))
	}
	return r
}

func TestDiscover(t *testing.T) {
	r := New()
	assert.Equal(t, []uint8{0, 2, 15}, r.Discover(0x8005))
	assert.Equal(t, []uint8{0, 2, 15}, r.IDs())
	assert.Empty(t, New().Discover(0))

	err := r.InitGeometry(3, 1, 1)
	assert.True(t, errors.Is(err, ErrUnknownDevice))
	err = r.InitGeometry(2, 0, 4)
	assert.True(t, errors.Is(err, ErrGeometry))
}

func TestAllocateMonotonic(t *testing.T) {
	r := newRegistry(t, 0x3, 2, 3)
	var got []Address
	for i := 0; i < 6; i++ {
		addr, err := r.Allocate()
		require.NoError(t, err)
		got = append(got, addr)
	}
	// device 0 is filled first, block by block and then sector by sector
	assert.Equal(t, []Address{
		{0, 0, 0}, {0, 0, 1}, {0, 0, 2},
		{0, 1, 0}, {0, 1, 1}, {0, 1, 2},
	}, got)
	assert.True(t, r.Devices()[0].Full)

	// then rolls over to device 1
	addr, err := r.Allocate()
	require.NoError(t, err)
	assert.Equal(t, Address{1, 0, 0}, addr)
}

func TestOutOfSpace(t *testing.T) {
	r := newRegistry(t, 0x1, 1, 2)
	for i := 0; i < 2; i++ {
		_, err := r.Allocate()
		require.NoError(t, err)
	}
	_, err := r.Allocate()
	assert.True(t, errors.Is(err, ErrOutOfSpace))

	_, err = New().Allocate()
	assert.True(t, errors.Is(err, ErrOutOfSpace))
}

func TestReclaimPreferred(t *testing.T) {
	r := newRegistry(t, 0x3, 4, 4)
	var addrs []Address
	for i := 0; i < 3; i++ {
		addr, err := r.Allocate()
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}
	require.NoError(t, r.Reclaim(addrs[1]))
	require.NoError(t, r.Reclaim(addrs[0]))
	assert.Equal(t, 2, r.FreeCount())

	// FIFO order
	addr, err := r.Allocate()
	require.NoError(t, err)
	assert.Equal(t, addrs[1], addr)
	addr, err = r.Allocate()
	require.NoError(t, err)
	assert.Equal(t, addrs[0], addr)

	// free list drained, cursor resumes
	addr, err = r.Allocate()
	require.NoError(t, err)
	assert.Equal(t, Address{0, 0, 3}, addr)

	err = r.Reclaim(Address{Device: 9})
	assert.True(t, errors.Is(err, ErrUnknownDevice))
}

func TestReclaimTwice(t *testing.T) {
	r := newRegistry(t, 0x1, 2, 2)
	addr, err := r.Allocate()
	require.NoError(t, err)
	require.NoError(t, r.Reclaim(addr))
	err = r.Reclaim(addr)
	assert.True(t, errors.Is(err, ErrAlreadyFree))
	assert.Equal(t, 1, r.FreeCount())

	again, err := r.Allocate()
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	next, err := r.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, addr, next)

	// handed out again, so it may be queued once more
	assert.NoError(t, r.Reclaim(again))
}

func TestReclaimAfterFull(t *testing.T) {
	r := newRegistry(t, 0x1, 1, 1)
	addr, err := r.Allocate()
	require.NoError(t, err)
	_, err = r.Allocate()
	require.True(t, errors.Is(err, ErrOutOfSpace))

	require.NoError(t, r.Reclaim(addr))
	again, err := r.Allocate()
	require.NoError(t, err)
	assert.Equal(t, addr, again)
}

func TestValidAndCapacity(t *testing.T) {
	r := newRegistry(t, 0x2, 3, 5)
	assert.True(t, r.Valid(Address{1, 2, 4}))
	assert.False(t, r.Valid(Address{1, 3, 0}))
	assert.False(t, r.Valid(Address{1, 0, 5}))
	assert.False(t, r.Valid(Address{0, 0, 0}))

	total, unused := r.Capacity()
	assert.Equal(t, uint64(15), total)
	assert.Equal(t, uint64(15), unused)
	_, err := r.Allocate()
	require.NoError(t, err)
	_, unused = r.Capacity()
	assert.Equal(t, uint64(14), unused)
}

func TestAddressKey(t *testing.T) {
	a := Address{Device: 4, Sector: 300, Block: 7}
	assert.Equal(t, a, AddressFromKey(a.Key()))
	assert.Equal(t, "4/300/7", a.String())
}
