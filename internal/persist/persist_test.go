package persist

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/powermeter/log2"
)

type blob struct {
	b   []byte
	err error
}

func (self *blob) MarshalBinary() ([]byte, error) { return self.b, self.err }
func (self *blob) UnmarshalBinary(b []byte) error {
	if self.err != nil {
		return self.err
	}
	self.b = append([]byte(nil), b...)
	return nil
}

func TestFile(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	root := t.TempDir()
	f := OpenFile(log, root, "energy", 64)

	var got blob
	found, err := f.Load(&got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, f.Save(&blob{b: []byte("kwh=12.345")}))
	found, err = OpenFile(log, root, "energy", 64).Load(&got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "kwh=12.345", string(got.b))

	// decode failure is reported, caller decides
	found, err = f.Load(&blob{err: errors.New("bad")})
	assert.False(t, found)
	assert.Contains(t, err.Error(), "persist energy decode")
}

func TestFileMemory(t *testing.T) {
	t.Parallel()

	f := OpenFile(log2.NewTest(t, log2.LDebug), "", "x", 8)
	require.NoError(t, f.Save(&blob{b: []byte{1}}))
	found, err := f.Load(&blob{})
	require.NoError(t, err)
	assert.False(t, found)

	err = f.Save(&blob{err: errors.New("encode")})
	assert.Contains(t, err.Error(), "persist x encode")

	// frame 8 holds 6 payload bytes
	require.NoError(t, f.Save(&blob{b: []byte("123456")}))
	err = f.Save(&blob{b: []byte("1234567")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "length=7 max=6")
}

// Storage rewrites in place, shorter payload must not leave stale tail behind.
func TestFileShrink(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	root := t.TempDir()
	f := OpenFile(log, root, "reason", 48)
	for _, s := range []string{"", "network join timeout", "clock sync timeout", "x", ""} {
		require.NoError(t, f.Save(&blob{b: []byte(s)}))
		var got blob
		found, err := OpenFile(log, root, "reason", 48).Load(&got)
		require.NoError(t, err, "after save %q", s)
		assert.True(t, found)
		assert.Equal(t, s, string(got.b))
	}
}
