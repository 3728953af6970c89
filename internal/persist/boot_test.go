package persist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/powermeter/log2"
)

func TestBootSequence(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	root := t.TempDir()

	b1, err := OpenBoot(log, root)
	require.NoError(t, err)
	r1 := b1.Report()
	assert.Equal(t, uint32(1), r1.Boot)
	assert.Len(t, r1.BootID, 36)
	assert.Equal(t, "", r1.LastFatal)
	assert.True(t, r1.LastFatalAt.IsZero())

	at := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	require.NoError(t, b1.RecordFatal("all sensors dead", at))

	b2, err := OpenBoot(log, root)
	require.NoError(t, err)
	r2 := b2.Report()
	assert.Equal(t, uint32(2), r2.Boot)
	assert.NotEqual(t, r1.BootID, r2.BootID)
	assert.Equal(t, "all sensors dead", r2.LastFatal)
	assert.True(t, at.Equal(r2.LastFatalAt))

	// run ended without fatal reason, e.g. power cut
	b3, err := OpenBoot(log, root)
	require.NoError(t, err)
	r3 := b3.Report()
	assert.Equal(t, uint32(3), r3.Boot)
	assert.Equal(t, "", r3.LastFatal)
}

func TestBootShorterReason(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	root := t.TempDir()
	at := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	reasons := []string{"network join timeout", "clock sync timeout", "", strings.Repeat("r", 300), "x"}
	prev := ""
	for i, reason := range reasons {
		b, err := OpenBoot(log, root)
		require.NoError(t, err)
		r := b.Report()
		assert.Equal(t, uint32(i+1), r.Boot)
		assert.Equal(t, prev, r.LastFatal)
		if reason != "" {
			require.NoError(t, b.RecordFatal(reason, at))
		}
		prev = reason
		if len(prev) > maxFatalLen {
			prev = prev[:maxFatalLen]
		}
	}
}

func TestBootMemory(t *testing.T) {
	t.Parallel()

	b, err := OpenBoot(log2.NewTest(t, log2.LDebug), "")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), b.Report().Boot)
	assert.NoError(t, b.RecordFatal("x", time.Now()))
}

func TestBootCorrupt(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	root := t.TempDir()
	_, err := OpenBoot(log, root)
	require.NoError(t, err)

	dir := filepath.Join(root, bootTag)
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f.Name()), []byte("garbage"), 0644))
	}

	b, err := OpenBoot(log, root)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), b.Report().Boot)
}

func TestBootRecordWire(t *testing.T) {
	t.Parallel()

	src := &Boot{rec: BootRecord{Boot: 300, BootId: "id", LastFatal: "link lost", LastFatalUnix: 1}}
	b, err := src.MarshalBinary()
	require.NoError(t, err)
	// field 1 varint 300, field 2 "id"
	assert.Equal(t, []byte{0x08, 0xac, 0x02, 0x12, 0x02, 'i', 'd'}, b[:7])

	var dst Boot
	require.NoError(t, dst.UnmarshalBinary(b))
	assert.Equal(t, src.rec.Boot, dst.rec.Boot)
	assert.Equal(t, src.rec.LastFatal, dst.rec.LastFatal)
	assert.Equal(t, src.rec.LastFatalUnix, dst.rec.LastFatalUnix)
}
