// pkg/api/recovery_test.go
package api

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsqlite/pkg/mvcc"
	"fsqlite/pkg/wal"
)

func TestCommitSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := OpenWithOptions(path, Options{PageSize: 512})
	require.NoError(t, err)

	pn, err := db.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, db.Begin(mvcc.BeginConcurrent))
	require.NoError(t, db.WritePage(pn, fullPage(db, 0x5C)))
	require.NoError(t, db.Commit())
	require.NoError(t, db.Close())

	db2, err := OpenWithOptions(path, Options{PageSize: 512})
	require.NoError(t, err)
	defer db2.Close()

	img, err := db2.GetPage(pn)
	require.NoError(t, err)
	assert.EqualValues(t, 0x5C, img[0])
}

func TestUncommittedWritesDoNotSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := OpenWithOptions(path, Options{PageSize: 512})
	require.NoError(t, err)

	pn, err := db.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, db.Begin(mvcc.BeginConcurrent))
	require.NoError(t, db.WritePage(pn, fullPage(db, 0x66)))
	// Close without committing: the staged write never reached the WAL.
	require.NoError(t, db.Close())

	db2, err := OpenWithOptions(path, Options{PageSize: 512})
	require.NoError(t, err)
	defer db2.Close()

	img, err := db2.GetPage(pn)
	require.NoError(t, err)
	assert.EqualValues(t, 0x00, img[0])
}

// A single corrupted WAL frame is rebuilt from the FEC sidecar on the
// next open, so the damaged commit survives instead of being pruned.
func TestSelfHealingWALFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := OpenWithOptions(path, Options{PageSize: 512})
	require.NoError(t, err)

	var pages [3]uint32
	for i := range pages {
		pn, err := db.AllocatePage()
		require.NoError(t, err)
		pages[i] = pn
	}

	require.NoError(t, db.Begin(mvcc.BeginConcurrent))
	for i, pn := range pages {
		require.NoError(t, db.WritePage(pn, fullPage(db, byte(0x10*(i+1)))))
	}
	require.NoError(t, db.Commit())

	// Flip a payload byte of the first frame of the commit group; do
	// not close cleanly through a checkpoint path that would backfill.
	require.NoError(t, db.Close())

	walPath := path + "-wal"
	raw, err := os.ReadFile(walPath)
	require.NoError(t, err)
	require.Greater(t, len(raw), wal.HeaderSize+wal.FrameHeaderSize+10)
	raw[wal.HeaderSize+wal.FrameHeaderSize+10] ^= 0xFF
	require.NoError(t, os.WriteFile(walPath, raw, 0644))

	db2, err := OpenWithOptions(path, Options{PageSize: 512})
	require.NoError(t, err)
	defer db2.Close()

	for i, pn := range pages {
		img, err := db2.GetPage(pn)
		require.NoError(t, err)
		assert.EqualValues(t, byte(0x10*(i+1)), img[0], "page %d", pn)
	}
}

// Without the sidecar the same corruption prunes the commit: healing
// is what preserved it above.
func TestCorruptionWithoutSidecarPrunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := OpenWithOptions(path, Options{PageSize: 512})
	require.NoError(t, err)

	pn, err := db.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, db.Begin(mvcc.BeginConcurrent))
	require.NoError(t, db.WritePage(pn, fullPage(db, 0x44)))
	require.NoError(t, db.Commit())
	require.NoError(t, db.Close())

	walPath := path + "-wal"
	raw, err := os.ReadFile(walPath)
	require.NoError(t, err)
	raw[wal.HeaderSize+wal.FrameHeaderSize+10] ^= 0xFF
	require.NoError(t, os.WriteFile(walPath, raw, 0644))
	require.NoError(t, os.Remove(path+"-wal-fec"))

	db2, err := OpenWithOptions(path, Options{PageSize: 512})
	require.NoError(t, err)
	defer db2.Close()

	img, err := db2.GetPage(pn)
	require.NoError(t, err)
	assert.EqualValues(t, 0x00, img[0], "pruned commit must not reappear")
}

func TestWalCheckpointRetiresFECGroups(t *testing.T) {
	db := openTestDB(t)

	pn, err := db.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, db.Begin(mvcc.BeginConcurrent))
	require.NoError(t, db.WritePage(pn, fullPage(db, 0x21)))
	require.NoError(t, db.Commit())

	require.Equal(t, 1, db.fec.LiveGroups())

	res, err := db.WalCheckpoint(wal.CheckpointPassive)
	require.NoError(t, err)
	assert.NotZero(t, res.FramesBackfilled)
	assert.Equal(t, 0, db.fec.LiveGroups())

	// Data remains readable after the checkpoint.
	img, err := db.GetPage(pn)
	require.NoError(t, err)
	assert.EqualValues(t, 0x21, img[0])
}

func TestWalCheckpointTruncateResets(t *testing.T) {
	db := openTestDB(t)

	pn, err := db.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, db.Begin(mvcc.BeginConcurrent))
	require.NoError(t, db.WritePage(pn, fullPage(db, 0x33)))
	require.NoError(t, db.Commit())

	res, err := db.WalCheckpoint(wal.CheckpointTruncate)
	require.NoError(t, err)
	assert.True(t, res.WalWasReset)
	assert.Zero(t, db.Pager().WAL().FrameCount())

	img, err := db.GetPage(pn)
	require.NoError(t, err)
	assert.EqualValues(t, 0x33, img[0])
}
