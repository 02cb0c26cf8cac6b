// pkg/api/txn_test.go
package api

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsqlite/pkg/mvcc"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenWithOptions(filepath.Join(t.TempDir(), "test.db"),
		Options{PageSize: 512})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func fullPage(db *DB, fill byte) []byte {
	p := make([]byte, db.PageSize())
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestWritePageRoundTrip(t *testing.T) {
	db := openTestDB(t)

	pageNo, err := db.AllocatePage()
	require.NoError(t, err)

	require.NoError(t, db.Begin(mvcc.BeginConcurrent))
	require.NoError(t, db.WritePage(pageNo, fullPage(db, 0x42)))

	// Visible inside the transaction.
	img, err := db.GetPage(pageNo)
	require.NoError(t, err)
	assert.EqualValues(t, 0x42, img[0])

	require.NoError(t, db.Commit())

	// Visible after commit.
	img, err = db.GetPage(pageNo)
	require.NoError(t, err)
	assert.EqualValues(t, 0x42, img[0])
}

func TestRollbackDiscardsWrites(t *testing.T) {
	db := openTestDB(t)

	pageNo, err := db.AllocatePage()
	require.NoError(t, err)

	require.NoError(t, db.Begin(mvcc.BeginConcurrent))
	require.NoError(t, db.WritePage(pageNo, fullPage(db, 0x42)))
	require.NoError(t, db.Rollback())

	img, err := db.GetPage(pageNo)
	require.NoError(t, err)
	assert.EqualValues(t, 0x00, img[0])
}

func TestWritePageValidation(t *testing.T) {
	db := openTestDB(t)

	err := db.WritePage(0, fullPage(db, 1))
	var oor *mvcc.OutOfRangeError
	assert.ErrorAs(t, err, &oor)

	err = db.WritePage(2, []byte{1, 2, 3})
	assert.ErrorAs(t, err, &oor)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := OpenWithOptions(path, Options{PageSize: 512})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ro, err := OpenWithOptions(path, Options{PageSize: 512, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	assert.ErrorIs(t, ro.WritePage(1, fullPage(ro, 1)), ErrReadOnly)
	assert.ErrorIs(t, ro.Begin(mvcc.BeginImmediate), ErrReadOnly)
	_, err = ro.AllocatePage()
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestSavepointFlow(t *testing.T) {
	db := openTestDB(t)

	var pages [5]uint32
	for i := range pages {
		pn, err := db.AllocatePage()
		require.NoError(t, err)
		pages[i] = pn
	}

	require.NoError(t, db.Begin(mvcc.BeginConcurrent))
	require.NoError(t, db.WritePage(pages[1], fullPage(db, 1)))
	require.NoError(t, db.Savepoint("sp1"))
	require.NoError(t, db.WritePage(pages[2], fullPage(db, 2)))
	require.NoError(t, db.Savepoint("sp2"))
	require.NoError(t, db.WritePage(pages[3], fullPage(db, 3)))
	require.NoError(t, db.RollbackTo("sp2"))
	require.NoError(t, db.WritePage(pages[4], fullPage(db, 4)))
	require.NoError(t, db.Release("sp1"))
	require.NoError(t, db.Commit())

	want := map[uint32]byte{
		pages[1]: 1,
		pages[2]: 2,
		pages[3]: 0, // rolled back
		pages[4]: 4,
	}
	for pn, fill := range want {
		img, err := db.GetPage(pn)
		require.NoError(t, err)
		assert.Equal(t, fill, img[0], "page %d", pn)
	}
}

func TestImplicitSavepointTransaction(t *testing.T) {
	db := openTestDB(t)

	pn, err := db.AllocatePage()
	require.NoError(t, err)

	// SAVEPOINT while idle opens an implicit transaction; releasing the
	// outermost savepoint commits it.
	require.NoError(t, db.Savepoint("outer"))
	require.True(t, db.InTransaction())
	require.NoError(t, db.WritePage(pn, fullPage(db, 0x77)))
	require.NoError(t, db.Release("outer"))
	assert.False(t, db.InTransaction())

	img, err := db.GetPage(pn)
	require.NoError(t, err)
	assert.EqualValues(t, 0x77, img[0])
}

func TestFailedCommitSurfacesConflict(t *testing.T) {
	db := openTestDB(t)

	pn, err := db.AllocatePage()
	require.NoError(t, err)

	// A second transaction on the manager conflicts byte-for-byte with
	// the controller's transaction.
	require.NoError(t, db.Begin(mvcc.BeginConcurrent))
	require.NoError(t, db.WritePage(pn, fullPage(db, 0x01)))

	rival, err := db.mgr.Begin(mvcc.BeginConcurrent)
	require.NoError(t, err)
	require.NoError(t, db.mgr.Write(rival, pn, fullPage(db, 0x02)))
	require.NoError(t, db.mgr.Commit(rival))

	err = db.Commit()
	assert.ErrorIs(t, err, mvcc.ErrBusySnapshot)
	// The connection is reset: a new transaction can start at once.
	assert.False(t, db.InTransaction())
	require.NoError(t, db.Begin(mvcc.BeginConcurrent))
	require.NoError(t, db.Rollback())

	// The conflict reached the evidence ledger.
	assert.NotZero(t, db.RetryController().Ledger().Len())
}

func TestPragmas(t *testing.T) {
	db := openTestDB(t)

	assert.Equal(t, 512, db.PageSize())
	assert.Equal(t, "wal", db.JournalMode())
	assert.Equal(t, 0, db.AutoVacuum())

	db.SetBusyTimeout(250)
	assert.EqualValues(t, 250, db.BusyTimeout())
}

func TestCommitWhileIdleIsNoOp(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.Commit())
}

func TestRollbackWhileIdleErrors(t *testing.T) {
	db := openTestDB(t)
	assert.True(t, errors.Is(db.Rollback(), mvcc.ErrNoActiveTransaction))
}
