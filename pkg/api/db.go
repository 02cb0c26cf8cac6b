// pkg/api/db.go
// Package api is the connection surface the SQL layer drives: open and
// close a database, run transactions in any BEGIN mode, read and write
// pages under snapshot isolation, and reach the engine's pragmas.
//
// One DB value is one connection. Internally it wires the pager (page
// cache and database file), the write-ahead log with its FEC sidecar,
// the MVCC transaction manager, and the retry controller into a single
// write path: staged page images validate at COMMIT, persist through
// WAL frames, then publish as committed versions.
package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"fsqlite/pkg/integrity"
	"fsqlite/pkg/mvcc"
	"fsqlite/pkg/pager"
	"fsqlite/pkg/retry"
	"fsqlite/pkg/tree"
	"fsqlite/pkg/vfs"
	"fsqlite/pkg/wal"
	"fsqlite/pkg/walfec"
)

// Error kinds surfaced to the SQL layer. Busy-family errors come from
// the mvcc package; these cover the rest of the connection surface.
var (
	ErrReadOnly   = mvcc.ErrReadOnly
	ErrWalCorrupt = errors.New("wal corrupt")
	ErrClosed     = errors.New("connection is closed")
)

// Options configures a connection.
type Options struct {
	PageSize      int           // database page size (default 4096)
	CacheSize     int           // page cache capacity in entries
	ReadOnly      bool          // reject writes
	BusyTimeout   time.Duration // budget for busy retries (default 5s)
	RepairSymbols int           // FEC repair symbols per commit group
	DisableSSI    bool          // settle for snapshot isolation
}

// DB is one open connection to a database file.
type DB struct {
	mu   sync.Mutex
	path string
	opts Options

	pager *pager.Pager
	fec   *walfec.Sidecar
	mgr   *mvcc.TransactionManager
	ctl   *mvcc.Controller
	retry *retry.Controller

	// seqFrames maps each commit sequence to its WAL commit frame, so
	// checkpoint gating can translate the oldest reader's snapshot into
	// a frame bound.
	seqFrames map[uint64]uint32

	busyTimeout time.Duration
	closed      bool
}

// Open opens or creates a database with default options.
func Open(path string) (*DB, error) {
	return OpenWithOptions(path, Options{})
}

// OpenWithOptions opens or creates a database.
func OpenWithOptions(path string, opts Options) (*DB, error) {
	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	fs := vfs.NewHostVFS()

	// Before recovery prunes the WAL, try to reconstruct any damaged
	// frames from the FEC sidecar so the committed prefix survives.
	if err := healWAL(fs, path); err != nil {
		return nil, err
	}

	p, err := pager.Open(path, pager.Options{
		PageSize:  opts.PageSize,
		CacheSize: opts.CacheSize,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return nil, err
	}

	fec, err := walfec.Open(fs, path+"-wal-fec", walfec.Options{RepairSymbols: opts.RepairSymbols})
	if err != nil {
		p.Close()
		return nil, err
	}

	db := &DB{
		path:        path,
		opts:        opts,
		pager:       p,
		fec:         fec,
		mgr:         mvcc.NewTransactionManager(),
		retry:       retry.NewController(retry.Options{}),
		seqFrames:   make(map[uint64]uint32),
		busyTimeout: opts.BusyTimeout,
	}
	db.ctl = mvcc.NewController(db.mgr)
	db.mgr.SetSSIEnabled(!opts.DisableSSI)

	// Reads below the version arena fall through to the pager.
	db.mgr.SetBaseReader(func(pageNo uint32) ([]byte, error) {
		return db.readBasePage(pageNo)
	})
	db.mgr.SetPersistHook(db.persistCommit)

	// Every commit group feeds the FEC sidecar its repair symbols.
	db.pager.WAL().SetCommitHook(func(g wal.CommitGroup) {
		_ = db.fec.OnCommit(context.Background(), g)
	})

	// The cache prefers evicting page versions the arena has superseded.
	db.pager.SetNewerVersionHook(func(pagerPage uint32, seq uint64) bool {
		return db.mgr.Pages().NewerThan(pagerPage+1, seq)
	})

	return db, nil
}

// healWAL scans the WAL and, for each frame that fails its checksum,
// asks the sidecar to reconstruct the page from the commit group's
// surviving symbols. Healing stops at the first frame no group covers;
// recovery then prunes from there.
func healWAL(fs vfs.VFS, dbPath string) error {
	walPath := dbPath + "-wal"
	fecPath := dbPath + "-wal-fec"

	if ok, err := fs.Exists(walPath); err != nil || !ok {
		return err
	}
	if ok, err := fs.Exists(fecPath); err != nil || !ok {
		return err
	}

	ctx := context.Background()
	w, err := wal.Open(fs, walPath, wal.Options{})
	if err != nil {
		return nil // unreadable WAL: recovery will reinitialize it
	}
	defer w.Close()

	sc, err := walfec.Open(fs, fecPath, walfec.Options{})
	if err != nil {
		return nil // unreadable sidecar: nothing to heal from
	}
	defer sc.Close()

	salt1, salt2 := w.Salts()
	for {
		res, err := w.Scan(ctx)
		if err != nil {
			return err
		}
		if res.Reason == wal.ScanOK || res.Reason == wal.SaltMismatch {
			return nil
		}

		idx := res.FirstInvalidFrame
		frame, err := w.ReadFrameRaw(ctx, idx)
		if err != nil {
			return nil // header unreadable: unhealable
		}
		group, err := sc.GroupCoveringFrame(salt1, salt2, idx, frame.PageNo)
		if err != nil {
			return nil // no repair symbols for this frame
		}

		// Collect the group's other source pages from their raw frames;
		// the sidecar's digests filter any that are also damaged.
		intact := make(map[uint32][]byte, group.K)
		for _, pn := range group.PageNos {
			if pn == frame.PageNo {
				continue
			}
			for i := group.EndFrame; i >= 1; i-- {
				f, err := w.ReadFrameRaw(ctx, i)
				if err != nil {
					break
				}
				if f.PageNo == pn {
					intact[pn] = f.Data
					break
				}
			}
		}

		healed, err := sc.Heal(ctx, group, intact, frame.PageNo)
		if err != nil {
			return nil // not enough symbols survive
		}
		if err := w.RepairFrame(ctx, idx, healed); err != nil {
			return err
		}
	}
}

// readBasePage reads the committed image of a page from the pager.
// The engine's page numbers are 1-based with page 1 the file header;
// the pager indexes the same pages from zero.
func (db *DB) readBasePage(pageNo uint32) ([]byte, error) {
	if pageNo == 0 {
		return nil, &mvcc.OutOfRangeError{What: "page number", Value: 0}
	}
	// A committed WAL frame is newer than the database file until a
	// checkpoint backfills it.
	if wb := db.pager.WalBackend(); wb != nil {
		if img, ok := wb.ReadPage(context.Background(), pageNo, 0); ok {
			return img, nil
		}
	}
	page, err := db.pager.Get(pageNo - 1)
	if err != nil {
		return nil, err
	}
	img := make([]byte, db.pager.PageSize())
	copy(img, page.Data())
	db.pager.Release(page)
	return img, nil
}

// persistCommit is the manager's durability hook: append every image
// as a WAL frame (the last one carrying the commit marker), sync, then
// advance the pager's cache commit tag. The images are not written to
// the database file here; that happens at checkpoint.
func (db *DB) persistCommit(seq uint64, images map[uint32][]byte) error {
	ctx := context.Background()
	w := db.pager.WAL()

	// Grow the file for any page past the current end.
	for pageNo := range images {
		for db.pager.PageCount() <= pageNo-1 {
			page, err := db.pager.AllocateContext(ctx)
			if err != nil {
				return err
			}
			db.pager.Release(page)
		}
	}

	pageNos := make([]uint32, 0, len(images))
	for pn := range images {
		pageNos = append(pageNos, pn)
	}
	sort.Slice(pageNos, func(i, j int) bool { return pageNos[i] < pageNos[j] })

	dbSize := db.pager.PageCount()
	for i, pn := range pageNos {
		marker := uint32(0)
		if i == len(pageNos)-1 {
			marker = dbSize
		}
		if err := w.AppendFrame(ctx, pn, images[pn], marker); err != nil {
			return err
		}
	}
	if err := w.Sync(ctx); err != nil {
		return err
	}

	// The commit frame is durable. The database file itself catches up
	// only at checkpoint; until then readers find these images in the
	// version arena or the WAL.
	db.pager.SetCommitSeq(seq)

	db.mu.Lock()
	db.seqFrames[seq] = w.LastCommitFrame()
	db.mu.Unlock()
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close rolls back any open transaction and closes the connection.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrClosed
	}
	db.closed = true
	db.mu.Unlock()

	if db.ctl.State() != mvcc.CtrlIdle {
		_ = db.ctl.Rollback()
	}
	if err := db.fec.Close(); err != nil {
		db.pager.Close()
		return err
	}
	return db.pager.Close()
}

// Begin opens a transaction, retrying a busy writer lock within the
// busy-timeout budget as the retry controller advises.
func (db *DB) Begin(mode mvcc.BeginMode) error {
	if db.opts.ReadOnly && (mode == mvcc.BeginImmediate || mode == mvcc.BeginExclusive) {
		return ErrReadOnly
	}

	budget := int(db.busyTimeout.Milliseconds())
	waited := -1
	for {
		err := db.ctl.Begin(mode)
		if waited >= 0 {
			db.retry.Observe(0, waited, err == nil)
		}
		if err == nil || !errors.Is(err, mvcc.ErrBusy) {
			return err
		}
		d := db.retry.Decide(0, budget)
		if d.Action != retry.ActionRetry {
			return err
		}
		time.Sleep(time.Duration(d.WaitMs) * time.Millisecond)
		waited = d.WaitMs
		budget -= d.WaitMs + 1
		if budget < 0 {
			return err
		}
	}
}

// Commit ends the current transaction. A validation conflict surfaces
// as ErrBusySnapshot after informing the retry controller; the caller
// may consult the controller to decide whether to re-run.
func (db *DB) Commit() error {
	tx := db.ctl.Tx()
	err := db.ctl.Commit()
	if err == nil {
		if tx != nil {
			db.retry.Observe(tx.ID(), 0, true)
		}
		return nil
	}
	if tx != nil && (errors.Is(err, mvcc.ErrBusySnapshot) || errors.Is(err, mvcc.ErrBusy)) {
		db.retry.Observe(tx.ID(), 0, false)
		db.retry.Decide(tx.ID(), int(db.busyTimeout.Milliseconds()))
		// The failed transaction only accepts ROLLBACK; clear it so the
		// caller can re-run immediately.
		_ = db.ctl.Rollback()
	}
	return err
}

// Rollback aborts the current transaction.
func (db *DB) Rollback() error {
	tx := db.ctl.Tx()
	if tx != nil {
		db.retry.Forget(tx.ID())
	}
	return db.ctl.Rollback()
}

// Savepoint, Release and RollbackTo manage the savepoint stack; a
// SAVEPOINT outside a transaction opens an implicit one.
func (db *DB) Savepoint(name string) error {
	return db.ctl.Savepoint(name)
}

func (db *DB) Release(name string) error {
	return db.ctl.Release(name)
}

func (db *DB) RollbackTo(name string) error {
	return db.ctl.RollbackTo(name)
}

// InTransaction reports whether an explicit transaction is open.
func (db *DB) InTransaction() bool {
	return db.ctl.State() != mvcc.CtrlIdle
}

// withTx runs fn inside the current transaction, or an autocommit one
// when the connection is idle.
func (db *DB) withTx(fn func(tx *mvcc.Transaction) error) error {
	if db.ctl.State() == mvcc.CtrlActive {
		return fn(db.ctl.Tx())
	}
	if err := db.ctl.Begin(mvcc.BeginDeferred); err != nil {
		return err
	}
	if err := fn(db.ctl.Tx()); err != nil {
		_ = db.ctl.Rollback()
		return err
	}
	return db.Commit()
}

// GetPage returns the page image visible to the current snapshot.
// Page numbers are 1-based; page 1 holds the file header.
func (db *DB) GetPage(pageNo uint32) ([]byte, error) {
	if pageNo == 0 {
		return nil, &mvcc.OutOfRangeError{What: "page number", Value: 0}
	}
	var img []byte
	err := db.withTx(func(tx *mvcc.Transaction) error {
		var err error
		img, err = db.mgr.Read(tx, pageNo)
		return err
	})
	return img, err
}

// WritePage stages a full-page image in the current transaction.
func (db *DB) WritePage(pageNo uint32, data []byte) error {
	if db.opts.ReadOnly {
		return ErrReadOnly
	}
	if pageNo == 0 {
		return &mvcc.OutOfRangeError{What: "page number", Value: 0}
	}
	if len(data) != db.pager.PageSize() {
		return &mvcc.OutOfRangeError{What: "page image size", Value: int64(len(data))}
	}
	db.retry.ObserveWrite(pageNo)
	return db.withTx(func(tx *mvcc.Transaction) error {
		return db.mgr.Write(tx, pageNo, data)
	})
}

// AllocatePage grows the database (or reuses a freed page) and returns
// the new 1-based page number.
func (db *DB) AllocatePage() (uint32, error) {
	if db.opts.ReadOnly {
		return 0, ErrReadOnly
	}
	page, err := db.pager.Allocate()
	if err != nil {
		return 0, err
	}
	pageNo := page.PageNo() + 1
	db.pager.Release(page)
	return pageNo, nil
}

// FreePage returns a page to the freelist.
func (db *DB) FreePage(pageNo uint32) error {
	if db.opts.ReadOnly {
		return ErrReadOnly
	}
	if pageNo == 0 {
		return &mvcc.OutOfRangeError{What: "page number", Value: 0}
	}
	return db.pager.Free(pageNo - 1)
}

// Pager exposes the pager for B-tree cursors and structural tooling.
func (db *DB) Pager() *pager.Pager {
	return db.pager
}

// CreateTree allocates a new B-tree in the file and returns it; its
// root is at tree.RootPage()+1 in the connection's 1-based numbering.
func (db *DB) CreateTree() (tree.ExtendedTree, error) {
	if db.opts.ReadOnly {
		return nil, ErrReadOnly
	}
	return tree.NewFactory(db.pager, tree.TreeTypeClassic).Create()
}

// OpenTree opens the B-tree rooted at the given 1-based page number;
// cursors over it read through the pager and emit prefetch hints on
// leaf transitions.
func (db *DB) OpenTree(rootPage uint32) (tree.ExtendedTree, error) {
	if rootPage == 0 {
		return nil, &mvcc.OutOfRangeError{What: "root page", Value: 0}
	}
	return tree.NewFactory(db.pager, tree.TreeTypeClassic).Open(rootPage - 1)
}

// RetryController exposes the conflict policy and its evidence ledger.
func (db *DB) RetryController() *retry.Controller {
	return db.retry
}

// PageSize reports the page size (PRAGMA page_size).
func (db *DB) PageSize() int {
	return db.pager.PageSize()
}

// JournalMode reports the journaling mode (PRAGMA journal_mode); the
// engine always runs its write-ahead log.
func (db *DB) JournalMode() string {
	return "wal"
}

// AutoVacuum reports the auto-vacuum mode (PRAGMA auto_vacuum); freed
// pages go to the freelist, the file never shrinks automatically.
func (db *DB) AutoVacuum() int {
	return 0
}

// BusyTimeout reports the busy-timeout budget (PRAGMA busy_timeout).
func (db *DB) BusyTimeout() time.Duration {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.busyTimeout
}

// SetBusyTimeout adjusts the busy-timeout budget.
func (db *DB) SetBusyTimeout(d time.Duration) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.busyTimeout = d
}

// WalCheckpoint runs a checkpoint (PRAGMA wal_checkpoint). The oldest
// active snapshot bounds how far frames may backfill; retired FEC
// groups follow the backfill point.
func (db *DB) WalCheckpoint(mode wal.CheckpointMode) (wal.CheckpointResult, error) {
	oldest := db.oldestReaderFrame()
	res, err := db.pager.Checkpoint(context.Background(), mode, oldest)
	if err != nil {
		return res, err
	}

	w := db.pager.WAL()
	salt1, salt2 := w.Salts()
	if res.WalWasReset {
		db.mu.Lock()
		db.seqFrames = make(map[uint64]uint32)
		db.mu.Unlock()
	} else if res.FramesBackfilled > 0 {
		db.fec.RetireThrough(salt1, salt2, w.Backfilled())
	}
	return res, nil
}

// oldestReaderFrame translates the oldest active snapshot into the WAL
// frame bound a checkpoint must respect; 0 means unconstrained.
func (db *DB) oldestReaderFrame() uint32 {
	active := db.mgr.ActiveTransactions()
	if len(active) == 0 {
		return 0
	}
	oldest := db.mgr.MinActiveSnapshot()
	if oldest >= db.mgr.CurrentCommitSeq() {
		return 0
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if frame, ok := db.seqFrames[oldest]; ok {
		return frame
	}
	// The snapshot precedes every recorded commit: hold everything.
	return 1
}

// IntegrityCheck runs the five-level structural check over the given
// schema roots and catalog records (PRAGMA integrity_check). Returns
// "ok" or the findings, one per line.
func (db *DB) IntegrityCheck(roots []integrity.Root, schemaRecords [][]byte) string {
	findings := integrity.Check(db.pager, roots, schemaRecords, integrity.Options{})
	return integrity.Report(findings)
}
