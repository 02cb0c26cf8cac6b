// pkg/mvcc/ssi_test.go
package mvcc

import (
	"errors"
	"testing"
)

func TestWitnessBitset(t *testing.T) {
	var b witnessBitset
	b.set(3)
	b.set(3 + witnessWidth) // same bit mod width
	if !b.has(3) {
		t.Error("bit 3 not set")
	}
	if b.anyBesides(3) {
		t.Error("only bit 3 is set")
	}
	b.set(70)
	if !b.anyBesides(3) {
		t.Error("bit 70 should count as another participant")
	}
}

func TestWitnessPlanePrefilter(t *testing.T) {
	w := NewWitnessPlane()

	w.ObserveRead(1, 10)
	w.ObserveWrite(2, 10)

	if !w.MayHaveInRW(1, []uint32{10}) {
		t.Error("txn 1 read a group txn 2 wrote")
	}
	if !w.MayHaveOutRW(2, []uint32{10}) {
		t.Error("txn 2 wrote a group txn 1 read")
	}
	if w.MayHaveInRW(2, []uint32{10}) {
		t.Error("txn 2 is the only writer of group 10")
	}

	w.Reset()
	if w.MayHaveInRW(1, []uint32{10}) {
		t.Error("reset plane must be clean")
	}
}

func TestConflictGraphEdges(t *testing.T) {
	g := NewConflictGraph()
	g.AddRWEdge(1, 2)
	g.AddRWEdge(3, 1)

	if !g.HasOut(1) || !g.HasIn(1) {
		t.Error("txn 1 should have both edges")
	}
	if g.HasIn(3) {
		t.Error("txn 3 has no incoming edge")
	}
	if in := g.InEdges(1); len(in) != 1 || in[0] != 3 {
		t.Errorf("InEdges(1): %v", in)
	}

	g.Remove(1)
	if g.HasIn(2) || g.HasOut(3) {
		t.Error("removing txn 1 must drop its edges")
	}
}

// Write skew: T1 and T2 each read pages 1 and 2 and write one of them.
// Under SSI the pivot aborts; with SSI off both commit.
func TestWriteSkew(t *testing.T) {
	run := func(t *testing.T, ssi bool) {
		m := NewTransactionManager()
		m.SetSSIEnabled(ssi)

		// Bootstrap pages 1 and 2 with value 50.
		boot, _ := m.Begin(BeginConcurrent)
		if err := m.Write(boot, 1, page(32, 50)); err != nil {
			t.Fatal(err)
		}
		if err := m.Write(boot, 2, page(32, 50)); err != nil {
			t.Fatal(err)
		}
		if err := m.Commit(boot); err != nil {
			t.Fatal(err)
		}

		t1, _ := m.Begin(BeginConcurrent)
		t2, _ := m.Begin(BeginConcurrent)

		// T1 reads both, writes page 1 to 10.
		if _, err := m.Read(t1, 1); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Read(t1, 2); err != nil {
			t.Fatal(err)
		}
		if err := m.Write(t1, 1, page(32, 10)); err != nil {
			t.Fatal(err)
		}

		// T2 reads both, writes page 2 to 10.
		if _, err := m.Read(t2, 1); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Read(t2, 2); err != nil {
			t.Fatal(err)
		}
		if err := m.Write(t2, 2, page(32, 10)); err != nil {
			t.Fatal(err)
		}

		if err := m.Commit(t1); err != nil {
			t.Fatalf("T1 commit: %v", err)
		}

		err := m.Commit(t2)
		if ssi {
			if !errors.Is(err, ErrBusySnapshot) {
				t.Fatalf("T2 commit under SSI: got %v, want ErrBusySnapshot", err)
			}
			if !t2.HasInRW() || !t2.HasOutRW() {
				t.Errorf("pivot flags: in=%v out=%v, want both true",
					t2.HasInRW(), t2.HasOutRW())
			}
		} else {
			if err != nil {
				t.Fatalf("T2 commit with SSI off: %v", err)
			}
		}
	}

	t.Run("ssi-on", func(t *testing.T) { run(t, true) })
	t.Run("ssi-off", func(t *testing.T) { run(t, false) })
}

// A pure rw-conflict in one direction only is not dangerous: the
// reader commits after the writer without aborting.
func TestSingleDirectionConflictCommits(t *testing.T) {
	m := NewTransactionManager()

	boot, _ := m.Begin(BeginConcurrent)
	if err := m.Write(boot, 1, page(32, 1)); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(boot); err != nil {
		t.Fatal(err)
	}

	reader, _ := m.Begin(BeginConcurrent)
	writer, _ := m.Begin(BeginConcurrent)

	if _, err := m.Read(reader, 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(writer, 1, page(32, 2)); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(writer); err != nil {
		t.Fatalf("writer commit: %v", err)
	}

	// The reader writes an unrelated page: it has an in-edge (read page
	// 1 which writer updated) but no out-edge.
	if err := m.Write(reader, 9, page(32, 9)); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(reader); err != nil {
		t.Fatalf("reader commit: %v", err)
	}
}
