package crdt

import (
	"testing"
)

func TestSetGetText(t *testing.T) {
	t.Parallel()
	d := New("replica-a")
	cases := []string{"hello", "multi\nline\ntext", "unicode: 日本語 🎉", ""}
	for _, s := range cases {
		d.SetText(s)
		if got := d.GetText(); got != s {
			t.Errorf("SetText(%q); GetText() = %q", s, got)
		}
	}
}

func TestInsertDeletePreservesOrder(t *testing.T) {
	t.Parallel()
	d := New("r1")
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(d.InsertString(0, "c"))
	must(d.InsertString(0, "a"))
	must(d.InsertString(1, "b"))
	if got := d.GetText(); got != "abc" {
		t.Fatalf("GetText() = %q, want abc", got)
	}
	must(d.DeleteAt(1))
	if got := d.GetText(); got != "ac" {
		t.Fatalf("GetText() after delete = %q, want ac", got)
	}
}

func TestInsertContainerMarker(t *testing.T) {
	t.Parallel()
	d := New("r1")
	if err := d.InsertString(0, "before-"); err != nil {
		t.Fatal(err)
	}
	if err := d.InsertContainer(1, []byte("blob:abc")); err != nil {
		t.Fatal(err)
	}
	if err := d.InsertString(2, "-after"); err != nil {
		t.Fatal(err)
	}
	if got, want := d.GetText(), "before-[pointer]-after"; got != want {
		t.Fatalf("GetText() = %q, want %q", got, want)
	}
	items := d.Items()
	if len(items) != 3 || !items[1].Container {
		t.Fatalf("Items() = %+v, want container at index 1", items)
	}
}

func TestExportImportSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	d := New("r1")
	d.SetText("hello world")
	meta := map[string]string{"doc_type": "Text", "owner": "u1", "name": "note.txt"}

	b, err := d.Export(ExportSnapshot, meta)
	if err != nil {
		t.Fatal(err)
	}

	loaded := New("")
	gotMeta, err := loaded.Import(b)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.GetText() != "hello world" {
		t.Fatalf("GetText() after import = %q", loaded.GetText())
	}
	if gotMeta["owner"] != "u1" || gotMeta["name"] != "note.txt" {
		t.Fatalf("meta round-trip mismatch: %+v", gotMeta)
	}
}

func TestExportImportEmptySnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	d := New("r1")
	meta := map[string]string{"doc_type": "folder", "owner": "u1", "name": "root"}

	b, err := d.Export(ExportSnapshot, meta)
	if err != nil {
		t.Fatal(err)
	}

	loaded := New("")
	gotMeta, err := loaded.Import(b)
	if err != nil {
		t.Fatalf("Import of an empty snapshot must not be mistaken for an updates payload: %v", err)
	}
	if loaded.GetText() != "" {
		t.Fatalf("GetText() after import of empty doc = %q, want empty", loaded.GetText())
	}
	if gotMeta["name"] != "root" {
		t.Fatalf("meta round-trip mismatch: %+v", gotMeta)
	}
}

func TestConcurrentInsertsConverge(t *testing.T) {
	t.Parallel()
	// Two replicas both insert after the same origin (index 0); regardless
	// of apply order, both documents must converge to the same text.
	a := New("alpha")
	b := New("beta")
	must := func(err error) { t.Helper(); if err != nil { t.Fatal(err) } }

	must(a.InsertString(0, "X"))
	opsA, err := a.Export(ExportUpdates, nil)
	must(err)

	must(b.InsertString(0, "Y"))
	opsB, err := b.Export(ExportUpdates, nil)
	must(err)

	if _, err := a.Import(opsB); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Import(opsA); err != nil {
		t.Fatal(err)
	}

	if a.GetText() != b.GetText() {
		t.Fatalf("replicas diverged: a=%q b=%q", a.GetText(), b.GetText())
	}
}

func TestForkAtDropsHistoryButKeepsState(t *testing.T) {
	t.Parallel()
	d := New("r1")
	if err := d.InsertString(0, "a"); err != nil {
		t.Fatal(err)
	}
	if err := d.InsertString(1, "b"); err != nil {
		t.Fatal(err)
	}
	mid := len(d.oplog)
	if err := d.InsertString(2, "c"); err != nil {
		t.Fatal(err)
	}

	fork, err := d.ForkAt(mid)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := fork.GetText(), "ab"; got != want {
		t.Fatalf("ForkAt GetText() = %q, want %q", got, want)
	}
	if len(fork.oplog) != mid {
		t.Fatalf("ForkAt kept %d ops, want %d", len(fork.oplog), mid)
	}
}

func TestOplogFrontiers(t *testing.T) {
	t.Parallel()
	d := New("r1")
	if err := d.InsertString(0, "a"); err != nil {
		t.Fatal(err)
	}
	if err := d.InsertString(1, "b"); err != nil {
		t.Fatal(err)
	}
	f := d.OplogFrontiers()
	if f["r1"] != 2 {
		t.Fatalf("OplogFrontiers()[r1] = %d, want 2", f["r1"])
	}
}

func TestInsertOutOfRange(t *testing.T) {
	t.Parallel()
	d := New("r1")
	if err := d.InsertString(5, "x"); err == nil {
		t.Fatal("expected out-of-range error")
	}
}
