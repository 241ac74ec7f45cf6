// Package crdt implements the replicated content type backing every Text
// document's content list (spec §3, §9). Concurrent edits must merge
// deterministically without coordination; this package is a replicated
// growable array (RGA): every element carries a globally unique,
// causally-ordered id, deletions tombstone rather than remove, and
// convergence falls out of total-ordering inserts by id instead of by
// position.
//
// No third-party CRDT library appears anywhere in the retrieved example
// pack (the original implementation's Rust counterpart uses the `loro`
// crate, which has no Go port in the corpus) — see DESIGN.md for the
// explicit "no suitable library" justification this package exists under.
package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jra3/contexthub/internal/errs"
)

// ID identifies one RGA element: the replica that created it and a
// per-replica monotonic counter. IDs totally order by (counter, replica)
// so concurrent inserts at the same position commute deterministically.
type ID struct {
	Replica string `json:"r"`
	Counter uint64 `json:"c"`
}

func (a ID) less(b ID) bool {
	if a.Counter != b.Counter {
		return a.Counter < b.Counter
	}
	return a.Replica < b.Replica
}

func (a ID) zero() bool { return a.Replica == "" && a.Counter == 0 }

// ValueKind distinguishes a plain string chunk from a nested pointer
// container, per spec §3's "heterogeneous ordered sequence".
type ValueKind int

const (
	KindString ValueKind = iota
	KindContainer
)

// element is one tombstonable slot in the RGA.
type element struct {
	ID      ID        `json:"id"`
	Origin  ID        `json:"origin"` // predecessor this was inserted after; zero = head
	Kind    ValueKind `json:"kind"`
	Text    string    `json:"text,omitempty"`
	Payload []byte    `json:"payload,omitempty"` // opaque container bytes (e.g. an encoded Pointer)
	Deleted bool      `json:"deleted"`
}

// Op is one mutation in the RGA's oplog, exported/imported for remote
// replication (spec §3's "import(bytes)").
type Op struct {
	element
}

// Doc is a single document's replicated content list.
type Doc struct {
	mu       sync.RWMutex
	replica  string
	counter  uint64
	elements []element // kept in a stable total order (see reorder)
	byID     map[ID]int
	oplog    []Op
}

// New creates an empty document CRDT owned by the given replica id.
func New(replicaID string) *Doc {
	return &Doc{
		replica: replicaID,
		byID:    make(map[ID]int),
	}
}

func (d *Doc) nextID() ID {
	d.counter++
	return ID{Replica: d.replica, Counter: d.counter}
}

// reorder rebuilds d.elements in RGA total order: a pre-order walk that,
// for each origin, places its children sorted by ID descending (the
// standard RGA tie-break so concurrent inserts-after-X converge).
func (d *Doc) reorder() {
	children := make(map[ID][]int) // origin -> indices into a flat pool
	pool := d.elements
	for i, e := range pool {
		children[e.Origin] = append(children[e.Origin], i)
	}
	for k := range children {
		idxs := children[k]
		sort.Slice(idxs, func(a, b int) bool {
			return pool[idxs[a]].ID.less(pool[idxs[b]].ID) == false // descending
		})
		children[k] = idxs
	}

	var out []element
	var walk func(origin ID)
	walk = func(origin ID) {
		for _, idx := range children[origin] {
			e := pool[idx]
			out = append(out, e)
			walk(e.ID)
		}
	}
	walk(ID{})

	d.elements = out
	d.byID = make(map[ID]int, len(out))
	for i, e := range out {
		d.byID[e.ID] = i
	}
}

// originForVisibleIndex walks the current visible (non-deleted) ordering
// and returns the element ID immediately before the given visible index,
// or the zero ID if inserting at the head.
func (d *Doc) originForVisibleIndex(idx int) ID {
	seen := 0
	var last ID
	for _, e := range d.elements {
		if e.Deleted {
			continue
		}
		if seen == idx {
			return last
		}
		last = e.ID
		seen++
	}
	return last
}

func (d *Doc) applyOp(op Op) {
	if _, exists := d.byID[op.ID]; exists {
		// Idempotent re-application (e.g. replayed import): just make sure
		// tombstone state is monotonic (never un-delete).
		i := d.byID[op.ID]
		if op.Deleted {
			d.elements[i].Deleted = true
		}
		return
	}
	d.elements = append(d.elements, op.element)
	d.reorder()
	d.oplog = append(d.oplog, op)
}

// SetText replaces the entire visible string content with s, preserving
// any pointer containers is intentionally NOT attempted — set_text is a
// coarse whole-document replace per spec §4.3's `update(id, text)`.
func (d *Doc) SetText(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.elements {
		if d.elements[i].Deleted {
			continue
		}
		d.elements[i].Deleted = true
		// Record each tombstone as an op, as DeleteAt does, so
		// fork_at/export capture it.
		d.oplog = append(d.oplog, Op{d.elements[i]})
	}
	if s == "" {
		return
	}
	op := Op{element{ID: d.nextID(), Origin: ID{}, Kind: KindString, Text: s}}
	d.applyOp(op)
}

// GetText reconstructs the document's flattened text: string values are
// concatenated in order; container (pointer) values emit the literal
// marker "[pointer]" per spec §4.3, never coalesced with neighboring
// strings so per-position identity survives concurrent inserts.
func (d *Doc) GetText() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []byte
	for _, e := range d.elements {
		if e.Deleted {
			continue
		}
		switch e.Kind {
		case KindString:
			out = append(out, e.Text...)
		case KindContainer:
			out = append(out, "[pointer]"...)
		}
	}
	return string(out)
}

// Len returns the number of visible (non-tombstoned) elements.
func (d *Doc) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, e := range d.elements {
		if !e.Deleted {
			n++
		}
	}
	return n
}

// InsertString inserts a string chunk at visible index idx (0 == head).
func (d *Doc) InsertString(idx int, s string) error {
	return d.insert(idx, KindString, s, nil)
}

// InsertContainer inserts an opaque container value (a serialized
// Pointer, see the store package) at visible index idx.
func (d *Doc) InsertContainer(idx int, payload []byte) error {
	return d.insert(idx, KindContainer, "", payload)
}

func (d *Doc) insert(idx int, kind ValueKind, text string, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if idx < 0 || idx > d.visibleLenLocked() {
		return errs.Msg("crdt.insert", errs.InvariantViolated, "index %d out of range", idx)
	}
	origin := d.originForVisibleIndex(idx)
	op := Op{element{ID: d.nextID(), Origin: origin, Kind: kind, Text: text, Payload: payload}}
	d.applyOp(op)
	return nil
}

// DeleteAt tombstones the element currently at visible index idx.
func (d *Doc) DeleteAt(idx int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pos := -1
	seen := 0
	for i, e := range d.elements {
		if e.Deleted {
			continue
		}
		if seen == idx {
			pos = i
			break
		}
		seen++
	}
	if pos == -1 {
		return errs.Msg("crdt.delete_at", errs.InvariantViolated, "index %d out of range", idx)
	}
	id := d.elements[pos].ID
	d.elements[pos].Deleted = true
	// Record the tombstone itself as an op so fork_at/export capture it.
	tomb := d.elements[pos]
	tomb.ID = id
	d.oplog = append(d.oplog, Op{tomb})
	return nil
}

func (d *Doc) visibleLenLocked() int {
	n := 0
	for _, e := range d.elements {
		if !e.Deleted {
			n++
		}
	}
	return n
}

// Items returns the ordered visible sequence as (isContainer, text, payload)
// triples, used by the store to reconstruct a Text document's content list.
type Item struct {
	Container bool
	Text      string
	Payload   []byte
}

func (d *Doc) Items() []Item {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Item
	for _, e := range d.elements {
		if e.Deleted {
			continue
		}
		if e.Kind == KindContainer {
			out = append(out, Item{Container: true, Payload: e.Payload})
		} else {
			out = append(out, Item{Text: e.Text})
		}
	}
	return out
}

// snapshotFormat discriminates a snapshot envelope from a bare updates
// array on Import; an empty document's Elements marshals to the same
// "null" JSON an absent field would, so detection can't rely on field
// presence alone.
const snapshotFormat = "snapshot"

// snapshot is the exported byte format: meta map plus the full element
// set (including tombstones, so a re-import converges identically).
type snapshot struct {
	Format   string            `json:"format"`
	Replica  string            `json:"replica"`
	Counter  uint64            `json:"counter"`
	Elements []element         `json:"elements"`
	Meta     map[string]string `json:"meta"`
}

// ExportMode selects what Export serializes. Snapshot is the only mode
// used by persistence (spec §6); Updates carries the document's whole
// oplog as an ops array that Import merges, and is what the store appends
// to the WAL on update.
type ExportMode int

const (
	ExportSnapshot ExportMode = iota
	ExportUpdates
)

// Export serializes the document per mode. meta carries the store's
// doc_type/owner/name/parent_folder_id keys (spec §6) into the CRDT's
// "meta" map so a single byte sequence round-trips the whole document.
func (d *Doc) Export(mode ExportMode, meta map[string]string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch mode {
	case ExportSnapshot:
		elements := d.elements
		if elements == nil {
			elements = []element{}
		}
		snap := snapshot{Format: snapshotFormat, Replica: d.replica, Counter: d.counter, Elements: elements, Meta: meta}
		b, err := json.Marshal(snap)
		if err != nil {
			return nil, errs.Wrap("crdt.export", errs.Serialization, err)
		}
		return b, nil
	case ExportUpdates:
		b, err := json.Marshal(d.oplog)
		if err != nil {
			return nil, errs.Wrap("crdt.export", errs.Serialization, err)
		}
		return b, nil
	default:
		return nil, errs.Msg("crdt.export", errs.InvariantViolated, "unknown export mode %d", mode)
	}
}

// Import merges bytes produced by Export back into the document. A
// snapshot import replaces state outright (used when loading from disk);
// an updates import merges ops idempotently (used for remote replication,
// spec §4.3's apply_updates). Import auto-detects the format.
func (d *Doc) Import(data []byte) (map[string]string, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err == nil && snap.Format == snapshotFormat {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.replica = snap.Replica
		d.counter = snap.Counter
		d.elements = snap.Elements
		if d.elements == nil {
			d.elements = []element{}
		}
		d.reorder()
		return snap.Meta, nil
	}

	var ops []Op
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, errs.Wrap("crdt.import", errs.Serialization, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops {
		d.applyOp(op)
	}
	return nil, nil
}

// ForkAt returns a copy of the document containing only ops known as of
// version (an oplog length watermark), built by replaying that oplog
// prefix into a fresh document.
func (d *Doc) ForkAt(version int) (*Doc, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if version < 0 || version > len(d.oplog) {
		return nil, errs.Msg("crdt.fork_at", errs.InvariantViolated, "version %d out of range", version)
	}
	fork := New(d.replica)
	for _, op := range d.oplog[:version] {
		fork.applyOp(op)
	}
	return fork, nil
}

// OplogFrontiers returns the per-replica (replica -> highest counter seen)
// watermark, the CRDT's version vector.
func (d *Doc) OplogFrontiers() map[string]uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]uint64)
	for _, e := range d.elements {
		if e.ID.Counter > out[e.ID.Replica] {
			out[e.ID.Replica] = e.ID.Counter
		}
	}
	return out
}

func (id ID) String() string {
	return fmt.Sprintf("%s@%d", id.Replica, id.Counter)
}
