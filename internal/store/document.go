// Package store implements the document store (spec §4.3): the sole
// in-memory and on-disk mutator of CRDT documents, their hierarchy, ACLs,
// and agent-scoped delegation. Its persistence shape is grounded on the
// teacher's internal/db/store.go "open, scan existing state, rebuild
// in-memory index" idiom, generalized from a single sqlite file to a
// directory of per-document CRDT snapshots per spec §6.
package store

import (
	"github.com/google/uuid"

	"github.com/jra3/contexthub/internal/crdt"
	"github.com/jra3/contexthub/internal/errs"
)

// ID is a document's 128-bit identifier (spec §3), also used as the
// filename stem of its on-disk serialization.
type ID = uuid.UUID

// NewID allocates a fresh random document id.
func NewID() ID { return uuid.New() }

// ParseID parses the canonical string form of an ID.
func ParseID(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ID{}, errs.Wrap("store.parse_id", errs.Serialization, err)
	}
	return id, nil
}

// DocType distinguishes the three document kinds (spec §3).
type DocType string

const (
	TypeFolder     DocType = "folder"
	TypeIndexGuide DocType = "index_guide"
	TypeText       DocType = "text"
)

// AccessLevel orders Read below Write so a Write grant also satisfies a
// Read check (spec §4.3's has_permission "sufficient level").
type AccessLevel int

const (
	Read AccessLevel = iota
	Write
)

func (a AccessLevel) satisfies(required AccessLevel) bool { return a >= required }

// AclEntry attaches a principal's access level to a document (spec §3).
type AclEntry struct {
	Principal string
	Access    AccessLevel
}

// ChildRef is a folder's view of one child: enough to resolve type
// without loading the child document (spec §4.3: "children map
// child_id -> {name, type}").
type ChildRef struct {
	Name string
	Type DocType
}

// Pointer is an indirection inside a Text document's content list,
// resolved externally at access time by pointer_type (spec §3).
type Pointer struct {
	PointerType string
	Target      string
	Name        string
	PreviewText string
}

// Document is the store's unit of persistence: one CRDT-backed value plus
// the hierarchy/ACL metadata layered on top of it (spec §3).
type Document struct {
	ID             ID
	Name           string
	Owner          string
	ParentFolderID *ID
	Type           DocType
	ACL            []AclEntry
	Children       map[ID]ChildRef // non-nil only for Type == TypeFolder

	content *crdt.Doc
}

// newDocument allocates a fresh document with its own CRDT content,
// replica-keyed by the document's own id so every document's oplog ids
// are independent of any other document's.
func newDocument(id ID, name, owner string, parent *ID, typ DocType) *Document {
	d := &Document{
		ID:             id,
		Name:           name,
		Owner:          owner,
		ParentFolderID: parent,
		Type:           typ,
		content:        crdt.New(id.String()),
	}
	if typ == TypeFolder {
		d.Children = make(map[ID]ChildRef)
	}
	return d
}

// SetText replaces a Text/IndexGuide document's content wholesale (spec
// §4.3's update(id, text)).
func (d *Document) SetText(text string) {
	d.content.SetText(text)
}

// Text reconstructs the document's flattened content, emitting "[pointer]"
// for container entries (spec §4.3's pointer semantics).
func (d *Document) Text() string {
	return d.content.GetText()
}

// InsertPointer inserts a Pointer container at visible index idx.
func (d *Document) InsertPointer(idx int, p Pointer) error {
	payload, err := encodePointer(p)
	if err != nil {
		return err
	}
	return d.content.InsertContainer(idx, payload)
}

// Pointers returns every Pointer referenced from this document's content
// list, in order (spec §4.3's collect_blob_references groundwork).
func (d *Document) Pointers() ([]Pointer, error) {
	var out []Pointer
	for _, item := range d.content.Items() {
		if !item.Container {
			continue
		}
		p, err := decodePointer(item.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ApplyUpdates imports remote CRDT ops (spec §4.3's apply_updates).
func (d *Document) ApplyUpdates(updates []byte) error {
	_, err := d.content.Import(updates)
	return err
}

// ExportUpdates serializes the content's oplog for WAL replay (the same
// bytes ApplyUpdates/Import accepts).
func (d *Document) ExportUpdates() ([]byte, error) {
	return d.content.Export(crdt.ExportUpdates, nil)
}

// CompactHistory drops change history beyond the document's current
// visible state by re-importing its own latest snapshot (spec §4.3's
// compact_history, §3's lifecycle "Compact").
func (d *Document) CompactHistory() error {
	snap, err := d.content.Export(crdt.ExportSnapshot, encodeMeta(d))
	if err != nil {
		return err
	}
	fresh := crdt.New(d.ID.String())
	if _, err := fresh.Import(snap); err != nil {
		return err
	}
	d.content = fresh
	return nil
}

// hasACL reports whether principal holds at least `required` access via
// this document's own ACL list (not inherited).
func (d *Document) hasACL(principal string, required AccessLevel) bool {
	for _, e := range d.ACL {
		if e.Principal == principal && e.Access.satisfies(required) {
			return true
		}
	}
	return false
}
