package store

import (
	"github.com/jra3/contexthub/internal/crdt"
	"github.com/jra3/contexthub/internal/errs"
)

// metaKeys are the fixed set of keys the store writes into the CRDT's
// "meta" map on every save (spec §6): doc_type, owner, name, and an
// optional parent_folder_id. The teacher's internal/marshal/frontmatter.go
// splits a file into a YAML meta block plus body; here the CRDT itself
// carries the meta map, so encode/decode is just marshaling that map to
// and from the fixed Document fields instead of parsing delimiters.
const (
	metaDocType  = "doc_type"
	metaOwner    = "owner"
	metaName     = "name"
	metaParentID = "parent_folder_id"
)

// encodeMeta builds the meta map saved alongside a document's CRDT state.
func encodeMeta(d *Document) map[string]string {
	meta := map[string]string{
		metaDocType: string(d.Type),
		metaOwner:   d.Owner,
		metaName:    d.Name,
	}
	if d.ParentFolderID != nil {
		meta[metaParentID] = d.ParentFolderID.String()
	}
	return meta
}

// decodeMeta populates a Document's fixed fields from the meta map
// produced by encodeMeta, as recovered from CRDT Import.
func decodeMeta(d *Document, meta map[string]string) error {
	docType, ok := meta[metaDocType]
	if !ok {
		return errs.Msg("store.codec.decode_meta", errs.Serialization, "missing %q in meta", metaDocType)
	}
	d.Type = DocType(docType)
	d.Owner = meta[metaOwner]
	d.Name = meta[metaName]
	if raw, ok := meta[metaParentID]; ok && raw != "" {
		id, err := ParseID(raw)
		if err != nil {
			return errs.Wrap("store.codec.decode_meta", errs.Serialization, err)
		}
		d.ParentFolderID = &id
	} else {
		d.ParentFolderID = nil
	}
	return nil
}

// marshalDocument exports a document's CRDT content together with its
// meta map into the single byte sequence persisted as "<id>.bin" (spec §6:
// "the store does not wrap it" — the CRDT's own export format is the file
// format).
func marshalDocument(d *Document) ([]byte, error) {
	return d.content.Export(crdt.ExportSnapshot, encodeMeta(d))
}

// unmarshalDocument rebuilds a Document's fixed fields and CRDT content
// from bytes previously produced by marshalDocument.
func unmarshalDocument(id ID, data []byte) (*Document, error) {
	content := crdt.New(id.String())
	meta, err := content.Import(data)
	if err != nil {
		return nil, err
	}
	d := &Document{ID: id, content: content}
	if err := decodeMeta(d, meta); err != nil {
		return nil, err
	}
	if d.Type == TypeFolder {
		d.Children = make(map[ID]ChildRef)
	}
	return d, nil
}

// DecodeDocument rebuilds a standalone Document from bytes previously
// produced by a document save (spec §6's file encoding), without
// attaching it to any Store. Used by the snapshot manager's
// load_document_at (spec §4.4), which reads a historical commit's blob
// directly.
func DecodeDocument(id ID, data []byte) (*Document, error) {
	return unmarshalDocument(id, data)
}
