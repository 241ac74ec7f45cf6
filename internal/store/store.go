package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jra3/contexthub/internal/blob"
	"github.com/jra3/contexthub/internal/errs"
	"github.com/jra3/contexthub/internal/logging"
	"github.com/jra3/contexthub/internal/wal"
)

const agentScopesFile = "agent_scopes.json"

// agentScopeSet is user -> agent -> set of folder ids the agent may act
// within (spec §3's AgentScope; an empty set denies all, a missing entry
// is unrestricted).
type agentScopeSet map[string]map[string]map[ID]bool

// Store is the sole mutator of in-memory documents and their on-disk
// per-id serializations (spec §4.3). Persistence and the
// scan-on-open/rebuild-index shape follow the teacher's
// internal/db/store.go Open idiom, generalized from one sqlite file to a
// directory of CRDT snapshots.
type Store struct {
	mu sync.RWMutex

	dataDir   string
	documents map[ID]*Document
	rootMap   map[string]ID // owner -> root folder id
	scopes    agentScopeSet
	resolvers *blob.Registry
	wal       *wal.WAL
	dirty     bool

	log zerolog.Logger
}

// SetWAL attaches the write-ahead log every mutating method appends a
// record to after the mutation has been persisted (spec §2's data flow);
// see appendWAL for how append failures are handled. Nil is valid and turns
// appending into a no-op, so tests and tools that don't need replay can
// open a store without one.
func (s *Store) SetWAL(w *wal.WAL) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wal = w
}

// appendWAL records one mutation. Append failures are logged, not
// propagated: the in-memory and on-disk document state is already the
// source of truth (spec §4.3), and the WAL exists for replay/audit, not
// as a two-phase commit gate.
func (s *Store) appendWAL(e wal.Entry) {
	if s.wal == nil {
		return
	}
	if _, err := s.wal.Append(e); err != nil {
		s.log.Warn().Err(err).Uint8("op", uint8(e.Op)).Msg("wal append failed")
	}
}

// New opens (or initializes) the store rooted at dataDir: it creates the
// directory if absent, loads every existing "<id>.bin" via the CRDT's
// import, rebuilds the root map, and loads agent_scopes.json if present
// (spec §4.3 "Persistence").
func New(dataDir string, resolvers *blob.Registry) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errs.Wrap("store.new", errs.IO, err)
	}
	s := &Store{
		dataDir:   dataDir,
		documents: make(map[ID]*Document),
		rootMap:   make(map[string]ID),
		scopes:    make(agentScopeSet),
		resolvers: resolvers,
		log:       logging.WithComponent("store"),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload scans dataDir and rebuilds all in-memory state from disk. Called
// on construction and by the snapshot manager after a restore (spec
// §4.4's restore: "call store.reload() and clear_dirty").
func (s *Store) reload() error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return errs.Wrap("store.reload", errs.IO, err)
	}

	documents := make(map[ID]*Document)
	rootMap := make(map[string]ID)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".bin" {
			continue
		}
		stem := strings.TrimSuffix(name, ".bin")
		id, err := ParseID(stem)
		if err != nil {
			continue // not a document file; ignore per spec's "file-stem parses as an id"
		}
		data, err := os.ReadFile(filepath.Join(s.dataDir, name))
		if err != nil {
			return errs.Wrap("store.reload", errs.IO, err)
		}
		doc, err := unmarshalDocument(id, data)
		if err != nil {
			return err
		}
		documents[id] = doc
		if doc.Type == TypeFolder && doc.ParentFolderID == nil {
			rootMap[doc.Owner] = id
		}
	}

	// The children map is not persisted inside a folder's own CRDT state;
	// it is reconstructed from every other document's parent_folder_id,
	// which is the other half of invariant 2's bidirectional link.
	for id, doc := range documents {
		if doc.ParentFolderID == nil {
			continue
		}
		parent, ok := documents[*doc.ParentFolderID]
		if !ok || parent.Children == nil {
			continue
		}
		parent.Children[id] = ChildRef{Name: doc.Name, Type: doc.Type}
	}

	scopes := make(agentScopeSet)
	scopesPath := filepath.Join(s.dataDir, agentScopesFile)
	if raw, err := os.ReadFile(scopesPath); err == nil {
		var wire map[string]map[string][]string
		if err := json.Unmarshal(raw, &wire); err != nil {
			return errs.Wrap("store.reload", errs.Serialization, err)
		}
		for user, agents := range wire {
			scopes[user] = make(map[string]map[ID]bool)
			for agent, ids := range agents {
				set := make(map[ID]bool, len(ids))
				for _, idStr := range ids {
					id, err := ParseID(idStr)
					if err != nil {
						return errs.Wrap("store.reload", errs.Serialization, err)
					}
					set[id] = true
				}
				scopes[user][agent] = set
			}
		}
	} else if !os.IsNotExist(err) {
		return errs.Wrap("store.reload", errs.IO, err)
	}

	s.documents = documents
	s.rootMap = rootMap
	s.scopes = scopes
	s.dirty = false
	return nil
}

// Reload is the exported form snapshot.Restore calls after materializing
// a restored tree onto disk.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload()
}

// Lock/Unlock/RLock/RUnlock expose the store's exclusive-writer /
// shared-reader lock directly (spec §5) so the compress service can hold
// it across its entire multi-step procedure.
func (s *Store) Lock()    { s.mu.Lock() }
func (s *Store) Unlock()  { s.mu.Unlock() }
func (s *Store) RLock()   { s.mu.RLock() }
func (s *Store) RUnlock() { s.mu.RUnlock() }

// DataDir returns the store's data directory.
func (s *Store) DataDir() string { return s.dataDir }

// Dirty reports whether any mutation has occurred since the last
// ClearDirty call.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// ClearDirty resets the dirty flag (spec §4.5 step 10).
func (s *Store) ClearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

// ClearDirtyLocked is ClearDirty for a caller that already holds the
// store's lock (the compress service, spec §4.5 step 10).
func (s *Store) ClearDirtyLocked() {
	s.dirty = false
}

func (s *Store) markDirty() { s.dirty = true }

func (s *Store) path(id ID) string {
	return filepath.Join(s.dataDir, id.String()+".bin")
}

// persistLocked writes doc's current state to disk. Caller holds s.mu.
func (s *Store) persistLocked(doc *Document) error {
	data, err := marshalDocument(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path(doc.ID), data, 0o644); err != nil {
		return errs.Wrap("store.persist", errs.IO, err)
	}
	return nil
}

// EnsureRoot returns user's existing root folder, or creates one (plus
// its auto-IndexGuide) and records the mapping (spec §4.3, invariant 6).
func (s *Store) EnsureRoot(user string) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.rootMap[user]; ok {
		return id, nil
	}
	id, err := s.createLocked("root", user, nil, TypeFolder)
	if err != nil {
		return ID{}, err
	}
	if err := s.createIndexGuideLocked(id, "root", user); err != nil {
		return ID{}, err
	}
	s.rootMap[user] = id
	return id, nil
}

// Create allocates a new document, persists it, and bi-links it to its
// parent if any (spec §4.3's create).
func (s *Store) Create(name, owner string, parent *ID, typ DocType) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(name, owner, parent, typ)
}

func (s *Store) createLocked(name, owner string, parent *ID, typ DocType) (ID, error) {
	if parent != nil {
		parentDoc, ok := s.documents[*parent]
		if !ok {
			return ID{}, errs.Msg("store.create", errs.NotFound, "parent %s not found", parent)
		}
		if parentDoc.Type != TypeFolder {
			return ID{}, errs.Msg("store.create", errs.InvariantViolated, "parent %s is not a folder", parent)
		}
	}

	id := NewID()
	doc := newDocument(id, name, owner, parent, typ)
	s.documents[id] = doc

	if parent != nil {
		parentDoc := s.documents[*parent]
		parentDoc.Children[id] = ChildRef{Name: name, Type: typ}
		if err := s.persistLocked(parentDoc); err != nil {
			return ID{}, err
		}
	} else if typ == TypeFolder {
		s.rootMap[owner] = id
	}

	if err := s.persistLocked(doc); err != nil {
		return ID{}, err
	}
	s.markDirty()
	s.appendWAL(wal.Entry{
		UserID: owner,
		DocID:  wal.DocID(id),
		Op:     wal.OpCreate,
		Create: &wal.CreateBody{Name: name, DocType: string(typ)},
	})
	return id, nil
}

// CreateFolder creates a folder under parent plus its auto-IndexGuide
// named "_index.guide" with content "# <name>" (spec §4.3's create_folder).
func (s *Store) CreateFolder(parent ID, name, owner string) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.createLocked(name, owner, &parent, TypeFolder)
	if err != nil {
		return ID{}, err
	}
	if err := s.createIndexGuideLocked(id, name, owner); err != nil {
		return ID{}, err
	}
	return id, nil
}

func (s *Store) createIndexGuideLocked(folder ID, folderName, owner string) error {
	guideID, err := s.createLocked("_index.guide", owner, &folder, TypeIndexGuide)
	if err != nil {
		return err
	}
	guide := s.documents[guideID]
	guide.SetText("# " + folderName)
	return s.persistLocked(guide)
}

// Get is a pure lookup with no permission check (spec §4.3).
func (s *Store) Get(id ID) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	return d, ok
}

// HasPermission walks from id toward root following parent_folder_id,
// allowing on owner match or sufficient ACL match, and independently
// gates on the agent's scope if one is given (spec §4.3).
func (s *Store) HasPermission(id ID, user, agent string, level AccessLevel) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if agent != "" && !s.agentAllowsLocked(user, agent, id) {
		return false
	}

	cur, ok := s.documents[id]
	for ok {
		if cur.Owner == user {
			return true
		}
		if cur.hasACL(user, level) {
			return true
		}
		if cur.ParentFolderID == nil {
			break
		}
		cur, ok = s.documents[*cur.ParentFolderID]
	}
	return false
}

// agentAllowsLocked reports whether agent (acting for user) may touch id:
// an empty explicit scope denies all; a missing scope entry is
// unrestricted (spec §3's AgentScope, §4.3's agent gating).
func (s *Store) agentAllowsLocked(user, agent string, id ID) bool {
	agents, ok := s.scopes[user]
	if !ok {
		return true
	}
	scope, ok := agents[agent]
	if !ok {
		return true
	}
	cur, ok := s.documents[id]
	for ok {
		if scope[cur.ID] {
			return true
		}
		if cur.ParentFolderID == nil {
			break
		}
		cur, ok = s.documents[*cur.ParentFolderID]
	}
	return false
}

// Rename updates the document and its parent's children map entry.
func (s *Store) Rename(id ID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return errs.Msg("store.rename", errs.NotFound, "document %s not found", id)
	}
	doc.Name = name
	if doc.ParentFolderID != nil {
		parent := s.documents[*doc.ParentFolderID]
		ref := parent.Children[id]
		ref.Name = name
		parent.Children[id] = ref
		if err := s.persistLocked(parent); err != nil {
			return err
		}
	}
	if err := s.persistLocked(doc); err != nil {
		return err
	}
	s.markDirty()
	s.appendWAL(wal.Entry{
		UserID: doc.Owner,
		DocID:  wal.DocID(id),
		Op:     wal.OpMove,
		Move:   &wal.MoveBody{},
	})
	return nil
}

// descendantsLocked returns every id reachable from folder via Children,
// used to reject moving a folder into one of its own descendants.
func (s *Store) descendantsLocked(folder ID) map[ID]bool {
	out := make(map[ID]bool)
	var walk func(ID)
	walk = func(id ID) {
		doc, ok := s.documents[id]
		if !ok || doc.Children == nil {
			return
		}
		for child := range doc.Children {
			if !out[child] {
				out[child] = true
				walk(child)
			}
		}
	}
	walk(folder)
	return out
}

// MoveItem relinks id under newParent after checking the invariants in
// spec §4.3: newParent is a folder, id is not a root, id is not an
// IndexGuide, and (if id is a folder) newParent is not its descendant.
func (s *Store) MoveItem(id, newParent ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return errs.Msg("store.move_item", errs.NotFound, "document %s not found", id)
	}
	target, ok := s.documents[newParent]
	if !ok {
		return errs.Msg("store.move_item", errs.NotFound, "parent %s not found", newParent)
	}
	if target.Type != TypeFolder {
		return errs.Msg("store.move_item", errs.InvariantViolated, "new parent %s is not a folder", newParent)
	}
	if doc.ParentFolderID == nil {
		return errs.Msg("store.move_item", errs.InvariantViolated, "cannot move a root")
	}
	if doc.Type == TypeIndexGuide {
		return errs.Msg("store.move_item", errs.InvariantViolated, "cannot move an index guide independently")
	}
	if doc.Type == TypeFolder && s.descendantsLocked(id)[newParent] {
		return errs.Msg("store.move_item", errs.InvariantViolated, "cannot move a folder into its own descendant")
	}

	oldParent := s.documents[*doc.ParentFolderID]
	delete(oldParent.Children, id)
	target.Children[id] = ChildRef{Name: doc.Name, Type: doc.Type}
	doc.ParentFolderID = &newParent

	for _, d := range []*Document{oldParent, target, doc} {
		if err := s.persistLocked(d); err != nil {
			return err
		}
	}
	s.markDirty()
	newParentDocID := wal.DocID(newParent)
	s.appendWAL(wal.Entry{
		UserID: doc.Owner,
		DocID:  wal.DocID(id),
		Op:     wal.OpMove,
		Move:   &wal.MoveBody{NewParent: &newParentDocID},
	})
	return nil
}

// Update replaces content via the CRDT's set_text and persists (spec
// §4.3's update(id, text)).
func (s *Store) Update(id ID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return errs.Msg("store.update", errs.NotFound, "document %s not found", id)
	}
	doc.SetText(text)
	if err := s.persistLocked(doc); err != nil {
		return err
	}
	s.markDirty()
	if ops, expErr := doc.ExportUpdates(); expErr == nil {
		s.appendWAL(wal.Entry{
			UserID: doc.Owner,
			DocID:  wal.DocID(id),
			Op:     wal.OpUpdate,
			Update: &wal.UpdateBody{CRDTOps: ops},
		})
	} else {
		s.log.Warn().Err(expErr).Msg("failed to export crdt ops for wal record")
	}
	return nil
}

// ApplyUpdates imports remote CRDT updates into a document and persists
// (spec §4.3's apply_updates).
func (s *Store) ApplyUpdates(id ID, updates []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return errs.Msg("store.apply_updates", errs.NotFound, "document %s not found", id)
	}
	if err := doc.ApplyUpdates(updates); err != nil {
		return err
	}
	if err := s.persistLocked(doc); err != nil {
		return err
	}
	s.markDirty()
	s.appendWAL(wal.Entry{
		UserID: doc.Owner,
		DocID:  wal.DocID(id),
		Op:     wal.OpUpdate,
		Update: &wal.UpdateBody{CRDTOps: updates},
	})
	return nil
}

// Delete removes a document (and, for folders, everything beneath it).
// A top-level delete of an IndexGuide is rejected; IndexGuides are only
// removed as part of their parent folder's deletion (spec §4.3).
func (s *Store) Delete(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return errs.Msg("store.delete", errs.NotFound, "document %s not found", id)
	}
	if doc.Type == TypeIndexGuide {
		return errs.Msg("store.delete", errs.InvariantViolated, "index guides can only be deleted with their folder")
	}
	if err := s.deleteLocked(id, false); err != nil {
		return err
	}
	if doc.ParentFolderID != nil {
		if parent, ok := s.documents[*doc.ParentFolderID]; ok {
			delete(parent.Children, id)
			if err := s.persistLocked(parent); err != nil {
				return err
			}
		}
	} else {
		delete(s.rootMap, doc.Owner)
	}
	s.markDirty()
	return nil
}

// deleteLocked removes id (recursing into folder children) and its file.
// allowIndex permits deleting an IndexGuide when it's being removed as
// part of its owning folder's recursive delete.
func (s *Store) deleteLocked(id ID, allowIndex bool) error {
	doc, ok := s.documents[id]
	if !ok {
		return errs.Msg("store.delete", errs.NotFound, "document %s not found", id)
	}
	if doc.Type == TypeIndexGuide && !allowIndex {
		return errs.Msg("store.delete", errs.InvariantViolated, "index guides can only be deleted with their folder")
	}
	if doc.Type == TypeFolder {
		for child := range doc.Children {
			if err := s.deleteLocked(child, true); err != nil {
				return err
			}
		}
	}
	delete(s.documents, id)
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap("store.delete", errs.IO, err)
	}
	s.appendWAL(wal.Entry{
		UserID: doc.Owner,
		DocID:  wal.DocID(id),
		Op:     wal.OpDelete,
		Delete: true,
	})
	return nil
}

// AddACL appends an ACL entry and persists. Duplicate entries are
// harmless: has_permission only needs one matching entry (spec §8).
func (s *Store) AddACL(id ID, principal string, access AccessLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return errs.Msg("store.add_acl", errs.NotFound, "document %s not found", id)
	}
	doc.ACL = append(doc.ACL, AclEntry{Principal: principal, Access: access})
	if err := s.persistLocked(doc); err != nil {
		return err
	}
	s.markDirty()
	s.appendACLWAL(doc)
	return nil
}

// RemoveACL removes every ACL entry matching principal and persists.
func (s *Store) RemoveACL(id ID, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return errs.Msg("store.remove_acl", errs.NotFound, "document %s not found", id)
	}
	kept := doc.ACL[:0]
	for _, e := range doc.ACL {
		if e.Principal != principal {
			kept = append(kept, e)
		}
	}
	doc.ACL = kept
	if err := s.persistLocked(doc); err != nil {
		return err
	}
	s.markDirty()
	s.appendACLWAL(doc)
	return nil
}

// appendACLWAL records the document's ACL list, whole, as the opaque
// UpdateACLBody payload (spec §4.1: "the WAL treats it as opaque bytes").
func (s *Store) appendACLWAL(doc *Document) {
	if s.wal == nil {
		return
	}
	acl, err := json.Marshal(doc.ACL)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to encode acl for wal record")
		return
	}
	s.appendWAL(wal.Entry{
		UserID:    doc.Owner,
		DocID:     wal.DocID(doc.ID),
		Op:        wal.OpUpdateACL,
		UpdateACL: &wal.UpdateACLBody{ACL: acl},
	})
}

// SetAgentScope restricts agent (acting for user) to folders, atomically
// rewriting agent_scopes.json (spec §4.3, §5's write-temp-then-rename).
func (s *Store) SetAgentScope(user, agent string, folders []ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scopes[user] == nil {
		s.scopes[user] = make(map[string]map[ID]bool)
	}
	set := make(map[ID]bool, len(folders))
	for _, id := range folders {
		set[id] = true
	}
	s.scopes[user][agent] = set
	return s.persistScopesLocked()
}

// ClearAgentScope removes the (user, agent) entry entirely, reverting to
// unrestricted (user-delegated) access.
func (s *Store) ClearAgentScope(user, agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agents, ok := s.scopes[user]; ok {
		delete(agents, agent)
		if len(agents) == 0 {
			delete(s.scopes, user)
		}
	}
	return s.persistScopesLocked()
}

func (s *Store) persistScopesLocked() error {
	wire := make(map[string]map[string][]string, len(s.scopes))
	for user, agents := range s.scopes {
		wire[user] = make(map[string][]string, len(agents))
		for agent, set := range agents {
			ids := make([]string, 0, len(set))
			for id := range set {
				ids = append(ids, id.String())
			}
			sort.Strings(ids)
			wire[user][agent] = ids
		}
	}
	data, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return errs.Wrap("store.persist_scopes", errs.Serialization, err)
	}
	path := filepath.Join(s.dataDir, agentScopesFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap("store.persist_scopes", errs.IO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap("store.persist_scopes", errs.IO, err)
	}
	return nil
}

// IndexGuideEntry is one ancestor folder's guide, paired with its path
// from the root (spec §4.3's collect_index_guides).
type IndexGuideEntry struct {
	Path []string
	Text string
}

// CollectIndexGuides walks from id's enclosing folder to the root, then
// reverses, emitting each ancestor folder's IndexGuide text (spec §4.3).
func (s *Store) CollectIndexGuides(id ID) ([]IndexGuideEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, errs.Msg("store.collect_index_guides", errs.NotFound, "document %s not found", id)
	}

	var folders []*Document
	cur := doc
	if cur.Type != TypeFolder {
		if cur.ParentFolderID == nil {
			return nil, nil
		}
		cur = s.documents[*cur.ParentFolderID]
	}
	for cur != nil {
		folders = append(folders, cur)
		if cur.ParentFolderID == nil {
			break
		}
		cur = s.documents[*cur.ParentFolderID]
	}
	// folders is root-to-leaf reversed (leaf-to-root); reverse it.
	for i, j := 0, len(folders)-1; i < j; i, j = i+1, j-1 {
		folders[i], folders[j] = folders[j], folders[i]
	}

	var out []IndexGuideEntry
	var path []string
	for _, folder := range folders {
		path = append(path, folder.Name)
		for childID, ref := range folder.Children {
			if ref.Type != TypeIndexGuide {
				continue
			}
			guide, ok := s.documents[childID]
			if !ok {
				continue
			}
			entry := IndexGuideEntry{Path: append([]string(nil), path...), Text: guide.Text()}
			out = append(out, entry)
		}
	}
	return out, nil
}

// CollectBlobReferences scans every Text and IndexGuide document's content for "blob"
// pointers and unions their targets (spec §4.3).
func (s *Store) CollectBlobReferences() (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CollectBlobReferencesLocked()
}

// CollectBlobReferencesLocked is CollectBlobReferences for a caller that
// already holds the store's lock (the compress service, spec §4.5 step 5).
func (s *Store) CollectBlobReferencesLocked() (map[string]bool, error) {
	refs := make(map[string]bool)
	for _, doc := range s.documents {
		if doc.Type != TypeText && doc.Type != TypeIndexGuide {
			continue
		}
		pointers, err := doc.Pointers()
		if err != nil {
			return nil, err
		}
		for _, p := range pointers {
			if p.PointerType == "blob" {
				refs[p.Target] = true
			}
		}
	}
	return refs, nil
}

// GarbageCollectDocuments removes any "<id>.bin" on disk whose id is not
// in the in-memory set (spec §4.3's file-level orphan cleanup).
func (s *Store) GarbageCollectDocuments() (removed int, bytesFreed int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.GarbageCollectDocumentsLocked()
}

// GarbageCollectDocumentsLocked is GarbageCollectDocuments for a caller
// that already holds the store's lock (the compress service, spec §4.5
// step 2).
func (s *Store) GarbageCollectDocumentsLocked() (removed int, bytesFreed int64, err error) {
	entries, readErr := os.ReadDir(s.dataDir)
	if readErr != nil {
		return 0, 0, errs.Wrap("store.garbage_collect_documents", errs.IO, readErr)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".bin" {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".bin")
		id, parseErr := ParseID(stem)
		if parseErr != nil {
			continue
		}
		if _, ok := s.documents[id]; ok {
			continue
		}
		info, infoErr := e.Info()
		if infoErr != nil {
			return removed, bytesFreed, errs.Wrap("store.garbage_collect_documents", errs.IO, infoErr)
		}
		if rmErr := os.Remove(filepath.Join(s.dataDir, e.Name())); rmErr != nil {
			return removed, bytesFreed, errs.Wrap("store.garbage_collect_documents", errs.IO, rmErr)
		}
		removed++
		bytesFreed += info.Size()
	}
	return removed, bytesFreed, nil
}

// CompactHistory rebuilds every document from a snapshot of its current
// in-memory state, dropping CRDT change history, and persists the result
// (spec §4.3, §3's lifecycle "Compact").
func (s *Store) CompactHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CompactHistoryLocked()
}

// CompactHistoryLocked is CompactHistory for a caller that already holds
// the store's lock (the compress service, spec §4.5 step 7).
func (s *Store) CompactHistoryLocked() error {
	for _, doc := range s.documents {
		if err := doc.CompactHistory(); err != nil {
			return err
		}
		if err := s.persistLocked(doc); err != nil {
			return err
		}
	}
	return nil
}

// ActiveDocumentIDs returns the set of currently in-memory document ids,
// fed to wal.Compact (spec §4.5 step 3) and the index's cleanup_deleted
// (step 6).
func (s *Store) ActiveDocumentIDs() map[ID]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ActiveDocumentIDsLocked()
}

// ActiveDocumentIDsLocked is ActiveDocumentIDs for a caller that already
// holds the store's lock (the compress service, spec §4.5 step 3).
func (s *Store) ActiveDocumentIDsLocked() map[ID]bool {
	out := make(map[ID]bool, len(s.documents))
	for id := range s.documents {
		out[id] = true
	}
	return out
}

// TotalSize sums the on-disk size of every regular file directly inside
// the data directory, used by the compress service's before/after
// measurement (spec §4.5 step 1).
func (s *Store) TotalSize() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TotalSizeLocked()
}

// TotalSizeLocked is TotalSize for a caller that already holds the
// store's lock (the compress service, spec §4.5 step 1).
func (s *Store) TotalSizeLocked() (int64, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return 0, errs.Wrap("store.total_size", errs.IO, err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, errs.Wrap("store.total_size", errs.IO, err)
		}
		total += info.Size()
	}
	return total, nil
}
