package wal

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/jra3/contexthub/internal/errs"
)

// OpTag identifies the kind of mutation a record encodes (spec §4.1).
type OpTag uint8

const (
	OpCreate    OpTag = 1
	OpUpdate    OpTag = 2
	OpDelete    OpTag = 3
	OpUpdateACL OpTag = 4
	OpMove      OpTag = 5
)

// DocID is the 128-bit document identifier carried on every record.
type DocID [16]byte

// CreateBody is OpCreate's op-specific payload.
type CreateBody struct {
	Name           string
	DocType        string
	InitialContent []byte
}

// UpdateBody is OpUpdate's op-specific payload: an opaque blob of CRDT
// ops (the store hands this to crdt.Doc.Import).
type UpdateBody struct {
	CRDTOps []byte
}

// UpdateACLBody is OpUpdateACL's op-specific payload: a serialized ACL
// entry list (the store owns the exact encoding; the WAL treats it as
// opaque bytes).
type UpdateACLBody struct {
	ACL []byte
}

// MoveBody is OpMove's op-specific payload. NewParent is nil when the
// parent is unchanged (the store's Rename records a move this way).
type MoveBody struct {
	NewParent *DocID
}

// Entry is one fully-decoded WAL record.
type Entry struct {
	Sequence    uint64
	TimestampMs int64
	UserID      string
	DocID       DocID
	Op          OpTag

	Create    *CreateBody
	Update    *UpdateBody
	Delete    bool
	UpdateACL *UpdateACLBody
	Move      *MoveBody
}

func putLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// encodePayload encodes everything in payload := u64 sequence, u64
// timestamp_ms, u32 user_id_len, user_id_bytes, u128 doc_id, u8 op_tag,
// op-specific body (spec §4.1).
func encodePayload(e Entry) ([]byte, error) {
	var buf bytes.Buffer

	var u64buf [8]byte
	binary.BigEndian.PutUint64(u64buf[:], e.Sequence)
	buf.Write(u64buf[:])
	binary.BigEndian.PutUint64(u64buf[:], uint64(e.TimestampMs))
	buf.Write(u64buf[:])

	putLenPrefixed(&buf, []byte(e.UserID))
	buf.Write(e.DocID[:])
	buf.WriteByte(byte(e.Op))

	switch e.Op {
	case OpCreate:
		if e.Create == nil {
			return nil, errs.Msg("wal.encode", errs.InvariantViolated, "OpCreate requires Create body")
		}
		putLenPrefixed(&buf, []byte(e.Create.Name))
		putLenPrefixed(&buf, []byte(e.Create.DocType))
		putLenPrefixed(&buf, e.Create.InitialContent)
	case OpUpdate:
		if e.Update == nil {
			return nil, errs.Msg("wal.encode", errs.InvariantViolated, "OpUpdate requires Update body")
		}
		putLenPrefixed(&buf, e.Update.CRDTOps)
	case OpDelete:
		// no body
	case OpUpdateACL:
		if e.UpdateACL == nil {
			return nil, errs.Msg("wal.encode", errs.InvariantViolated, "OpUpdateACL requires UpdateACL body")
		}
		putLenPrefixed(&buf, e.UpdateACL.ACL)
	case OpMove:
		if e.Move != nil && e.Move.NewParent != nil {
			buf.WriteByte(1)
			buf.Write(e.Move.NewParent[:])
		} else {
			buf.WriteByte(0)
		}
	default:
		return nil, errs.Msg("wal.encode", errs.InvariantViolated, "unknown op tag %d", e.Op)
	}

	return buf.Bytes(), nil
}

// encodeRecord produces the full record := u32 length_including_crc,
// payload, u32 crc32(payload).
func encodeRecord(e Entry) ([]byte, error) {
	payload, err := encodePayload(e)
	if err != nil {
		return nil, err
	}
	crc := crc32.ChecksumIEEE(payload)

	var out bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)+4))
	out.Write(lenBuf[:])
	out.Write(payload)
	binary.BigEndian.PutUint32(lenBuf[:], crc)
	out.Write(lenBuf[:])
	return out.Bytes(), nil
}

// decodePayload parses payload (sequence..op-specific body) and fills e.
func decodePayload(payload []byte, e *Entry) error {
	r := bytes.NewReader(payload)

	var u64buf [8]byte
	if _, err := io.ReadFull(r, u64buf[:]); err != nil {
		return err
	}
	e.Sequence = binary.BigEndian.Uint64(u64buf[:])
	if _, err := io.ReadFull(r, u64buf[:]); err != nil {
		return err
	}
	e.TimestampMs = int64(binary.BigEndian.Uint64(u64buf[:]))

	userID, err := readLenPrefixed(r)
	if err != nil {
		return err
	}
	e.UserID = string(userID)

	if _, err := io.ReadFull(r, e.DocID[:]); err != nil {
		return err
	}

	opByte, err := r.ReadByte()
	if err != nil {
		return err
	}
	e.Op = OpTag(opByte)

	switch e.Op {
	case OpCreate:
		name, err := readLenPrefixed(r)
		if err != nil {
			return err
		}
		docType, err := readLenPrefixed(r)
		if err != nil {
			return err
		}
		content, err := readLenPrefixed(r)
		if err != nil {
			return err
		}
		e.Create = &CreateBody{Name: string(name), DocType: string(docType), InitialContent: content}
	case OpUpdate:
		ops, err := readLenPrefixed(r)
		if err != nil {
			return err
		}
		e.Update = &UpdateBody{CRDTOps: ops}
	case OpDelete:
		e.Delete = true
	case OpUpdateACL:
		acl, err := readLenPrefixed(r)
		if err != nil {
			return err
		}
		e.UpdateACL = &UpdateACLBody{ACL: acl}
	case OpMove:
		hasParent, err := r.ReadByte()
		if err != nil {
			return err
		}
		if hasParent == 1 {
			var id DocID
			if _, err := io.ReadFull(r, id[:]); err != nil {
				return err
			}
			e.Move = &MoveBody{NewParent: &id}
		} else {
			e.Move = &MoveBody{}
		}
	default:
		return errs.Msg("wal.decode", errs.InvariantViolated, "unknown op tag %d", e.Op)
	}
	return nil
}
