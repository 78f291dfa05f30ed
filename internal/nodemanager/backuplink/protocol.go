// Package backuplink implements the node manager's source/target backup
// link wire protocol (spec.md §6): one-byte message type, u32 LE session
// id, then a length-prefixed body whose shape depends on the type. The
// source streams account-and-content manifests; the target queries
// missing content and acknowledges completion.
package backuplink

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// MessageType identifies a backup-link frame's body shape (spec.md §6).
type MessageType byte

const (
	// Empty is a keepalive either side may send.
	Empty MessageType = 0
	// StartBackupSession opens a session; sent by the source.
	StartBackupSession MessageType = 1
	// ContentList carries one batch of account/content manifest entries;
	// an empty body terminates the sync. Sent by the source.
	ContentList MessageType = 2
	// ContentQuery asks the source for one content item's bytes. Sent by
	// the target.
	ContentQuery MessageType = 3
	// ContentQueryAnswer carries the requested content's raw bytes (empty
	// on failure). Sent by the source.
	ContentQueryAnswer MessageType = 4
	// ContentListSyncDone signals the target has consumed every
	// ContentList batch and resolved every query it needed to.
	ContentListSyncDone MessageType = 5
)

// maxBodyBytes bounds a single frame so a corrupt length prefix cannot
// force an unbounded allocation.
const maxBodyBytes = 64 << 20

// Frame is one wire message: a type, the session it belongs to, and an
// opaque body whose encoding is MessageType-specific.
type Frame struct {
	Type      MessageType
	SessionID uint32
	Body      []byte
}

// WriteFrame writes f as: 1 byte type || u32 LE session id || u32 LE
// body length || body.
func WriteFrame(w io.Writer, f Frame) error {
	header := make([]byte, 9)
	header[0] = byte(f.Type)
	binary.LittleEndian.PutUint32(header[1:5], f.SessionID)
	binary.LittleEndian.PutUint32(header[5:9], uint32(len(f.Body)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("backuplink: write frame header: %w", err)
	}
	if len(f.Body) == 0 {
		return nil
	}
	if _, err := w.Write(f.Body); err != nil {
		return fmt.Errorf("backuplink: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, 9)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}
	n := binary.LittleEndian.Uint32(header[5:9])
	if n > maxBodyBytes {
		return Frame{}, fmt.Errorf("backuplink: frame body of %d bytes exceeds limit", n)
	}
	f := Frame{Type: MessageType(header[0]), SessionID: binary.LittleEndian.Uint32(header[1:5])}
	if n == 0 {
		return f, nil
	}
	f.Body = make([]byte, n)
	if _, err := io.ReadFull(r, f.Body); err != nil {
		return Frame{}, fmt.Errorf("backuplink: read frame body: %w", err)
	}
	return f, nil
}

// ContentListEntry is one account's content manifest within a
// ContentList batch.
type ContentListEntry struct {
	AccountID  uuid.UUID
	ContentIDs []uuid.UUID
}

// EncodeContentList serializes entries as the sequence of
// `account_uuid(16) || count(1) || content_uuid(16)*count` spec.md §6
// describes. An empty (nil or zero-length) slice encodes as an empty
// body, which terminates the sync on the wire.
func EncodeContentList(entries []ContentListEntry) ([]byte, error) {
	var body []byte
	for _, e := range entries {
		if len(e.ContentIDs) > 255 {
			return nil, fmt.Errorf("backuplink: account %s has %d content ids, exceeds 255 per batch entry", e.AccountID, len(e.ContentIDs))
		}
		body = append(body, e.AccountID[:]...)
		body = append(body, byte(len(e.ContentIDs)))
		for _, cid := range e.ContentIDs {
			body = append(body, cid[:]...)
		}
	}
	return body, nil
}

// DecodeContentList parses a ContentList body back into entries. An
// empty body decodes to a nil slice (the sync-terminating case).
func DecodeContentList(body []byte) ([]ContentListEntry, error) {
	var entries []ContentListEntry
	for len(body) > 0 {
		if len(body) < 17 {
			return nil, fmt.Errorf("backuplink: truncated content-list entry header")
		}
		var entry ContentListEntry
		copy(entry.AccountID[:], body[:16])
		count := int(body[16])
		body = body[17:]

		needed := count * 16
		if len(body) < needed {
			return nil, fmt.Errorf("backuplink: truncated content-list entry body")
		}
		if count > 0 {
			entry.ContentIDs = make([]uuid.UUID, count)
		}
		for i := 0; i < count; i++ {
			copy(entry.ContentIDs[i][:], body[i*16:(i+1)*16])
		}
		body = body[needed:]

		entries = append(entries, entry)
	}
	return entries, nil
}

// ContentQueryBody is the fixed 32-byte body of a ContentQuery frame:
// `account_uuid(16) || content_uuid(16)`.
type ContentQueryBody struct {
	AccountID uuid.UUID
	ContentID uuid.UUID
}

// Encode serializes q as its 32-byte wire form.
func (q ContentQueryBody) Encode() []byte {
	body := make([]byte, 32)
	copy(body[:16], q.AccountID[:])
	copy(body[16:], q.ContentID[:])
	return body
}

// DecodeContentQuery parses a ContentQuery frame body.
func DecodeContentQuery(body []byte) (ContentQueryBody, error) {
	if len(body) != 32 {
		return ContentQueryBody{}, fmt.Errorf("backuplink: content-query body must be 32 bytes, got %d", len(body))
	}
	var q ContentQueryBody
	copy(q.AccountID[:], body[:16])
	copy(q.ContentID[:], body[16:])
	return q, nil
}
