package backuplink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nearloop/backend/internal/store"
)

// BuildManifest lists every account's content through contents and
// converts it into the wire-level ContentListEntry shape Source.RunSession
// streams. Content or account ids that fail to parse as UUIDs are
// skipped rather than aborting the whole manifest.
func BuildManifest(ctx context.Context, contents store.ContentStore, accountIDs []string) ([]ContentListEntry, error) {
	entries := make([]ContentListEntry, 0, len(accountIDs))
	for _, aid := range accountIDs {
		accountUUID, err := uuid.Parse(aid)
		if err != nil {
			continue
		}
		items, err := contents.ListContentByAccount(ctx, aid)
		if err != nil {
			return nil, fmt.Errorf("backuplink: list content for account %s: %w", aid, err)
		}
		ids := make([]uuid.UUID, 0, len(items))
		for _, item := range items {
			cid, err := uuid.Parse(item.ID)
			if err != nil {
				continue
			}
			ids = append(ids, cid)
		}
		entries = append(entries, ContentListEntry{AccountID: accountUUID, ContentIDs: ids})
	}
	return entries, nil
}

// Source drives the sending side of a backup link: it streams the full
// account/content manifest in ContentList batches, answers
// ContentQuery requests with file bytes, and stops once the target
// signals ContentListSyncDone.
type Source struct {
	DataDir   string
	BatchSize int
}

// RunSession streams accountIDs' content manifests to conn in batches
// of s.BatchSize (default 256), then answers ContentQuery requests
// until the target sends ContentListSyncDone.
func (s Source) RunSession(ctx context.Context, conn io.ReadWriter, sessionID uint32, accounts []ContentListEntry) error {
	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = 256
	}

	if err := WriteFrame(conn, Frame{Type: StartBackupSession, SessionID: sessionID}); err != nil {
		return err
	}

	for start := 0; start < len(accounts); start += batchSize {
		end := start + batchSize
		if end > len(accounts) {
			end = len(accounts)
		}
		body, err := EncodeContentList(accounts[start:end])
		if err != nil {
			return err
		}
		if err := WriteFrame(conn, Frame{Type: ContentList, SessionID: sessionID, Body: body}); err != nil {
			return err
		}
	}
	// Empty ContentList body terminates the manifest sync (spec.md §6).
	if err := WriteFrame(conn, Frame{Type: ContentList, SessionID: sessionID}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f, err := ReadFrame(conn)
		if err != nil {
			return fmt.Errorf("backuplink: source read frame: %w", err)
		}
		switch f.Type {
		case ContentListSyncDone:
			return nil
		case ContentQuery:
			q, err := DecodeContentQuery(f.Body)
			if err != nil {
				return err
			}
			data, readErr := s.readContent(q.AccountID, q.ContentID)
			if readErr != nil {
				data = nil // empty body signals failure, per spec.md §6
			}
			if err := WriteFrame(conn, Frame{Type: ContentQueryAnswer, SessionID: sessionID, Body: data}); err != nil {
				return err
			}
		case Empty:
			// keepalive, no action
		default:
			return fmt.Errorf("backuplink: source received unexpected message type %d", f.Type)
		}
	}
}

func (s Source) readContent(accountID, contentID uuid.UUID) ([]byte, error) {
	path := filepath.Join(s.DataDir, accountID.String(), "content", contentID.String())
	return os.ReadFile(path)
}

// Target drives the receiving side: it consumes ContentList batches,
// tracks which content it already has on disk, queries the source for
// what is missing, writes answers to disk, and signals
// ContentListSyncDone once the manifest sync has terminated and every
// query it issued has been answered.
type Target struct {
	DataDir string
	// Have reports whether contentID for accountID already exists
	// locally, so Target does not re-fetch content it already holds.
	Have func(accountID, contentID uuid.UUID) bool
}

// RunSession consumes conn until the source's manifest sync ends, then
// queries every missing content item and acks with
// ContentListSyncDone.
func (t Target) RunSession(ctx context.Context, conn io.ReadWriter) error {
	var sessionID uint32
	var missing []ContentQueryBody

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f, err := ReadFrame(conn)
		if err != nil {
			return fmt.Errorf("backuplink: target read frame: %w", err)
		}

		switch f.Type {
		case StartBackupSession:
			sessionID = f.SessionID
		case ContentList:
			if len(f.Body) == 0 {
				// Manifest sync complete; query everything missing, then ack.
				for _, q := range missing {
					if err := t.query(ctx, conn, sessionID, q); err != nil {
						return err
					}
				}
				return WriteFrame(conn, Frame{Type: ContentListSyncDone, SessionID: sessionID})
			}
			entries, err := DecodeContentList(f.Body)
			if err != nil {
				return err
			}
			for _, e := range entries {
				for _, cid := range e.ContentIDs {
					if t.Have == nil || !t.Have(e.AccountID, cid) {
						missing = append(missing, ContentQueryBody{AccountID: e.AccountID, ContentID: cid})
					}
				}
			}
		case Empty:
			// keepalive, no action
		default:
			return fmt.Errorf("backuplink: target received unexpected message type %d", f.Type)
		}
	}
}

func (t Target) query(ctx context.Context, conn io.ReadWriter, sessionID uint32, q ContentQueryBody) error {
	if err := WriteFrame(conn, Frame{Type: ContentQuery, SessionID: sessionID, Body: q.Encode()}); err != nil {
		return err
	}
	f, err := ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("backuplink: target read query answer: %w", err)
	}
	if f.Type != ContentQueryAnswer {
		return fmt.Errorf("backuplink: expected content-query-answer, got type %d", f.Type)
	}
	if len(f.Body) == 0 {
		return fmt.Errorf("backuplink: source reported failure for account %s content %s", q.AccountID, q.ContentID)
	}
	return t.writeContent(q.AccountID, q.ContentID, f.Body)
}

func (t Target) writeContent(accountID, contentID uuid.UUID, data []byte) error {
	dir := filepath.Join(t.DataDir, accountID.String(), "content")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("backuplink: mkdir %q: %w", dir, err)
	}
	path := filepath.Join(dir, contentID.String())
	return os.WriteFile(path, data, 0o644)
}
