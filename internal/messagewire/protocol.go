// Package messagewire implements the framed octet protocol a receiver
// reads pending messages over (spec.md §4.6): a u16 LE json-header-length,
// the json header, a u16 LE body-length, then the body. This is distinct
// from internal/imageworker's u32 LE single-frame protocol: here each
// pending message gets its own header/body pair, and a batch is simply
// those pairs written back to back.
package messagewire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Header carries a pending message's routing metadata; the signed
// envelope itself is the body.
type Header struct {
	MessageUUID string `json:"message_uuid"`
	SenderID    string `json:"sender_account_id"`
	SequenceID  int64  `json:"sequence_id"`
	SentAtUnix  int64  `json:"sent_at_unix"`
}

// maxPartBytes bounds a single header or body so a malformed length
// prefix cannot force an unbounded allocation.
const maxPartBytes = 1<<16 - 1

// WriteMessage writes one header/body pair: u16 LE header length, the
// header's JSON encoding, u16 LE body length, then body verbatim.
func WriteMessage(w io.Writer, header Header, body []byte) error {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("messagewire: marshal header: %w", err)
	}
	if err := writePart(w, headerJSON); err != nil {
		return fmt.Errorf("messagewire: write header: %w", err)
	}
	if err := writePart(w, body); err != nil {
		return fmt.Errorf("messagewire: write body: %w", err)
	}
	return nil
}

// ReadMessage reads one header/body pair written by WriteMessage.
func ReadMessage(r io.Reader) (Header, []byte, error) {
	headerJSON, err := readPart(r)
	if err != nil {
		return Header{}, nil, err
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return Header{}, nil, fmt.Errorf("messagewire: unmarshal header: %w", err)
	}
	body, err := readPart(r)
	if err != nil {
		return Header{}, nil, fmt.Errorf("messagewire: read body: %w", err)
	}
	return header, body, nil
}

func writePart(w io.Writer, part []byte) error {
	if len(part) > maxPartBytes {
		return fmt.Errorf("part of %d bytes exceeds limit", len(part))
	}
	var lenPrefix [2]byte
	binary.LittleEndian.PutUint16(lenPrefix[:], uint16(len(part)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(part)
	return err
}

func readPart(r io.Reader) ([]byte, error) {
	var lenPrefix [2]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint16(lenPrefix[:])
	if int(n) > maxPartBytes {
		return nil, fmt.Errorf("messagewire: part of %d bytes exceeds limit", n)
	}
	part := make([]byte, n)
	if _, err := io.ReadFull(r, part); err != nil {
		return nil, err
	}
	return part, nil
}
