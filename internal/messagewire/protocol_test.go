package messagewire

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteMessageThenReadMessageRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	header := Header{MessageUUID: "uuid-1", SenderID: "acct-a", SequenceID: 7, SentAtUnix: 1700000000}
	body := []byte("signed-envelope-bytes")

	if err := WriteMessage(&buf, header, body); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	gotHeader, gotBody, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if gotHeader != header {
		t.Fatalf("ReadMessage() header = %+v, want %+v", gotHeader, header)
	}
	if string(gotBody) != string(body) {
		t.Fatalf("ReadMessage() body = %q, want %q", gotBody, body)
	}
}

func TestReadMessageBatchPreservesOrder(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		h := Header{MessageUUID: "uuid", SequenceID: int64(i)}
		if err := WriteMessage(&buf, h, []byte("body")); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		h, _, err := ReadMessage(&buf)
		if err != nil {
			t.Fatalf("ReadMessage #%d: %v", i, err)
		}
		if h.SequenceID != int64(i) {
			t.Fatalf("ReadMessage #%d sequence = %d, want %d", i, h.SequenceID, i)
		}
	}
}

func TestReadMessageOnEmptyStreamReturnsEOF(t *testing.T) {
	var buf bytes.Buffer
	if _, _, err := ReadMessage(&buf); err != io.EOF {
		t.Fatalf("ReadMessage() on empty stream error = %v, want io.EOF", err)
	}
}

func TestReadMessageOnTruncatedHeaderErrors(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF}) // declares a 65535-byte header that never follows
	if _, _, err := ReadMessage(&buf); err == nil {
		t.Fatalf("expected error reading a truncated header")
	}
}
