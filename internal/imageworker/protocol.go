// Package imageworker implements the framed request/reply protocol the
// backend speaks to the external image-processing subprocess (spec.md
// §4.5/§6): stdin/stdout framed as a u32 LE length prefix followed by a
// JSON body, reply symmetric. The image algorithms themselves (JPEG
// decode, MozJPEG re-encode, face/NSFW detection) are out of scope; only
// the wire protocol and the request/reply plumbing live here.
package imageworker

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Request is one processing job sent to the worker (spec.md §6).
type Request struct {
	Input         string `json:"input"`
	InputFileType string `json:"input_file_type"`
	Output        string `json:"output"`
}

// DefaultInputFileType is the only input kind the protocol names.
const DefaultInputFileType = "JpegImage"

// Reply is the worker's response (spec.md §6).
type Reply struct {
	FaceDetected bool `json:"face_detected"`
	NSFWDetected bool `json:"nsfw_detected"`
}

// maxFrameBytes bounds a single frame so a malformed length prefix cannot
// force an unbounded allocation.
const maxFrameBytes = 16 << 20

// WriteFrame writes a u32 LE length prefix followed by v's JSON encoding.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("imageworker: marshal frame: %w", err)
	}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("imageworker: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("imageworker: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame and unmarshals it into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > maxFrameBytes {
		return fmt.Errorf("imageworker: frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("imageworker: read frame body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("imageworker: unmarshal frame: %w", err)
	}
	return nil
}
