// Command imageprocess is the `image-process` subcommand (spec.md §6):
// a standalone worker speaking the framed stdin/stdout protocol the
// content pipeline's internal/imageworker client drives. The real image
// algorithms (JPEG decode, EXIF rotation, MozJPEG re-encode, face/NSFW
// detection) are explicitly out of scope (spec.md §1); this binary only
// implements the wire protocol, acknowledging each request with a reply
// so the protocol surface can be exercised end to end.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/nearloop/backend/internal/imageworker"
)

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil && err != io.EOF {
		fmt.Fprintln(os.Stderr, "imageprocess:", err)
		os.Exit(1)
	}
}

// run reads requests until stdin closes (spec.md §6: "Exit is signalled
// by closing stdin"), replying to each in turn.
func run(in io.Reader, out io.Writer) error {
	for {
		var req imageworker.Request
		if err := imageworker.ReadFrame(in, &req); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		reply := imageworker.Reply{FaceDetected: false, NSFWDetected: false}
		if err := imageworker.WriteFrame(out, reply); err != nil {
			return err
		}
	}
}
