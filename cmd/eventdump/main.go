// Command eventdump decodes a file of packed canvas events and prints
// them one per line. It is an offline diagnostic tool: no host or
// worker process is involved, the whole file is loaded into a
// bip-stream buffer up front and drained by a single codec.Reader.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/fiddlecore/wasmcore/bipstream"
	"github.com/fiddlecore/wasmcore/canvasproto"
	"github.com/fiddlecore/wasmcore/codec"
	"github.com/fiddlecore/wasmcore/lockstrategy"
	"github.com/fiddlecore/wasmcore/wasmerr"
)

func main() {
	timeoutMS := flag.Int("timeout-ms", 50, "how long to wait past the last decoded event before assuming end-of-file")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: eventdump [--timeout-ms N] <events-file>")
		os.Exit(2)
	}

	if err := dump(flag.Arg(0), *timeoutMS); err != nil {
		fmt.Fprintln(os.Stderr, "eventdump:", err)
		os.Exit(1)
	}
}

func dump(path string, timeoutMS int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	stream, err := bipstream.CreateBuffer(len(data) + 1)
	if err != nil {
		return fmt.Errorf("allocate decode buffer: %w", err)
	}
	defer stream.Close()

	writer := codec.NewWriter(stream, lockstrategy.Busy{})
	if err := writer.WriteBytesRaw(data); err != nil {
		return fmt.Errorf("load file into decode buffer: %w", err)
	}

	reader := codec.NewReader(stream, lockstrategy.NewDeadline(64, 1, 5, timeoutMS))

	count := 0
	for {
		ev, err := canvasproto.Unpack(reader)
		if err != nil {
			if err == wasmerr.ErrTimeout {
				break
			}
			return fmt.Errorf("decode event #%d: %w", count, err)
		}
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("format event #%d: %w", count, err)
		}
		fmt.Println(string(line))
		count++
	}
	fmt.Fprintf(os.Stderr, "eventdump: %d event(s) decoded\n", count)
	return nil
}
