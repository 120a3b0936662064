package bridge

import (
	"bytes"
	"encoding/json"
	"log"

	"github.com/joestump/claude-relay/internal/wire"
)

// lineParser splits a chunked upstream byte stream into newline-delimited
// JSON messages. A partial trailing line is carried over to the next chunk;
// a line that fails to parse is logged once and discarded without poisoning
// the rest of the stream.
type lineParser struct {
	rem []byte
}

// feed consumes one chunk and returns the messages parsed from its complete
// lines.
func (p *lineParser) feed(chunk []byte) []wire.CLIMessage {
	data := append(p.rem, chunk...)
	var out []wire.CLIMessage

	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(data[:i])
		data = data[i+1:]
		if len(line) == 0 {
			continue
		}
		var msg wire.CLIMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Printf("bridge: dropping unparseable upstream line (%d bytes): %v", len(line), err)
			continue
		}
		out = append(out, msg)
	}

	p.rem = append(p.rem[:0], data...)
	return out
}

// reset discards any carried partial line, e.g. when a new upstream attaches.
func (p *lineParser) reset() {
	p.rem = p.rem[:0]
}
