package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/homecart/listsync/internal/contracts"
)

// MaxFrameBytes bounds a single line and the data of a single frame. Wire
// events are a few dozen bytes; anything near this is not one.
const MaxFrameBytes = 64 << 10

// Decoder reads wire events from a text/event-stream body. Frames whose data
// is not a JSON wire event, or that exceed MaxFrameBytes, are skipped.
type Decoder struct {
	r   *bufio.Reader
	max int
	// Skipped counts frames dropped as malformed or oversized.
	Skipped int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r), max: MaxFrameBytes}
}

// Next blocks until the next well-formed event or a read error.
func (d *Decoder) Next() (contracts.WireEvent, error) {
	var data strings.Builder
	hasData, oversized := false, false
	for {
		line, tooLong, err := d.readLine()
		if err != nil {
			return contracts.WireEvent{}, err
		}
		if tooLong {
			hasData, oversized = true, true
			data.Reset()
			continue
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !hasData {
				continue
			}
			ev, ok := decodeData(data.String())
			if oversized {
				ok = false
			}
			data.Reset()
			hasData, oversized = false, false
			if !ok {
				d.Skipped++
				continue
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") || oversized {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field == "data" {
			if data.Len()+len(value)+1 > d.max {
				hasData, oversized = true, true
				data.Reset()
				continue
			}
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
		// event, id and retry are implied by the JSON payload.
	}
}

// readLine returns the next line. A line longer than the frame limit is
// consumed but not kept, and reported as tooLong.
func (d *Decoder) readLine() (string, bool, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > d.max {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return "", false, err
		}
		return string(buf), tooLong, nil
	}
}

func decodeData(data string) (contracts.WireEvent, bool) {
	var ev contracts.WireEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil || ev.Kind == "" {
		return contracts.WireEvent{}, false
	}
	return ev, true
}
