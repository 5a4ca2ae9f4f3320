// Package frame decodes server-sent-event style record streams into
// discrete records. Both MCP transports share this decoder; they differ
// only in connection shape, never in framing.
package frame

import "strings"

// Record is one decoded event: an optional type, a possibly multi-line
// payload, and an optional id.
type Record struct {
	Type string
	Data string
	ID   string
}

// Parser accumulates raw stream bytes and emits complete records.
// Feed may be called with arbitrarily chunked input; the parse result
// is identical regardless of where chunk boundaries fall.
type Parser struct {
	buf     strings.Builder
	current Record
	open    bool // current record has at least one field
	dataSet bool
}

// Feed appends chunk to the internal buffer and returns every record
// completed by it. A blank line terminates a record; a trailing partial
// line stays buffered for the next call.
func (p *Parser) Feed(chunk string) []Record {
	p.buf.WriteString(chunk)
	text := p.buf.String()

	var records []Record
	for {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 {
			break
		}
		line := strings.TrimSuffix(text[:nl], "\r")
		text = text[nl+1:]

		if line == "" {
			if p.open {
				records = append(records, p.current)
			}
			p.reset()
			continue
		}
		p.consumeLine(line)
	}

	p.buf.Reset()
	p.buf.WriteString(text)
	return records
}

// Flush emits the record in progress, if any. Call it when the stream
// ends without a terminating blank line.
func (p *Parser) Flush() (Record, bool) {
	if !p.open {
		return Record{}, false
	}
	rec := p.current
	p.reset()
	return rec, true
}

func (p *Parser) reset() {
	p.current = Record{}
	p.open = false
	p.dataSet = false
}

func (p *Parser) consumeLine(line string) {
	field, value := splitField(line)
	switch field {
	case "type", "event":
		p.current.Type = value
		p.open = true
	case "data":
		if p.dataSet {
			p.current.Data += "\n" + value
		} else {
			p.current.Data = value
			p.dataSet = true
		}
		p.open = true
	case "id":
		p.current.ID = value
		p.open = true
	default:
		// Unknown fields and comment lines (leading colon) are ignored,
		// but keep the record open so a bare "id:" stream still emits.
	}
}

func splitField(line string) (field, value string) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return line, ""
	}
	field = line[:colon]
	value = line[colon+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}
