package irc

// Parser frames a raw byte stream into protocol messages. It is
// stateful: bytes fed to it accumulate until a line terminator arrives,
// so reads may split messages at arbitrary points.
//
// Any occurrence of CR or LF terminates a line; CRLF therefore shows up
// as a line followed by an empty segment, and empty segments are
// skipped. The final unterminated segment is retained as the prefix of
// the next read.
type Parser struct {
	pending []byte
}

// Feed appends a chunk read from the connection to the pending buffer.
func (p *Parser) Feed(chunk []byte) {
	p.pending = append(p.pending, chunk...)
}

// Next returns the next complete message from the buffer. ok is false
// when no complete line remains. A non-nil err reports a malformed
// line; the line is consumed either way, so the caller may keep calling
// Next.
func (p *Parser) Next() (msg Message, ok bool, err error) {
	for {
		line, rest, found := cutLine(p.pending)
		if !found {
			return Message{}, false, nil
		}
		p.pending = rest

		if len(line) == 0 {
			continue
		}

		msg, err = parseLine(line)
		return msg, true, err
	}
}

// cutLine splits buf at the first CR or LF. found is false when buf
// holds no terminator.
func cutLine(buf []byte) (line, rest []byte, found bool) {
	for i, b := range buf {
		if b == '\r' || b == '\n' {
			return buf[:i], buf[i+1:], true
		}
	}
	return nil, buf, false
}

// parseLine parses a single terminator-free line.
//
// Grammar (byte level):
//
//	[ ":" source SPACE ] command *( SPACE param ) [ SPACE ":" trailing ]
//	command = 1*letter / 3digit
//
// Clients should not send a source; we recognize one and discard it
// rather than mis-parse the command.
func parseLine(line []byte) (Message, error) {
	pos := skipSpaces(line, 0)

	if pos < len(line) && line[pos] == ':' {
		for pos < len(line) && line[pos] != ' ' {
			pos++
		}
		pos = skipSpaces(line, pos)
	}

	command, pos, err := parseCommand(line, pos)
	if err != nil {
		return Message{}, &ParseError{Line: string(line), Reason: err.Error()}
	}

	var params []string
	for {
		pos = skipSpaces(line, pos)
		if pos >= len(line) {
			break
		}

		if line[pos] == ':' {
			// Trailing parameter: the remainder of the line verbatim.
			params = append(params, string(line[pos+1:]))
			break
		}

		start := pos
		for pos < len(line) && line[pos] != ' ' {
			pos++
		}
		params = append(params, string(line[start:pos]))
	}

	return Message{Command: command, Params: params}, nil
}

func skipSpaces(line []byte, pos int) int {
	for pos < len(line) && line[pos] == ' ' {
		pos++
	}
	return pos
}

type commandError string

func (e commandError) Error() string { return string(e) }

// parseCommand parses the command token: one or more ASCII letters, or
// exactly three ASCII digits.
func parseCommand(line []byte, pos int) (string, int, error) {
	start := pos

	if pos < len(line) && isDigit(line[pos]) {
		for pos < len(line) && isDigit(line[pos]) {
			pos++
		}
		if pos-start != 3 {
			return "", 0, commandError("numeric command is not three digits")
		}
	} else {
		for pos < len(line) && isLetter(line[pos]) {
			pos++
		}
		if pos == start {
			return "", 0, commandError("missing command")
		}
	}

	if pos < len(line) && line[pos] != ' ' {
		return "", 0, commandError("unexpected character after command")
	}

	return string(line[start:pos]), pos, nil
}

func isDigit(b byte) bool  { return b >= '0' && b <= '9' }
func isLetter(b byte) bool { return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') }
