package irc

// Line builds one wire line into a fixed MaxLineLength byte buffer.
// Writes are append-only; anything written past byte 510 is silently
// dropped, and Bytes always stamps CRLF into the final two positions.
// At most one line should be under construction at a time per
// connection.
type Line struct {
	buf [MaxLineLength]byte
	n   int
}

// WriteString appends s, truncating at the 510-byte mark.
func (l *Line) WriteString(s string) {
	l.n += copy(l.buf[l.n:MaxLineLength-2], s)
}

// WriteByte appends a single byte, truncating at the 510-byte mark.
func (l *Line) WriteByte(b byte) error {
	if l.n < MaxLineLength-2 {
		l.buf[l.n] = b
		l.n++
	}
	return nil
}

// Bytes terminates the line with CRLF and returns it. The returned
// slice aliases the builder and is valid until the next write.
func (l *Line) Bytes() []byte {
	l.buf[l.n] = '\r'
	l.buf[l.n+1] = '\n'
	return l.buf[:l.n+2]
}

// Encode serializes the message into a single CRLF-terminated line of
// at most MaxLineLength bytes. Overlong messages are truncated to fit;
// truncation is silent since the receiver can do nothing about it.
//
// Params are emitted as given. A parameter containing a space, starting
// with ':', or empty must be the trailing one; use Text for that, which
// is always emitted with a leading ':'.
func (m Message) Encode() []byte {
	var l Line

	if m.Source != "" {
		_ = l.WriteByte(':')
		l.WriteString(m.Source)
		_ = l.WriteByte(' ')
	}

	l.WriteString(m.Command)

	params := m.Params
	if len(params) > MaxParams {
		params = params[:MaxParams]
	}
	for _, param := range params {
		_ = l.WriteByte(' ')
		l.WriteString(param)
	}

	if m.Text != "" {
		l.WriteString(" :")
		l.WriteString(m.Text)
	}

	// Encode returns a copy; the builder is stack local.
	out := make([]byte, len(l.Bytes()))
	copy(out, l.Bytes())
	return out
}
