package extract

// Scan returns the prefix of text that starts with open and ends at its
// matching close. Delimiters inside double-quoted strings are ignored and a
// backslash consumes the byte that follows it, whatever that byte is.
// ok is false when text does not start with open or ends before the
// delimiters balance.
func Scan(text string, open, close byte) (match string, ok bool) {
	if len(text) == 0 || text[0] != open {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return text[:i+1], true
			}
		}
	}
	return "", false
}

// closerFor maps an opening delimiter to its closer.
func closerFor(open byte) byte {
	if open == '[' {
		return ']'
	}
	return '}'
}
