package bridge

// DefaultSessionHeader is the streamable-HTTP MCP session header.
const DefaultSessionHeader = "Mcp-Session-Id"

// session holds the identifier the server assigned to this process. It is
// empty until the first response that carries one and is never cleared
// afterwards; later values overwrite it.
type session struct {
	id string
}

func (s *session) current() (string, bool) {
	return s.id, s.id != ""
}

// observe records a header value and reports whether the stored id changed.
func (s *session) observe(value string) bool {
	if value == "" || value == s.id {
		return false
	}
	s.id = value
	return true
}
