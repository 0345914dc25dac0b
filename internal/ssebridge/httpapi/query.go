package httpapi

import "net/http"

// pathParam reads a path variable populated by the muxer's pattern
// matching, mirroring how generated goa servers pull path parameters out
// of mux.Vars before decoding a request.
func (s *Server) pathParam(r *http.Request, name string) string {
	if s.mux == nil {
		return ""
	}
	return s.mux.Vars(r)[name]
}

// queryParam reads the first value of a query string parameter, or "" if
// absent, saving callers from the url.Values() boilerplate for the
// handful of scalar query parameters this surface accepts.
func queryParam(r *http.Request, name string) string {
	values := r.URL.Query()[name]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
