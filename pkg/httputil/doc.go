// Package httputil holds the JSON request and response helpers shared by the
// HTTP transport.
//
// Every error reply has the shape
//
//	{"error": "<kind>", "message": "<text>", "details": {...}}
//
// where kind and status come from auth.ErrorKind and auth.HTTPStatus.
// Request bodies are decoded with ParseJSON and checked against their
// `validate` struct tags by Validate; DecodeAndValidate does both and writes
// the 400 response itself:
//
//	var req loginRequest
//	if !httputil.DecodeAndValidate(w, r, &req) {
//		return
//	}
package httputil
