// Package host implements the one spec.md §6 configuration verb that
// does not fit naturally as a single vmcore.VM method: feeding a raw
// HTTP request buffer in and seeding the superglobals a script expects
// from it. Bit-exact HTTP/URL parsing is out of scope for this module
// (spec.md §1), so this leans entirely on net/http's own request parser
// rather than reimplementing one.
package host

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"

	"phlang/internal/value"
	"phlang/internal/vmcore"
)

// FeedRequest parses a raw HTTP request (request line, headers, body)
// and seeds $_SERVER, $_GET, $_POST on vm the way a CGI-style front
// controller would before running a request-handling script.
func FeedRequest(vm *vmcore.VM, raw []byte) error {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return err
	}
	defer req.Body.Close()

	server := map[string]value.Value{
		"REQUEST_METHOD":  value.InitFromString(req.Method),
		"REQUEST_URI":     value.InitFromString(req.RequestURI),
		"HTTP_HOST":       value.InitFromString(req.Host),
		"QUERY_STRING":    value.InitFromString(req.URL.RawQuery),
		"SERVER_PROTOCOL": value.InitFromString(req.Proto),
	}
	for k, vs := range req.Header {
		if len(vs) > 0 {
			server["HTTP_"+headerKey(k)] = value.InitFromString(vs[0])
		}
	}
	vm.DefineSuperglobal("_SERVER", assocOf(vm, server))

	get := map[string]value.Value{}
	for k, vs := range req.URL.Query() {
		if len(vs) > 0 {
			get[k] = value.InitFromString(vs[0])
		}
	}
	vm.DefineSuperglobal("_GET", assocOf(vm, get))

	post := map[string]value.Value{}
	if req.Method == http.MethodPost {
		if err := req.ParseForm(); err == nil {
			for k, vs := range req.PostForm {
				if len(vs) > 0 {
					post[k] = value.InitFromString(vs[0])
				}
			}
		}
	}
	vm.DefineSuperglobal("_POST", assocOf(vm, post))
	return nil
}

// headerKey renders a canonical HTTP header name ("Content-Type") the
// way CGI does ("CONTENT_TYPE").
func headerKey(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// assocOf builds an associative array Value from a plain Go map,
// reserving a fresh RefTable slot per entry the way STORE_IDX does.
func assocOf(vm *vmcore.VM, m map[string]value.Value) value.Value {
	h := value.NewHashmap()
	for k, v := range m {
		slot := vm.RT.Reserve()
		vm.RT.Set(slot, v)
		h.Insert(value.StringKey(k), slot)
	}
	return value.InitFromArray(h)
}
