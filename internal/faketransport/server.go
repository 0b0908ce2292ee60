// Package faketransport stands in for the vendor HTTP endpoint in
// integration tests, the same way the teacher's gateway and
// control-plane services route with gorilla/mux. It speaks the real
// wire protocol (white-box envelope, inner AES) so tests exercise C4
// and C6 against something other than a mock transport.
package faketransport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"

	"github.com/Ap3pp3rs94/vehiclecore/internal/innercrypto"
	"github.com/Ap3pp3rs94/vehiclecore/internal/wbcrypto"
)

// HandlerFunc answers a decrypted inner payload with a response code,
// message, and (optional) respondData to be inner-encrypted back.
type HandlerFunc func(inner map[string]any) (code int, message string, respondData any)

// Server is a fake vendor endpoint keyed by path.
type Server struct {
	httptest *httptest.Server
	wb       *wbcrypto.Codec

	mu       sync.Mutex
	handlers map[string]HandlerFunc

	// KeyFor resolves the inner-AES content key for a given identifier
	// (userId or username). Tests set this to match whatever key they
	// built requests with. Defaults to the zero key.
	KeyFor func(identifier string) [16]byte
}

type wireRequest struct {
	Request string `json:"request"`
}
type wireResponse struct {
	Response string `json:"response"`
}
type outerEnvelope struct {
	Identifier string `json:"identifier"`
	EncryData  string `json:"encryData"`
}
type responseOuter struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	RespondData string `json:"respondData"`
}

// New starts a fake server listening on a local ephemeral port.
func New() (*Server, error) {
	wb, err := wbcrypto.New()
	if err != nil {
		return nil, err
	}
	s := &Server{
		wb:       wb,
		handlers: make(map[string]HandlerFunc),
		KeyFor:   func(string) [16]byte { return [16]byte{} },
	}
	r := mux.NewRouter()
	r.PathPrefix("/").HandlerFunc(s.handle)
	s.httptest = httptest.NewServer(r)
	return s, nil
}

// URL returns the fake server's base URL.
func (s *Server) URL() string { return s.httptest.URL }

// Close stops the fake server.
func (s *Server) Close() { s.httptest.Close() }

// Handle registers a handler for a request path (e.g. "account/login").
func (s *Server) Handle(path string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[trimSlash(path)] = fn
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	var wr wireRequest
	if err := json.Unmarshal(body, &wr); err != nil {
		http.Error(w, "bad wire body", http.StatusBadRequest)
		return
	}
	plain, err := s.wb.DecodeWire(wr.Request)
	if err != nil {
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}
	var outer outerEnvelope
	if err := json.Unmarshal(plain, &outer); err != nil {
		http.Error(w, "bad outer json", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	fn, ok := s.handlers[trimSlash(r.URL.Path)]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	key := s.KeyFor(outer.Identifier)
	var inner map[string]any
	if outer.EncryData != "" {
		innerJSON, err := innercrypto.Decrypt(key, outer.EncryData)
		if err != nil {
			http.Error(w, "bad inner cipher", http.StatusBadRequest)
			return
		}
		if err := json.Unmarshal(innerJSON, &inner); err != nil {
			http.Error(w, "bad inner json", http.StatusBadRequest)
			return
		}
	}

	code, msg, respondData := fn(inner)
	ro := responseOuter{Code: code, Message: msg}
	if respondData != nil {
		payload, err := json.Marshal(respondData)
		if err != nil {
			http.Error(w, "bad respondData", http.StatusInternalServerError)
			return
		}
		enc, err := innercrypto.Encrypt(key, payload)
		if err != nil {
			http.Error(w, "encrypt failed", http.StatusInternalServerError)
			return
		}
		ro.RespondData = enc
	}
	roJSON, err := json.Marshal(ro)
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	wbText, err := s.wb.EncodeWire(roJSON)
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	out, err := json.Marshal(wireResponse{Response: wbText})
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func trimSlash(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return p
}
