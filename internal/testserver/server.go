// Package testserver runs an in-process resource server that speaks the wire
// contract of the real one: resource collections, the metadata collection, the
// security token endpoint and structured error envelopes.
package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// Failure makes the next Count creations in a resource fail with Status.
type Failure struct {
	Status int
	Count  int
}

// Server is a fake resource server.
type Server struct {
	*httptest.Server

	// AuthToken, when set, must match the Authorization header exactly.
	AuthToken string
	// SecurityToken is issued by the token endpoint and, when RequireToken is
	// set, required on mutating requests.
	SecurityToken string
	RequireToken  bool
	// TokenDelay holds the token reply back unless the request ends first.
	TokenDelay time.Duration

	mutex       sync.Mutex
	collections map[string][]docbridge.Record
	failures    map[string]*Failure
	idempotent  map[string]docbridge.Record
	hits        map[string]int
	headers     []http.Header
	sequence    int
}

// New starts a server with the given collections.
func New(resources ...string) *Server {
	server := &Server{
		collections: make(map[string][]docbridge.Record),
		failures:    make(map[string]*Failure),
		idempotent:  make(map[string]docbridge.Record),
		hits:        make(map[string]int),
	}

	for _, name := range resources {
		server.collections[name] = nil
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(server.record)
	router.Use(server.authenticate)

	router.Get(constants.DefaultTokenPath, server.issueToken)
	router.Route(constants.DefaultResourcePrefix, func(r chi.Router) {
		r.Get("/"+constants.MetadataResource+"/{name}", server.metadata)
		r.Get("/{resource}", server.list)
		r.Post("/{resource}", server.create)
		r.Get("/{resource}/{id}", server.get)
		r.Put("/{resource}/{id}", server.update)
		r.Delete("/{resource}/{id}", server.remove)
	})

	server.Server = httptest.NewServer(router)

	return server
}

// AddResource creates an empty collection.
func (s *Server) AddResource(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.collections[name]; !ok {
		s.collections[name] = nil
	}
}

// FailCreates makes the next creations in resource fail.
func (s *Server) FailCreates(resource string, failure Failure) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.failures[resource] = &failure
}

// Records returns a copy of a collection.
func (s *Server) Records(resource string) []docbridge.Record {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]docbridge.Record(nil), s.collections[resource]...)
}

// Hits returns how many requests reached "METHOD path".
func (s *Server) Hits(method, path string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.hits[method+" "+path]
}

// Headers returns the headers of every request received so far.
func (s *Server) Headers() []http.Header {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]http.Header(nil), s.headers...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mutex.Lock()
		s.hits[r.Method+" "+r.URL.Path]++
		s.headers = append(s.headers, r.Header.Clone())
		s.mutex.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AuthToken != "" && r.Header.Get("Authorization") != s.AuthToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"exc_type": "AuthenticationError"})

			return
		}

		if s.RequireToken && r.Method != http.MethodGet && r.Header.Get(constants.SecurityTokenHeader) != s.SecurityToken {
			writeJSON(w, http.StatusBadRequest, map[string]string{"exc_type": "CSRFTokenError"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	if s.TokenDelay > 0 {
		select {
		case <-time.After(s.TokenDelay):
		case <-r.Context().Done():
			return
		}
	}

	if s.SecurityToken == "" {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"exception": "no token configured"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": s.SecurityToken})
}

func (s *Server) metadata(w http.ResponseWriter, r *http.Request) {
	name := param(r, "name")

	if !s.exists(name) {
		writeMissing(w, name)

		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"name": name}})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	resource := param(r, "resource")

	s.mutex.Lock()
	records, ok := s.collections[resource]
	s.mutex.Unlock()

	if !ok {
		writeMissing(w, resource)

		return
	}

	if limit, err := strconv.Atoi(r.URL.Query().Get(constants.PageLengthParam)); err == nil && limit >= 0 && limit < len(records) {
		records = records[:limit]
	}

	if records == nil {
		records = []docbridge.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": records})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	resource := param(r, "resource")

	var record docbridge.Record

	err := json.NewDecoder(r.Body).Decode(&record)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"exception": err.Error()})

		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.collections[resource]; !ok {
		writeMissing(w, resource)

		return
	}

	if failure := s.failures[resource]; failure != nil && failure.Count > 0 {
		failure.Count--
		writeJSON(w, failure.Status, map[string]string{"exception": "injected failure"})

		return
	}

	key := r.Header.Get(constants.IdempotencyKeyHeader)
	if existing, ok := s.idempotent[key]; ok && key != "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": existing})

		return
	}

	s.sequence++

	created := docbridge.Record{}
	for field, value := range record {
		created[field] = value
	}

	created["name"] = fmt.Sprintf("%s-%04d", resource, s.sequence)
	s.collections[resource] = append(s.collections[resource], created)

	if key != "" {
		s.idempotent[key] = created
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": created})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	record, ok := s.find(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": record})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	var changes docbridge.Record

	err := json.NewDecoder(r.Body).Decode(&changes)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"exception": err.Error()})

		return
	}

	record, ok := s.find(w, r)
	if !ok {
		return
	}

	s.mutex.Lock()
	for field, value := range changes {
		if field != "name" {
			record[field] = value
		}
	}
	s.mutex.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": record})
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	resource := param(r, "resource")
	id := param(r, "id")

	s.mutex.Lock()
	defer s.mutex.Unlock()

	records := s.collections[resource]
	for i, record := range records {
		if record["name"] == id {
			s.collections[resource] = append(records[:i], records[i+1:]...)
			writeJSON(w, http.StatusAccepted, map[string]string{"message": "ok"})

			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{"exc_type": "DoesNotExistError"})
}

func (s *Server) find(w http.ResponseWriter, r *http.Request) (docbridge.Record, bool) {
	resource := param(r, "resource")
	id := param(r, "id")

	s.mutex.Lock()
	defer s.mutex.Unlock()

	records, ok := s.collections[resource]
	if !ok {
		writeMissing(w, resource)

		return nil, false
	}

	for _, record := range records {
		if record["name"] == id {
			return record, true
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{"exc_type": "DoesNotExistError"})

	return nil, false
}

func (s *Server) exists(name string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, ok := s.collections[name]

	return ok
}

func param(r *http.Request, key string) string {
	value := chi.URLParam(r, key)
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}

	return value
}

func writeMissing(w http.ResponseWriter, name string) {
	message, _ := json.Marshal(map[string]string{"message": fmt.Sprintf("DocType <strong>%s</strong> not found", name)})
	list, _ := json.Marshal([]string{string(message)})

	writeJSON(w, http.StatusNotFound, map[string]string{
		"exc_type":         "DoesNotExistError",
		"_server_messages": string(list),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
