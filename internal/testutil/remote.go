package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/spices/internal/models"
)

// Remote is a fake spices server. Index bodies are served at
// /json/<type>s.json and any other path from the file table.
type Remote struct {
	srv *httptest.Server

	mu          sync.Mutex
	indexes     map[string][]byte
	files       map[string][]byte
	failures    map[string]int
	hits        map[string]int
	queries     []string
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

// NewRemote starts a fake server that is closed with the test.
func NewRemote(t *testing.T) *Remote {
	t.Helper()
	r := &Remote{
		indexes:  map[string][]byte{},
		files:    map[string][]byte{},
		failures: map[string]int{},
		hits:     map[string]int{},
	}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.srv.Close)
	return r
}

// URL is the base URL of the server.
func (r *Remote) URL() string { return r.srv.URL }

// Client returns an HTTP client for the server.
func (r *Remote) Client() *http.Client { return r.srv.Client() }

// SetIndex publishes entries as the index of kind.
func (r *Remote) SetIndex(t *testing.T, kind models.PackageType, entries ...models.RemoteEntry) {
	t.Helper()
	m := make(map[string]models.RemoteEntry, len(entries))
	for _, e := range entries {
		m[e.UUID] = e
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	r.SetRawIndex(kind, data)
}

// SetRawIndex publishes body verbatim as the index of kind.
func (r *Remote) SetRawIndex(kind models.PackageType, body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexes["/json/"+kind.Plural()+".json"] = body
}

// SetFile serves data at path.
func (r *Remote) SetFile(path string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[path] = data
}

// Fail makes path answer with status; 0 clears it.
func (r *Remote) Fail(path string, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status == 0 {
		delete(r.failures, path)
		return
	}
	r.failures[path] = status
}

// SetDelay holds every response for d.
func (r *Remote) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// Hits returns how many requests reached path.
func (r *Remote) Hits(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[path]
}

// Queries returns the raw query strings of index requests, in order.
func (r *Remote) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

// MaxInFlight is the highest number of concurrent requests observed.
func (r *Remote) MaxInFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight
}

func (r *Remote) serve(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.hits[req.URL.Path]++
	delay := r.delay
	status := r.failures[req.URL.Path]
	isIndex := strings.HasPrefix(req.URL.Path, "/json/")
	if isIndex {
		r.queries = append(r.queries, req.URL.RawQuery)
	}
	body, ok := r.files[req.URL.Path]
	if isIndex {
		body, ok = r.indexes[req.URL.Path]
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return
		}
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, req)
		return
	}
	_, _ = w.Write(body)
}
