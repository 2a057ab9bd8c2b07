package models_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
)

// fakeUpstream stands in for the SimplERP API and counts calls per route.
type fakeUpstream struct {
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	calls  map[string]int
	server *httptest.Server
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{
		routes: make(map[string]http.HandlerFunc),
		calls:  make(map[string]int),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	upstream.SetDefault(upstream.NewClient(f.server.URL, 2*time.Second, 0))
	config.SetRedisDB(nil)
	config.SetDB(nil)
	t.Cleanup(func() {
		f.server.Close()
		upstream.SetDefault(nil)
	})
	return f
}

func (f *fakeUpstream) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.calls[key]++
	h, ok := f.routes[key]
	f.mu.Unlock()
	if !ok {
		http.Error(w, `{"message":"no route `+key+`"}`, http.StatusNotFound)
		return
	}
	h(w, r)
}

func (f *fakeUpstream) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeUpstream) respond(method, path string, status int, body string) {
	f.handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func (f *fakeUpstream) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+" "+path]
}

func (f *fakeUpstream) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}
