// Package replay implements a regression harness for a previously
// compiled ActionGraph: it replays the graph against a fixed set of
// recorded HTTP interactions instead of a live target, so a change to a
// step generator or the engine can be checked against yesterday's
// findings without needing the original target back online.
//
// Grounded on the teacher project's replay_demo pattern of recording and
// replaying external I/O deterministically, adapted from a generic
// node/state workflow to this domain's HTTP_REQUEST steps.
package replay

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Interaction is one recorded request/response pair, matched by method
// and path (query string included) against requests the engine issues
// during replay.
type Interaction struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Headers    map[string]string
}

// Fixture is an ordered set of recorded Interactions for one target. The
// same Method+Path may appear more than once (e.g. a login endpoint
// called once per repair round); RoundTrip consumes them in recorded
// order on repeated matches.
type Fixture struct {
	mu     sync.Mutex
	byKey  map[string][]Interaction
	cursor map[string]int
}

// NewFixture builds a Fixture from a recorded interaction list.
func NewFixture(interactions []Interaction) *Fixture {
	f := &Fixture{byKey: make(map[string][]Interaction), cursor: make(map[string]int)}
	for _, it := range interactions {
		key := fixtureKey(it.Method, it.Path)
		f.byKey[key] = append(f.byKey[key], it)
	}
	return f
}

func fixtureKey(method, path string) string {
	return method + " " + path
}

// ErrNoRecordedInteraction is returned when replay encounters a request
// the fixture has no recording for.
var ErrNoRecordedInteraction = fmt.Errorf("replay: no recorded interaction for request")

// RoundTrip implements http.RoundTripper by answering each request from
// the fixture's recorded interactions, in the order they were recorded,
// without any network I/O.
func (f *Fixture) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}
	key := fixtureKey(req.Method, path)
	recorded := f.byKey[key]
	i := f.cursor[key]
	if i >= len(recorded) {
		return nil, fmt.Errorf("%w: %s", ErrNoRecordedInteraction, key)
	}
	f.cursor[key] = i + 1
	it := recorded[i]

	header := make(http.Header, len(it.Headers))
	for k, v := range it.Headers {
		header.Set(k, v)
	}
	return &http.Response{
		StatusCode: it.StatusCode,
		Status:     http.StatusText(it.StatusCode),
		Header:     header,
		Body:       io.NopCloser(bytes.NewBufferString(it.Body)),
		Request:    req,
	}, nil
}

// Client returns an *http.Client whose Transport is f, for handlers built
// with httpstep.NewWithClient to replay against instead of the network.
func (f *Fixture) Client() *http.Client {
	return &http.Client{Transport: f}
}

// Exhausted reports whether every recorded interaction in the fixture was
// consumed -- useful in a regression test asserting a replayed run didn't
// skip a step the recording expected it to take.
func (f *Fixture) Exhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, recorded := range f.byKey {
		if f.cursor[key] < len(recorded) {
			return false
		}
	}
	return true
}
