// Package providertest provides a scripted provider.Adapter for tests.
package providertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/creatorscout/searchjobs/pkg/provider"
	"github.com/creatorscout/searchjobs/pkg/types"
)

// Response is one scripted reply.
type Response struct {
	Page *provider.Page
	Err  error
}

// Adapter replays scripted responses in order and repeats the last one.
type Adapter struct {
	name     string
	platform types.Platform

	mu        sync.Mutex
	responses []Response
	calls     []provider.Request
}

var _ provider.Adapter = (*Adapter)(nil)

func New(name string, platform types.Platform, responses ...Response) *Adapter {
	return &Adapter{name: name, platform: platform, responses: responses}
}

func (a *Adapter) Name() string             { return a.name }
func (a *Adapter) Platform() types.Platform { return a.platform }

// Push appends scripted responses.
func (a *Adapter) Push(responses ...Response) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses = append(a.responses, responses...)
}

func (a *Adapter) Search(ctx context.Context, req provider.Request) (*provider.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(a.responses) == 0 {
		return &provider.Page{}, nil
	}
	r := a.responses[0]
	if len(a.responses) > 1 {
		a.responses = a.responses[1:]
	}
	return r.Page, r.Err
}

// Calls returns the requests seen so far.
func (a *Adapter) Calls() []provider.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]provider.Request(nil), a.calls...)
}

type item struct {
	Handle    string `json:"handle"`
	Name      string `json:"name"`
	Followers int64  `json:"followers"`
}

func (a *Adapter) Normalize(raw json.RawMessage) (types.Creator, error) {
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		return types.Creator{}, err
	}
	if it.Handle == "" {
		return types.Creator{}, provider.ErrMissingHandle
	}
	return types.Creator{
		Platform:    a.platform,
		Handle:      it.Handle,
		DisplayName: it.Name,
		Followers:   it.Followers,
		Source:      a.name,
	}, nil
}

// Items builds n raw items with handles prefix-0 .. prefix-(n-1).
func Items(prefix string, n int) []json.RawMessage {
	out := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		b, _ := json.Marshal(item{Handle: fmt.Sprintf("%s-%d", prefix, i), Followers: int64(i * 100)})
		out = append(out, b)
	}
	return out
}

// PageOf is a convenience for a successful page.
func PageOf(prefix string, n int, hasMore bool, next string) Response {
	return Response{Page: &provider.Page{Items: Items(prefix, n), HasMore: hasMore, NextCursor: next}}
}

// Fail is a convenience for an error response.
func Fail(err error) Response {
	return Response{Err: err}
}
