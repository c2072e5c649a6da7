package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/creatorscout/searchjobs/pkg/types"
)

// ErrMissingHandle is returned by Normalize for items without a usable handle.
var ErrMissingHandle = errors.New("item has no creator handle")

// FieldMap holds the gjson paths that lift one provider item into a types.Creator.
type FieldMap struct {
	Handle string
	// HandleFromURL treats the Handle value as a profile URL and takes its
	// first path segment.
	HandleFromURL    bool
	DisplayName      string
	Followers        string
	ProfileURL       string
	ProfileURLFormat string
	AvatarURL        string
	MediaURL         string
	MediaThumbnail   string
	MediaCaption     string
	Stats            map[string]string
}

// Definition declares one HTTP-backed adapter.
type Definition struct {
	Name     string
	Platform types.Platform
	Method   string
	Path     string
	PageSize int

	Params func(req Request) url.Values
	Body   func(req Request) any

	// Items is the gjson path of the result array.
	Items      string
	NextCursor string
	HasMore    string
	// OffsetPaging makes the cursor a numeric offset advanced by the
	// number of items returned.
	OffsetPaging bool

	Fields FieldMap

	// BackoffStatuses are 4xx statuses this provider uses to signal
	// "no more results at this offset" or similar transient conditions.
	BackoffStatuses []int
}

// HTTPAdapter executes a Definition against a provider family client.
type HTTPAdapter struct {
	def    Definition
	client *Client
}

// NewHTTPAdapter binds a definition to a client.
func NewHTTPAdapter(def Definition, client *Client) *HTTPAdapter {
	if def.Method == "" {
		def.Method = http.MethodGet
	}
	if def.PageSize <= 0 {
		def.PageSize = 50
	}
	return &HTTPAdapter{def: def, client: client}
}

func (a *HTTPAdapter) Name() string             { return a.def.Name }
func (a *HTTPAdapter) Platform() types.Platform { return a.def.Platform }

// Search performs one provider call.
func (a *HTTPAdapter) Search(ctx context.Context, req Request) (*Page, error) {
	if req.Amount <= 0 || req.Amount > a.def.PageSize {
		req.Amount = a.def.PageSize
	}

	var params url.Values
	if a.def.Params != nil {
		params = a.def.Params(req)
	}
	var body any
	if a.def.Body != nil {
		body = a.def.Body(req)
	}

	raw, err := a.client.Do(ctx, a.def.Method, a.def.Path, params, body)
	if err != nil {
		return nil, a.classify(err)
	}

	if !gjson.ValidBytes(raw) {
		return nil, Recoverable(a.def.Name, fmt.Errorf("provider returned invalid JSON"))
	}
	doc := gjson.ParseBytes(raw)

	items := doc.Get(a.def.Items)
	if a.def.Items != "" && items.Exists() && !items.IsArray() {
		return nil, Unrecoverable(a.def.Name, fmt.Errorf("path %q is not an array", a.def.Items))
	}

	page := &Page{}
	for _, item := range items.Array() {
		page.Items = append(page.Items, json.RawMessage(item.Raw))
	}

	a.paginate(doc, req, page)
	return page, nil
}

func (a *HTTPAdapter) paginate(doc gjson.Result, req Request, page *Page) {
	if a.def.OffsetPaging {
		offset, _ := strconv.Atoi(req.Cursor)
		if len(page.Items) > 0 {
			page.NextCursor = strconv.Itoa(offset + len(page.Items))
		}
	} else if a.def.NextCursor != "" {
		page.NextCursor = doc.Get(a.def.NextCursor).String()
	}

	switch {
	case a.def.HasMore != "":
		page.HasMore = doc.Get(a.def.HasMore).Bool() && len(page.Items) > 0
	case a.def.OffsetPaging:
		page.HasMore = len(page.Items) >= req.Amount
	default:
		page.HasMore = page.NextCursor != "" && len(page.Items) > 0
	}
	if !page.HasMore {
		page.NextCursor = ""
	}
}

func (a *HTTPAdapter) classify(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return Classify(a.def.Name, err)
	}

	pe := &Error{Provider: a.def.Name, StatusCode: apiErr.StatusCode, Err: err}
	switch {
	case apiErr.StatusCode >= 500,
		apiErr.StatusCode == http.StatusRequestTimeout,
		apiErr.StatusCode == http.StatusTooEarly,
		apiErr.StatusCode == http.StatusTooManyRequests:
		pe.Kind = KindRecoverable
	case containsStatus(a.def.BackoffStatuses, apiErr.StatusCode):
		pe.Kind = KindRecoverable
	default:
		pe.Kind = KindUnrecoverable
	}
	return pe
}

func containsStatus(list []int, status int) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

// Normalize lifts one raw provider item into the creator result shape.
func (a *HTTPAdapter) Normalize(raw json.RawMessage) (types.Creator, error) {
	if !gjson.ValidBytes(raw) {
		return types.Creator{}, fmt.Errorf("invalid item JSON")
	}
	item := gjson.ParseBytes(raw)
	f := a.def.Fields

	handle := strings.TrimSpace(item.Get(f.Handle).String())
	if f.HandleFromURL {
		handle = handleFromURL(handle)
	}
	handle = strings.TrimPrefix(handle, "@")
	if handle == "" {
		return types.Creator{}, ErrMissingHandle
	}

	c := types.Creator{
		Platform:  a.def.Platform,
		Handle:    handle,
		Followers: item.Get(f.Followers).Int(),
		Source:    a.def.Name,
	}
	if f.DisplayName != "" {
		c.DisplayName = item.Get(f.DisplayName).String()
	}
	if f.ProfileURL != "" {
		c.ProfileURL = item.Get(f.ProfileURL).String()
	}
	if c.ProfileURL == "" && f.ProfileURLFormat != "" {
		c.ProfileURL = fmt.Sprintf(f.ProfileURLFormat, handle)
	}
	if f.AvatarURL != "" {
		c.AvatarURL = item.Get(f.AvatarURL).String()
	}
	if f.MediaURL != "" {
		if u := item.Get(f.MediaURL).String(); u != "" {
			c.Media = []types.MediaRef{{
				URL:          u,
				ThumbnailURL: item.Get(f.MediaThumbnail).String(),
				Caption:      item.Get(f.MediaCaption).String(),
			}}
		}
	}
	for name, path := range f.Stats {
		if v := item.Get(path); v.Exists() {
			if c.Stats == nil {
				c.Stats = make(map[string]int64, len(f.Stats))
			}
			c.Stats[name] = v.Int()
		}
	}
	return c, nil
}

func handleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			return seg
		}
	}
	return ""
}
