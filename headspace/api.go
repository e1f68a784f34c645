// Package headspace is a typed client for the parts of the Headspace content
// API the downloader needs: session, technique and pack manifests, signed
// media URLs and catalog listings.
package headspace

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.prod.headspace.com"

const (
	activityPath    = "/content/activities/%s"
	techniquePath   = "/content/techniques/%s"
	packPath        = "/content/activity-groups/%s"
	signPath        = "/content/media-items/%s/make-signed-url"
	collectionsPath = "/content/group-collections"
	everydayPath    = "/content/view-models/everyday-headspace-banner"
	skeletonPath    = "/content-aggregation/v2/content/view-models/content-info/skeleton"

	dateLayout = "2006-01-02"
)

// ErrNoSignedURL is returned when the signing endpoint answers without a URL.
var ErrNoSignedURL = errors.New("signing response has no url")

// Requester performs an authenticated API GET and decodes JSON into v.
// *http.Client from hsdl/http implements it.
type Requester interface {
	GetJSON(ctx context.Context, url string, params url.Values, v interface{}) error
}

// Client talks to the Headspace content API.
type Client struct {
	requester Requester
	baseURL   string
	userID    string
}

// Config configures a Client.
type Config struct {
	// BaseURL overrides DefaultBaseURL.
	BaseURL string
	// UserID is the hsId from the bearer token; some view-model endpoints need it.
	UserID string
}

// NewClient creates a Client on top of r.
func NewClient(r Requester, cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{requester: r, baseURL: base, userID: cfg.UserID}
}

// Activity fetches the manifest of a meditation session.
func (c *Client) Activity(ctx context.Context, id string) (*Content, error) {
	var doc Document
	if err := c.get(ctx, fmt.Sprintf(activityPath, url.PathEscape(id)), nil, &doc); err != nil {
		return nil, fmt.Errorf("fetch activity %s: %w", id, err)
	}
	return decodeContent(&doc)
}

// Technique fetches the manifest of a technique video.
func (c *Client) Technique(ctx context.Context, id string) (*Content, error) {
	var doc Document
	if err := c.get(ctx, fmt.Sprintf(techniquePath, url.PathEscape(id)), nil, &doc); err != nil {
		return nil, fmt.Errorf("fetch technique %s: %w", id, err)
	}
	return decodeContent(&doc)
}

// Pack fetches a pack's attributes and its ordered sessions and techniques.
func (c *Client) Pack(ctx context.Context, id string) (*Pack, error) {
	var doc Document
	if err := c.get(ctx, fmt.Sprintf(packPath, url.PathEscape(id)), nil, &doc); err != nil {
		return nil, fmt.Errorf("fetch pack %s: %w", id, err)
	}
	return decodePack(&doc)
}

// SignedURL exchanges a media item id for a short-lived download URL.
func (c *Client) SignedURL(ctx context.Context, mediaItemID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.get(ctx, fmt.Sprintf(signPath, url.PathEscape(mediaItemID)), nil, &out); err != nil {
		return "", fmt.Errorf("sign media item %s: %w", mediaItemID, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("sign media item %s: %w", mediaItemID, ErrNoSignedURL)
	}
	return out.URL, nil
}

// PackIDs lists every pack in the catalog, sorted ascending.
func (c *Client) PackIDs(ctx context.Context) ([]int, error) {
	var doc CollectionDocument
	params := url.Values{"category": {"PACK_GROUP"}, "limit": {"-1"}}
	if err := c.get(ctx, collectionsPath, params, &doc); err != nil {
		return nil, fmt.Errorf("list packs: %w", err)
	}

	seen := make(map[int]bool)
	var ids []int
	for _, res := range doc.Included {
		raw, ok := res.Related("activityGroup")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(raw)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// LegacyID maps the content id shown in my.headspace.com URLs to the
// activity-group id the content endpoints expect.
func (c *Client) LegacyID(ctx context.Context, contentID int) (int, error) {
	var out struct {
		EntityID FlexibleID `json:"entityId"`
	}
	params := url.Values{"contentId": {strconv.Itoa(contentID)}, "userId": {c.userID}}
	if err := c.get(ctx, skeletonPath, params, &out); err != nil {
		return 0, fmt.Errorf("resolve content id %d: %w", contentID, err)
	}
	id, err := out.EntityID.Int()
	if err != nil {
		return 0, fmt.Errorf("resolve content id %d: bad entity id %q", contentID, out.EntityID)
	}
	return id, nil
}

// Everyday fetches the everyday-headspace session for one date.
func (c *Client) Everyday(ctx context.Context, date time.Time) (*Content, error) {
	var doc Document
	params := url.Values{"date": {date.Format(dateLayout)}, "userId": {c.userID}}
	if err := c.get(ctx, everydayPath, params, &doc); err != nil {
		return nil, fmt.Errorf("fetch everyday session for %s: %w", date.Format(dateLayout), err)
	}
	return decodeContent(&doc)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, v interface{}) error {
	return c.requester.GetJSON(ctx, c.baseURL+path, params, v)
}
