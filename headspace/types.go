package headspace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// JSON:API resource types the downloader cares about.
const (
	TypeMediaItem        = "mediaItems"
	TypeOrderedActivity  = "orderedActivities"
	TypeOrderedTechnique = "orderedTechniques"
	MimeTypeTechniqueMP4 = "video/mp4"
)

// Document is a JSON:API response with one primary resource.
type Document struct {
	Data     Resource   `json:"data"`
	Included []Resource `json:"included"`
}

// CollectionDocument is a JSON:API response with a list of primary resources.
type CollectionDocument struct {
	Data     []Resource `json:"data"`
	Included []Resource `json:"included"`
}

// Resource is one JSON:API resource object.
type Resource struct {
	ID            string                  `json:"id"`
	Type          string                  `json:"type"`
	Attributes    json.RawMessage         `json:"attributes"`
	Relationships map[string]Relationship `json:"relationships"`
}

// Relationship is a to-one JSON:API relationship.
type Relationship struct {
	Data *ResourceRef `json:"data"`
}

// ResourceRef identifies a related resource.
type ResourceRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Related returns the id of the named to-one relationship.
func (r Resource) Related(name string) (string, bool) {
	rel, ok := r.Relationships[name]
	if !ok || rel.Data == nil || rel.Data.ID == "" {
		return "", false
	}
	return rel.Data.ID, true
}

// contentAttributes covers activities, techniques, packs and the everyday banner.
type contentAttributes struct {
	Name        string `json:"name"`
	TitleText   string `json:"titleText"`
	Description string `json:"description"`
}

type mediaAttributes struct {
	MimeType     string          `json:"mimeType"`
	DurationInMs json.RawMessage `json:"durationInMs"`
}

// MediaKind distinguishes audio sessions from technique videos.
type MediaKind int

const (
	KindUnknown MediaKind = iota
	KindAudio
	KindVideo
)

func (k MediaKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// MediaItem is one entry of a content item's media manifest.
type MediaItem struct {
	ID           string
	ResourceType string
	MimeType     string
	DurationMs   int64
	HasDuration  bool
}

// Kind classifies the item by MIME type.
func (m MediaItem) Kind() MediaKind {
	switch {
	case strings.HasPrefix(m.MimeType, "audio/"):
		return KindAudio
	case strings.HasPrefix(m.MimeType, "video/"):
		return KindVideo
	default:
		return KindUnknown
	}
}

// IsMedia reports whether the manifest entry is a media item at all.
func (m MediaItem) IsMedia() bool {
	return m.ResourceType == TypeMediaItem
}

// Content is a playable item: a session, a technique or an everyday entry.
type Content struct {
	ID         string
	Name       string
	MediaItems []MediaItem
}

// EntryKind says whether a pack entry is a meditation session or a technique.
type EntryKind int

const (
	EntrySession EntryKind = iota
	EntryTechnique
)

// PackEntry is one ordered element of a pack.
type PackEntry struct {
	Kind EntryKind
	ID   string
}

// Pack holds the attributes of an activity group.
type Pack struct {
	ID          string
	Name        string
	Description string
	Entries     []PackEntry
}

// Sessions counts the meditation sessions in the pack.
func (p *Pack) Sessions() int {
	n := 0
	for _, e := range p.Entries {
		if e.Kind == EntrySession {
			n++
		}
	}
	return n
}

// decodeContent turns a manifest document into Content. Everyday banners
// carry titleText instead of name.
func decodeContent(doc *Document) (*Content, error) {
	var attrs contentAttributes
	if err := unmarshalAttributes(doc.Data, &attrs); err != nil {
		return nil, err
	}

	name := attrs.Name
	if name == "" {
		name = attrs.TitleText
	}

	content := &Content{ID: doc.Data.ID, Name: name}
	for _, res := range doc.Included {
		item := MediaItem{ID: res.ID, ResourceType: res.Type}
		if res.Type == TypeMediaItem {
			var media mediaAttributes
			if err := unmarshalAttributes(res, &media); err != nil {
				return nil, err
			}
			item.MimeType = media.MimeType
			item.DurationMs, item.HasDuration = parseMillis(media.DurationInMs)
		}
		content.MediaItems = append(content.MediaItems, item)
	}
	return content, nil
}

func decodePack(doc *Document) (*Pack, error) {
	var attrs contentAttributes
	if err := unmarshalAttributes(doc.Data, &attrs); err != nil {
		return nil, err
	}

	pack := &Pack{
		ID:          doc.Data.ID,
		Name:        attrs.Name,
		Description: attrs.Description,
	}
	for _, res := range doc.Included {
		switch res.Type {
		case TypeOrderedActivity:
			if id, ok := res.Related("activity"); ok {
				pack.Entries = append(pack.Entries, PackEntry{Kind: EntrySession, ID: id})
			}
		case TypeOrderedTechnique:
			if id, ok := res.Related("technique"); ok {
				pack.Entries = append(pack.Entries, PackEntry{Kind: EntryTechnique, ID: id})
			}
		}
	}
	return pack, nil
}

func unmarshalAttributes(res Resource, v interface{}) error {
	if len(res.Attributes) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Attributes, v); err != nil {
		return fmt.Errorf("decode %s %s attributes: %w", res.Type, res.ID, err)
	}
	return nil
}

// parseMillis accepts durationInMs as a JSON number or numeric string.
func parseMillis(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	s := strings.Trim(string(raw), `"`)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

// FlexibleID decodes an identifier sent either as a JSON number or a string.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", b)
	}
	*id = FlexibleID(n.String())
	return nil
}

// Int parses the id as an integer.
func (id FlexibleID) Int() (int, error) {
	return strconv.Atoi(string(id))
}
