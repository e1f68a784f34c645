package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"hsdl/headspace"
	hshttp "hsdl/http"
)

var fakeMP3 = append([]byte{0xFF, 0xFB, 0x90, 0x64}, bytes.Repeat([]byte{0}, 4096)...)

type fakeAPI struct {
	mediaURL    string
	activities  map[string]*headspace.Content
	techniques  map[string]*headspace.Content
	packs       map[string]*headspace.Pack
	legacy      map[int]int
	everyday    map[string]*headspace.Content
	activityErr error
	packCalls   []string
	signCalls   []string
}

func (f *fakeAPI) SignedURL(ctx context.Context, id string) (string, error) {
	f.signCalls = append(f.signCalls, id)
	return f.mediaURL + "/" + id + "?Signature=s", nil
}

func (f *fakeAPI) Activity(ctx context.Context, id string) (*headspace.Content, error) {
	if f.activityErr != nil {
		return nil, f.activityErr
	}
	if c, ok := f.activities[id]; ok {
		return c, nil
	}
	return nil, &hshttp.TransportError{StatusCode: 404}
}

func (f *fakeAPI) Technique(ctx context.Context, id string) (*headspace.Content, error) {
	if c, ok := f.techniques[id]; ok {
		return c, nil
	}
	return nil, &hshttp.TransportError{StatusCode: 404}
}

func (f *fakeAPI) Pack(ctx context.Context, id string) (*headspace.Pack, error) {
	f.packCalls = append(f.packCalls, id)
	if p, ok := f.packs[id]; ok {
		return p, nil
	}
	return nil, &hshttp.TransportError{StatusCode: 404}
}

func (f *fakeAPI) PackIDs(ctx context.Context) ([]int, error) {
	var ids []int
	for id := range f.packs {
		n, _ := strconv.Atoi(id)
		ids = append(ids, n)
	}
	sort.Ints(ids)
	return ids, nil
}

func (f *fakeAPI) LegacyID(ctx context.Context, contentID int) (int, error) {
	if id, ok := f.legacy[contentID]; ok {
		return id, nil
	}
	return 0, &hshttp.TransportError{StatusCode: 404}
}

func (f *fakeAPI) Everyday(ctx context.Context, date time.Time) (*headspace.Content, error) {
	if c, ok := f.everyday[date.Format("2006-01-02")]; ok {
		return c, nil
	}
	return nil, &hshttp.TransportError{StatusCode: 404}
}

func session(id, name string, minutes ...int) *headspace.Content {
	c := &headspace.Content{ID: id, Name: name}
	for i, m := range minutes {
		c.MediaItems = append(c.MediaItems, audio(fmt.Sprintf("%s-m%d", id, i), int64(m)*60000))
	}
	return c
}

func technique(id, name string) *headspace.Content {
	return &headspace.Content{ID: id, Name: name, MediaItems: []headspace.MediaItem{
		{ID: id + "-v", ResourceType: headspace.TypeMediaItem, MimeType: "video/mp4"},
	}}
}

func newMediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(fakeMP3)))
		w.Write(fakeMP3)
	}))
	t.Cleanup(server.Close)
	return server
}

func newBasicsAPI(mediaURL string) *fakeAPI {
	return &fakeAPI{
		mediaURL: mediaURL,
		activities: map[string]*headspace.Content{
			"101": session("101", "Session 1 of Level 1", 3, 10, 15),
			"102": session("102", "Session 2 of Level 1", 10, 15, 20),
		},
		techniques: map[string]*headspace.Content{
			"9": technique("9", "Noting"),
		},
		packs: map[string]*headspace.Pack{
			"42": {ID: "42", Name: "Basics | Level 1", Description: "Start here", Entries: []headspace.PackEntry{
				{Kind: headspace.EntrySession, ID: "101"},
				{Kind: headspace.EntryTechnique, ID: "9"},
				{Kind: headspace.EntrySession, ID: "102"},
			}},
		},
		legacy: map[int]int{151: 42},
	}
}

func newTestPipeline(t *testing.T, api API, root string, durations ...int) (*Pipeline, *bytes.Buffer) {
	t.Helper()
	var status bytes.Buffer
	p := New(Config{
		API:       api,
		Fetcher:   NewFetcher(newStreamer(t), FetcherConfig{}),
		Paths:     &PathResolver{Root: root},
		Durations: durations,
		Status:    &status,
	})
	return p, &status
}

func TestPipelinePack(t *testing.T) {
	media := newMediaServer(t)
	api := newBasicsAPI(media.URL)
	root := t.TempDir()
	p, status := newTestPipeline(t, api, root, 10)

	if err := p.PackByContentID(context.Background(), 151, PackOptions{}); err != nil {
		t.Fatalf("PackByContentID() error = %v", err)
	}

	packDir := filepath.Join(root, "Basics - Level 1")
	for _, path := range []string{
		filepath.Join(packDir, "Level 1", "Session 1 of Level 1.mp3"),
		filepath.Join(packDir, "Level 1", "Session 2 of Level 1.mp3"),
		filepath.Join(packDir, "Techniques", "Noting.mp4"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing %s: %v", path, err)
		}
	}

	tag := readTag(t, filepath.Join(packDir, "Level 1", "Session 2 of Level 1.mp3"))
	if tag.Album() != "Basics - Level 1" {
		t.Errorf("Album() = %q", tag.Album())
	}
	if got := tag.GetTextFrame(tag.CommonID("Track number/Position in set")).Text; got != "2/2" {
		t.Errorf("track = %q, want 2/2", got)
	}

	summary := p.Summary()
	if summary.Downloaded != 3 || summary.Failed != 0 || summary.Bytes != int64(3*len(fakeMP3)) {
		t.Errorf("summary = %+v", summary)
	}
	if !strings.Contains(status.String(), "Description: Start here") {
		t.Errorf("status output missing pack metadata:\n%s", status)
	}
}

func TestPipelinePackSecondRunSkips(t *testing.T) {
	media := newMediaServer(t)
	api := newBasicsAPI(media.URL)
	root := t.TempDir()

	first, _ := newTestPipeline(t, api, root, 10)
	if err := first.Pack(context.Background(), "42", PackOptions{}); err != nil {
		t.Fatal(err)
	}
	second, _ := newTestPipeline(t, api, root, 10)
	if err := second.Pack(context.Background(), "42", PackOptions{}); err != nil {
		t.Fatal(err)
	}
	if s := second.Summary(); s.Skipped != 3 || s.Downloaded != 0 {
		t.Errorf("second run summary = %+v, want everything skipped", s)
	}
}

func TestPipelinePackFilters(t *testing.T) {
	media := newMediaServer(t)
	api := newBasicsAPI(media.URL)
	root := t.TempDir()
	p, _ := newTestPipeline(t, api, root, 10)

	if err := p.Pack(context.Background(), "42", PackOptions{NoMeditation: true}); err != nil {
		t.Fatal(err)
	}
	if s := p.Summary(); s.Downloaded != 1 {
		t.Errorf("summary = %+v, want only the technique", s)
	}
	if _, err := os.Stat(filepath.Join(root, "Basics - Level 1", "Level 1")); !os.IsNotExist(err) {
		t.Error("session directory created with NoMeditation")
	}
}

func TestPipelineUnavailableDuration(t *testing.T) {
	media := newMediaServer(t)
	api := newBasicsAPI(media.URL)
	p, status := newTestPipeline(t, api, t.TempDir(), 30)

	if err := p.Session(context.Background(), "101", Item{PackName: "Basics"}); err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if s := p.Summary(); s.Unavailable != 1 || s.Downloaded != 0 {
		t.Errorf("summary = %+v", s)
	}
	if !strings.Contains(status.String(), "3/10/15") {
		t.Errorf("status does not list available durations:\n%s", status)
	}
	if len(api.signCalls) != 0 {
		t.Errorf("signed %v for unavailable duration", api.signCalls)
	}
}

func TestPipelineAuthErrorAbortsRun(t *testing.T) {
	media := newMediaServer(t)
	api := newBasicsAPI(media.URL)
	api.packs["43"] = &headspace.Pack{ID: "43", Name: "Sleep", Entries: []headspace.PackEntry{{Kind: headspace.EntrySession, ID: "101"}}}
	api.activityErr = &hshttp.AuthError{StatusCode: 401}
	p, _ := newTestPipeline(t, api, t.TempDir(), 10)

	err := p.AllPacks(context.Background(), nil, PackOptions{})
	if !errors.Is(err, hshttp.ErrUnauthorized) {
		t.Fatalf("AllPacks() error = %v, want ErrUnauthorized", err)
	}
	if len(api.packCalls) != 1 {
		t.Errorf("fetched packs %v after auth failure", api.packCalls)
	}
}

func TestPipelineItemErrorContinues(t *testing.T) {
	media := newMediaServer(t)
	api := newBasicsAPI(media.URL)
	delete(api.activities, "101")
	p, _ := newTestPipeline(t, api, t.TempDir(), 10)

	if err := p.Pack(context.Background(), "42", PackOptions{}); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if s := p.Summary(); s.Failed != 1 || s.Downloaded != 2 {
		t.Errorf("summary = %+v, want 1 failed and 2 downloaded", s)
	}
}

func TestPipelineAllPacksExcludeAndSkipExisting(t *testing.T) {
	media := newMediaServer(t)
	api := newBasicsAPI(media.URL)
	api.packs["43"] = &headspace.Pack{ID: "43", Name: "Sleep", Entries: []headspace.PackEntry{{Kind: headspace.EntrySession, ID: "102"}}}
	api.packs["44"] = &headspace.Pack{ID: "44", Name: "Focus", Entries: []headspace.PackEntry{{Kind: headspace.EntryTechnique, ID: "9"}}}
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Focus"), 0o755); err != nil {
		t.Fatal(err)
	}
	p, _ := newTestPipeline(t, api, root, 10)

	if err := p.AllPacks(context.Background(), []int{151}, PackOptions{}); err != nil {
		t.Fatalf("AllPacks() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "Basics - Level 1")); !os.IsNotExist(err) {
		t.Error("excluded pack was downloaded")
	}
	if _, err := os.Stat(filepath.Join(root, "Sleep", "Level 1", "Session 2 of Level 1.mp3")); err != nil {
		t.Errorf("Sleep pack missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "Focus", "Techniques")); !os.IsNotExist(err) {
		t.Error("existing pack directory was not skipped")
	}
}

func TestPipelinePlayerItem(t *testing.T) {
	media := newMediaServer(t)
	api := newBasicsAPI(media.URL)
	root := t.TempDir()
	p, _ := newTestPipeline(t, api, root, 10, 15)

	if err := p.PlayerItem(context.Background(), headspace.PlayerRef{PackID: 42, StartIndex: 2}); err != nil {
		t.Fatalf("PlayerItem() error = %v", err)
	}
	for _, name := range []string{
		"Session 2 of Level 1(10 minutes) - Basics - Level 1.mp3",
		"Session 2 of Level 1(15 minutes) - Basics - Level 1.mp3",
	} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}

	if err := p.PlayerItem(context.Background(), headspace.PlayerRef{PackID: 42, StartIndex: 1}); err != nil {
		t.Fatalf("PlayerItem(technique) error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "Noting - Basics - Level 1.mp4")); err != nil {
		t.Errorf("startIndex 1 should select the technique entry: %v", err)
	}

	err := p.PlayerItem(context.Background(), headspace.PlayerRef{PackID: 42, StartIndex: 3})
	if !errors.Is(err, ErrStartIndex) {
		t.Errorf("error = %v, want ErrStartIndex", err)
	}
}

func TestPipelineEveryday(t *testing.T) {
	media := newMediaServer(t)
	api := newBasicsAPI(media.URL)
	api.everyday = map[string]*headspace.Content{
		"2021-03-01": session("e1", "Acceptance", 10),
		"2021-03-03": session("e3", "Gratitude", 10),
	}
	root := t.TempDir()
	p, _ := newTestPipeline(t, api, root, 10)

	from := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2021, 3, 3, 0, 0, 0, 0, time.UTC)
	if err := p.Everyday(context.Background(), from, to); err != nil {
		t.Fatalf("Everyday() error = %v", err)
	}
	for _, name := range []string{"Acceptance.mp3", "Gratitude.mp3"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if s := p.Summary(); s.Downloaded != 2 || s.Failed != 1 {
		t.Errorf("summary = %+v, want 2 downloaded and the missing day failed", s)
	}
}

func TestPipelineTagErrorKeepsDownload(t *testing.T) {
	body := []byte("this is not an mpeg stream")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	t.Cleanup(server.Close)

	api := newBasicsAPI(server.URL)
	root := t.TempDir()
	p, status := newTestPipeline(t, api, root, 10)

	if err := p.Session(context.Background(), "101", Item{}); err != nil {
		t.Fatalf("Session() error = %v", err)
	}

	path := filepath.Join(root, "Session 1 of Level 1.mp3")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("download should be kept: %v", err)
	}
	if !bytes.Equal(data, body) {
		t.Errorf("file content = %q, want the downloaded body", data)
	}

	s := p.Summary()
	if s.Downloaded != 1 || s.TagErrors != 1 || s.Failed != 0 {
		t.Errorf("summary = %+v, want 1 downloaded, 1 tag error, 0 failed", s)
	}
	if !strings.Contains(status.String(), ErrUnsupportedContainer.Error()) {
		t.Errorf("status output does not report the tag error:\n%s", status.String())
	}
}
