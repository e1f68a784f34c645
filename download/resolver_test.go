package download

import (
	"context"
	"errors"
	"strings"
	"testing"

	"hsdl/headspace"
	hshttp "hsdl/http"
)

type fakeSigner struct {
	urls  map[string]string
	errs  map[string]error
	calls []string
}

func (s *fakeSigner) SignedURL(ctx context.Context, id string) (string, error) {
	s.calls = append(s.calls, id)
	if err := s.errs[id]; err != nil {
		return "", err
	}
	if u, ok := s.urls[id]; ok {
		return u, nil
	}
	return "https://cdn.example.com/" + id, nil
}

func audio(id string, ms int64) headspace.MediaItem {
	return headspace.MediaItem{ID: id, ResourceType: headspace.TypeMediaItem, MimeType: "audio/mpeg", DurationMs: ms, HasDuration: true}
}

func TestResolveSingleDurationNoSuffix(t *testing.T) {
	signer := &fakeSigner{}
	r := NewResolver(signer, nil)

	res, err := r.Resolve(context.Background(), "Letting Go", []headspace.MediaItem{audio("m1", 950000)}, []int{15})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(res.Downloads) != 1 {
		t.Fatalf("Downloads = %+v, want one", res.Downloads)
	}
	if res.Downloads[0].Name != "Letting Go" {
		t.Errorf("Name = %q, want bare title", res.Downloads[0].Name)
	}
	if res.Downloads[0].URL != "https://cdn.example.com/m1" || res.Downloads[0].MimeType != "audio/mpeg" {
		t.Errorf("download = %+v", res.Downloads[0])
	}
	if res.Unavailable() != nil {
		t.Error("Unavailable() should be nil when something matched")
	}
}

func TestResolveFourteenFiftyIsTenMinuteBucket(t *testing.T) {
	signer := &fakeSigner{}
	r := NewResolver(signer, nil)

	items := []headspace.MediaItem{audio("m1", 890000)}
	res, err := r.Resolve(context.Background(), "Focus", items, []int{10})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(res.Downloads) != 1 || res.Downloads[0].Name != "Focus" || res.Downloads[0].Minutes != 10 {
		t.Errorf("Downloads = %+v", res.Downloads)
	}
}

func TestResolveMultipleDurationsDistinctNames(t *testing.T) {
	signer := &fakeSigner{}
	r := NewResolver(signer, nil)

	items := []headspace.MediaItem{audio("m10", 600000), audio("m15", 900000), audio("m20", 1200000)}
	res, err := r.Resolve(context.Background(), "Breathe", items, []int{10, 15})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(res.Downloads) != 2 {
		t.Fatalf("Downloads = %+v, want two", res.Downloads)
	}
	a, b := res.Downloads[0].Name, res.Downloads[1].Name
	if a == b {
		t.Fatalf("names collide: %q", a)
	}
	if !strings.Contains(a, "10") || !strings.Contains(b, "15") {
		t.Errorf("names = %q, %q; want minute counts", a, b)
	}
	if a != "Breathe(10 minutes)" {
		t.Errorf("name = %q", a)
	}
	if len(signer.calls) != 2 {
		t.Errorf("signed %v, want only wanted buckets", signer.calls)
	}
	if got := res.Available; len(got) != 3 || got[0] != 10 || got[1] != 15 || got[2] != 20 {
		t.Errorf("Available = %v", got)
	}
}

func TestResolveSkipsNonMediaAndMissingDuration(t *testing.T) {
	signer := &fakeSigner{}
	r := NewResolver(signer, nil)

	items := []headspace.MediaItem{
		{ID: "n1", ResourceType: "narrators"},
		{ID: "m0", ResourceType: headspace.TypeMediaItem, MimeType: "image/png"},
		audio("m1", 300000),
	}
	res, err := r.Resolve(context.Background(), "Short", items, []int{5})
	if err != nil {
		t.Fatal(err)
	}
	if len(signer.calls) != 1 || signer.calls[0] != "m1" {
		t.Errorf("signed %v, want [m1]", signer.calls)
	}
	if len(res.Downloads) != 1 {
		t.Errorf("Downloads = %+v", res.Downloads)
	}
}

func TestResolveUnavailableListsDurations(t *testing.T) {
	signer := &fakeSigner{}
	r := NewResolver(signer, nil)

	items := []headspace.MediaItem{audio("m3", 180000), audio("m10", 600000)}
	res, err := r.Resolve(context.Background(), "Sleep", items, []int{20})
	if err != nil {
		t.Fatal(err)
	}
	if len(signer.calls) != 0 {
		t.Errorf("signed %v, want nothing", signer.calls)
	}

	unavailable := res.Unavailable()
	if unavailable == nil {
		t.Fatal("Unavailable() = nil")
	}
	if len(unavailable.Available) != 2 || unavailable.Available[0] != 3 || unavailable.Available[1] != 10 {
		t.Errorf("Available = %v", unavailable.Available)
	}
	if msg := unavailable.Error(); !strings.Contains(msg, "3/10") || !strings.Contains(msg, "20") {
		t.Errorf("Error() = %q", msg)
	}
}

func TestResolveSigningFailureSkipsItem(t *testing.T) {
	signer := &fakeSigner{errs: map[string]error{
		"m10": &hshttp.TransportError{StatusCode: 404},
	}}
	r := NewResolver(signer, nil)

	items := []headspace.MediaItem{audio("m10", 600000), audio("m15", 900000)}
	res, err := r.Resolve(context.Background(), "Pack", items, []int{10, 15})
	if err != nil {
		t.Fatalf("Resolve() error = %v, want item-level failure only", err)
	}
	if len(res.Downloads) != 1 || res.Downloads[0].Minutes != 15 {
		t.Errorf("Downloads = %+v", res.Downloads)
	}
	if len(res.SignErrors) != 1 {
		t.Errorf("SignErrors = %v", res.SignErrors)
	}
	if res.Unavailable() != nil {
		t.Error("a matched but unsigned item is not an unavailable duration")
	}
}

func TestResolveAuthFailurePropagates(t *testing.T) {
	signer := &fakeSigner{errs: map[string]error{
		"m1": &hshttp.AuthError{StatusCode: 401},
	}}
	r := NewResolver(signer, nil)

	_, err := r.Resolve(context.Background(), "Pack", []headspace.MediaItem{audio("m1", 600000), audio("m2", 600000)}, []int{10})
	if !errors.Is(err, hshttp.ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if len(signer.calls) != 1 {
		t.Errorf("kept signing after auth failure: %v", signer.calls)
	}
}

func TestResolveTechnique(t *testing.T) {
	signer := &fakeSigner{}
	r := NewResolver(signer, nil)

	items := []headspace.MediaItem{
		audio("a1", 60000),
		{ID: "v1", ResourceType: headspace.TypeMediaItem, MimeType: "video/mp4"},
		{ID: "v2", ResourceType: headspace.TypeMediaItem, MimeType: "video/mp4"},
	}
	dl, err := r.ResolveTechnique(context.Background(), "Noting", items)
	if err != nil {
		t.Fatalf("ResolveTechnique() error = %v", err)
	}
	if dl.Name != "Noting" || dl.URL != "https://cdn.example.com/v1" {
		t.Errorf("download = %+v", dl)
	}

	if _, err := r.ResolveTechnique(context.Background(), "None", items[:1]); !errors.Is(err, ErrNoTechniqueVideo) {
		t.Errorf("error = %v, want ErrNoTechniqueVideo", err)
	}
}
