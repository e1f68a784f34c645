package download

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"hsdl/headspace"
	hshttp "hsdl/http"
)

// ErrNoTechniqueVideo is returned when a technique manifest has no MP4 rendition.
var ErrNoTechniqueVideo = errors.New("technique has no video rendition")

// Signer exchanges a media item id for a short-lived download URL.
type Signer interface {
	SignedURL(ctx context.Context, mediaItemID string) (string, error)
}

// SignedDownload is a named, signed media URL. It is used right away and
// never cached: the signature expires.
type SignedDownload struct {
	Name     string
	URL      string
	MimeType string
	// Minutes is the duration bucket, 0 for techniques.
	Minutes int
}

// DurationUnavailableError reports that none of the wanted durations exist
// for a session. The user can fix it with --duration.
type DurationUnavailableError struct {
	Title     string
	Wanted    []int
	Available []int
}

func (e *DurationUnavailableError) Error() string {
	return fmt.Sprintf("%q is not available in %s minutes; available: %s minutes",
		e.Title, joinInts(e.Wanted, ", "), joinInts(e.Available, "/"))
}

// Resolution is the result of matching a manifest against wanted durations.
type Resolution struct {
	Title     string
	Wanted    []int
	Downloads []SignedDownload
	// Available lists every duration bucket present, matched or not.
	Available []int
	// Matched counts media items whose bucket was wanted, signed or not.
	Matched int
	// SignErrors holds per-item signing failures that were skipped.
	SignErrors []error
}

// Unavailable returns a *DurationUnavailableError when no media item had a
// wanted duration, nil otherwise.
func (r Resolution) Unavailable() *DurationUnavailableError {
	if r.Matched > 0 {
		return nil
	}
	return &DurationUnavailableError{Title: r.Title, Wanted: r.Wanted, Available: r.Available}
}

// Resolver picks media items out of a manifest and signs their URLs.
type Resolver struct {
	signer Signer
	log    *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(signer Signer, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{signer: signer, log: log}
}

// Resolve signs one URL per media item whose duration bucket is wanted.
// Names carry a "(N minutes)" suffix when several durations are wanted. A
// failed signing request skips that item; auth failures and an open circuit
// are returned because no later request can succeed.
func (r *Resolver) Resolve(ctx context.Context, title string, items []headspace.MediaItem, wanted []int) (Resolution, error) {
	wanted = uniqueInts(wanted)
	wantedSet := make(map[int]bool, len(wanted))
	for _, d := range wanted {
		wantedSet[d] = true
	}

	res := Resolution{Title: title, Wanted: wanted}
	available := make(map[int]bool)
	names := make(map[string]bool)

	for _, item := range items {
		if !item.IsMedia() || !item.HasDuration {
			continue
		}

		bucket := Normalize(item.DurationMs)
		if !available[bucket] {
			available[bucket] = true
			res.Available = append(res.Available, bucket)
		}
		if !wantedSet[bucket] {
			continue
		}
		res.Matched++

		name := title
		if len(wanted) > 1 {
			name += fmt.Sprintf("(%d minutes)", bucket)
		}
		if names[name] {
			r.log.Debug("duplicate rendition skipped", zap.String("name", name), zap.String("media_item", item.ID))
			continue
		}

		signed, err := r.signer.SignedURL(ctx, item.ID)
		if err != nil {
			if hshttp.IsFatal(err) || ctx.Err() != nil {
				return res, err
			}
			r.log.Warn("signing failed, skipping media item",
				zap.String("title", title),
				zap.String("media_item", item.ID),
				zap.Error(err))
			res.SignErrors = append(res.SignErrors, err)
			continue
		}

		names[name] = true
		res.Downloads = append(res.Downloads, SignedDownload{
			Name:     name,
			URL:      signed,
			MimeType: item.MimeType,
			Minutes:  bucket,
		})
	}

	sort.Ints(res.Available)
	return res, nil
}

// ResolveTechnique signs the first MP4 rendition of a technique. Duration
// plays no part: techniques have exactly one video.
func (r *Resolver) ResolveTechnique(ctx context.Context, title string, items []headspace.MediaItem) (SignedDownload, error) {
	for _, item := range items {
		if !item.IsMedia() || item.MimeType != headspace.MimeTypeTechniqueMP4 {
			continue
		}
		signed, err := r.signer.SignedURL(ctx, item.ID)
		if err != nil {
			return SignedDownload{}, err
		}
		return SignedDownload{Name: title, URL: signed, MimeType: item.MimeType}, nil
	}
	return SignedDownload{}, fmt.Errorf("%s: %w", title, ErrNoTechniqueVideo)
}

func uniqueInts(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func joinInts(values []int, sep string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, sep)
}
