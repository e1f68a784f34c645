// Package download turns Headspace content ids into verified, tagged files
// on disk: it buckets durations, signs media URLs, streams them with
// integrity checks and lays them out by pack, level and kind.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"hsdl/headspace"
	hshttp "hsdl/http"
	"hsdl/internal/metrics"
)

// API is the part of the Headspace client the pipeline drives.
// *headspace.Client implements it.
type API interface {
	Signer
	Activity(ctx context.Context, id string) (*headspace.Content, error)
	Technique(ctx context.Context, id string) (*headspace.Content, error)
	Pack(ctx context.Context, id string) (*headspace.Pack, error)
	PackIDs(ctx context.Context) ([]int, error)
	LegacyID(ctx context.Context, contentID int) (int, error)
	Everyday(ctx context.Context, date time.Time) (*headspace.Content, error)
}

// Config configures a Pipeline.
type Config struct {
	API     API
	Fetcher *Fetcher
	Paths   *PathResolver
	// Durations are the wanted session lengths in minutes.
	Durations []int
	// Status receives human-readable progress. Nil discards it.
	Status  io.Writer
	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// Item places one session or technique on disk.
type Item struct {
	// PackName selects the pack directory. Empty puts the file in the root.
	PackName string
	// Album is written into the ID3 tag; the title is used when empty.
	Album string
	Track int
	Total int
	// Suffix is appended to the file name before the extension.
	Suffix string
}

// PackOptions filters what a pack download includes.
type PackOptions struct {
	NoMeditation bool
	NoTechniques bool
	// SkipExisting skips packs whose directory already exists.
	SkipExisting bool
}

// Summary counts what a run did.
type Summary struct {
	Downloaded  int
	Skipped     int
	Failed      int
	Unavailable int
	TagErrors   int
	Bytes       int64
}

func (s Summary) String() string {
	return fmt.Sprintf("%d downloaded (%s), %d skipped, %d failed, %d unavailable",
		s.Downloaded, humanize.IBytes(uint64(s.Bytes)), s.Skipped, s.Failed, s.Unavailable)
}

// Pipeline downloads sessions, techniques, packs and everyday sessions one
// item at a time. Per-item failures are reported and counted; only errors
// that doom every later request (bad credentials, open circuit) stop a run.
type Pipeline struct {
	api       API
	resolver  *Resolver
	fetcher   *Fetcher
	tagger    Tagger
	paths     *PathResolver
	durations []int
	status    io.Writer
	log       *zap.Logger
	metrics   *metrics.Recorder
	summary   Summary
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	status := cfg.Status
	if status == nil {
		status = io.Discard
	}
	paths := cfg.Paths
	if paths == nil {
		paths = &PathResolver{}
	}
	return &Pipeline{
		api:       cfg.API,
		resolver:  NewResolver(cfg.API, log),
		fetcher:   cfg.Fetcher,
		paths:     paths,
		durations: cfg.Durations,
		status:    status,
		log:       log,
		metrics:   cfg.Metrics,
	}
}

// Summary returns the counts so far.
func (p *Pipeline) Summary() Summary {
	return p.summary
}

// Session downloads every wanted duration of one meditation session.
func (p *Pipeline) Session(ctx context.Context, id string, item Item) error {
	content, err := p.api.Activity(ctx, id)
	if err != nil {
		return err
	}

	return p.saveContent(ctx, content, item)
}

// Technique downloads the video of one technique.
func (p *Pipeline) Technique(ctx context.Context, id string, item Item) error {
	content, err := p.api.Technique(ctx, id)
	if err != nil {
		return err
	}
	dl, err := p.resolver.ResolveTechnique(ctx, content.Name, content.MediaItems)
	if err != nil {
		return err
	}
	return p.save(ctx, dl, item, true)
}

// Pack downloads the sessions and techniques of one pack in order.
func (p *Pipeline) Pack(ctx context.Context, packID string, opts PackOptions) error {
	pack, err := p.api.Pack(ctx, packID)
	if err != nil {
		return err
	}
	name := strings.ReplaceAll(pack.Name, "|", "-")

	if opts.SkipExisting {
		if _, err := os.Stat(p.paths.PackDir(name)); err == nil {
			fmt.Fprintf(p.status, "%s already exists, skipping...\n", name)
			p.log.Info("pack directory exists, skipping", zap.String("pack", name))
			return nil
		}
	}

	p.log.Info("downloading pack", zap.String("pack", name), zap.String("pack_id", packID))
	fmt.Fprintf(p.status, "Pack metadata:\nName: %s\nDescription: %s\n", pack.Name, pack.Description)

	total := pack.Sessions()
	track := 0
	for _, entry := range pack.Entries {
		item := Item{PackName: name, Album: name}

		var err error
		switch entry.Kind {
		case headspace.EntrySession:
			track++
			if opts.NoMeditation {
				continue
			}
			item.Track, item.Total = track, total
			err = p.Session(ctx, entry.ID, item)
		case headspace.EntryTechnique:
			if opts.NoTechniques {
				continue
			}
			err = p.Technique(ctx, entry.ID, item)
		}

		if err != nil {
			if err := p.itemError(err, fmt.Sprintf("%s entry %s", name, entry.ID)); err != nil {
				return err
			}
		}
	}
	return nil
}

// PackByContentID downloads the pack behind a my.headspace.com content id.
func (p *Pipeline) PackByContentID(ctx context.Context, contentID int, opts PackOptions) error {
	packID, err := p.api.LegacyID(ctx, contentID)
	if err != nil {
		return err
	}
	return p.Pack(ctx, strconv.Itoa(packID), opts)
}

// AllPacks downloads every pack in the catalog except the excluded content
// ids. Packs whose directory exists are skipped.
func (p *Pipeline) AllPacks(ctx context.Context, excludeContentIDs []int, opts PackOptions) error {
	excluded := make(map[int]bool)
	for _, contentID := range excludeContentIDs {
		packID, err := p.api.LegacyID(ctx, contentID)
		if err != nil {
			if hshttp.IsFatal(err) {
				return err
			}
			p.report(err, "cannot resolve excluded pack", zap.Int("content_id", contentID))
			continue
		}
		excluded[packID] = true
	}

	ids, err := p.api.PackIDs(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(p.status, "Downloading all packs (%d)\n", len(ids))
	p.log.Info("downloading all packs", zap.Int("packs", len(ids)), zap.Int("excluded", len(excluded)))

	opts.SkipExisting = true
	for _, id := range ids {
		if excluded[id] {
			p.log.Info("pack excluded", zap.Int("pack_id", id))
			continue
		}
		if err := p.Pack(ctx, strconv.Itoa(id), opts); err != nil {
			if err := p.itemError(err, fmt.Sprintf("pack %d", id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ErrStartIndex is returned when a player URL points past the end of a pack.
var ErrStartIndex = errors.New("startIndex is out of range")

// PlayerItem downloads the single session or technique a player URL points
// at into the output root, named "<title> - <pack name>".
func (p *Pipeline) PlayerItem(ctx context.Context, ref headspace.PlayerRef) error {
	pack, err := p.api.Pack(ctx, strconv.Itoa(ref.PackID))
	if err != nil {
		return err
	}
	if ref.StartIndex < 0 || ref.StartIndex >= len(pack.Entries) {
		return fmt.Errorf("pack %d has %d entries: %w", ref.PackID, len(pack.Entries), ErrStartIndex)
	}

	entry := pack.Entries[ref.StartIndex]
	item := Item{Album: pack.Name, Suffix: " - " + pack.Name}
	if entry.Kind == headspace.EntryTechnique {
		return p.Technique(ctx, entry.ID, item)
	}
	return p.Session(ctx, entry.ID, item)
}

// Everyday downloads the everyday session of each date from from to to,
// both inclusive.
func (p *Pipeline) Everyday(ctx context.Context, from, to time.Time) error {
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if err := p.everyday(ctx, day); err != nil {
			if err := p.itemError(err, "everyday "+day.Format("2006-01-02")); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) everyday(ctx context.Context, day time.Time) error {
	content, err := p.api.Everyday(ctx, day)
	if err != nil {
		return err
	}

	return p.saveContent(ctx, content, Item{})
}

// saveContent downloads every wanted duration of a session manifest.
func (p *Pipeline) saveContent(ctx context.Context, content *headspace.Content, item Item) error {
	res, err := p.resolver.Resolve(ctx, content.Name, content.MediaItems, p.durations)
	for _, signErr := range res.SignErrors {
		p.summary.Failed++
		p.report(signErr, "signing failed", zap.String("content_id", content.ID))
	}
	if err != nil {
		return err
	}
	if unavailable := res.Unavailable(); unavailable != nil {
		p.reportUnavailable(unavailable)
		return nil
	}

	for _, dl := range res.Downloads {
		if err := p.save(ctx, dl, item, false); err != nil {
			if err := p.itemError(err, dl.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// save resolves the target, fetches and tags one signed download.
func (p *Pipeline) save(ctx context.Context, dl SignedDownload, item Item, isTechnique bool) error {
	ext := Extension(dl.MimeType)
	display := dl.Name + item.Suffix
	target, err := p.paths.Resolve(item.PackName, display+"."+ext, isTechnique)
	if err != nil {
		return err
	}

	fmt.Fprintf(p.status, "Downloading %s\n", display)
	outcome, err := p.fetcher.Fetch(ctx, dl.URL, target.Path())
	if err != nil {
		return err
	}

	switch outcome.Kind {
	case OutcomeSkipped:
		p.summary.Skipped++
		fmt.Fprintf(p.status, "'%s' already exists, skipping...\n", target.Filename)
		return nil
	case OutcomeFailed:
		p.summary.Failed++
		fmt.Fprintf(p.status, "Failed to download %s\n", target.Filename)
		return nil
	}

	p.summary.Downloaded++
	p.summary.Bytes += outcome.Bytes
	fmt.Fprintf(p.status, "Saved %s (%s)\n", target.Path(), humanize.IBytes(uint64(outcome.Bytes)))

	if ext != "mp3" {
		return nil
	}
	album := item.Album
	if album == "" {
		album = dl.Name
	}
	if err := p.tagger.Tag(target.Path(), display, album, item.Track, item.Total); err != nil {
		p.summary.TagErrors++
		p.report(err, "tagging failed", zap.String("path", target.Path()))
	}
	return nil
}

// itemError reports a failed item and returns err only when the whole run
// has to stop.
func (p *Pipeline) itemError(err error, item string) error {
	if hshttp.IsFatal(err) || errors.Is(err, context.Canceled) {
		return err
	}
	p.summary.Failed++
	p.report(err, "item failed", zap.String("item", item))
	return nil
}

func (p *Pipeline) report(err error, msg string, fields ...zap.Field) {
	p.log.Error(msg, append(fields, zap.Error(err))...)
	fmt.Fprintf(p.status, "Error: %v\n", err)
}

func (p *Pipeline) reportUnavailable(e *DurationUnavailableError) {
	p.summary.Unavailable++
	p.metrics.Outcome("unavailable", 0, 0)
	p.log.Warn("duration unavailable",
		zap.String("title", e.Title),
		zap.Ints("wanted", e.Wanted),
		zap.Ints("available", e.Available))
	fmt.Fprintf(p.status,
		"Cannot download %s. This session might not be available in %s minutes.\n"+
			"It is available with a duration of %s minutes. Use --duration to pick one.\n",
		e.Title, joinInts(e.Wanted, ", "), joinInts(e.Available, "/"))
}
