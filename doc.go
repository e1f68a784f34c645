// Package hsdl downloads meditation sessions and technique videos from the
// Headspace catalog.
//
// # Overview
//
// hsdl resolves packs, sessions and techniques through the Headspace content
// API, asks it for short-lived signed media URLs and streams them to disk:
//
//   - download.Normalize: bucket a media length into the minutes users ask for
//   - download.Resolver: pick the wanted durations and sign their URLs
//   - download.Fetcher: stream a signed URL, verify the byte count, retry
//   - download.Tagger: write title, album, artist and track ID3 frames
//   - download.PathResolver: <out>/<pack>/[Level N/][Techniques/]<file>
//
// # Quick Start
//
// Download one pack:
//
//	client := http.New(httpCfg)
//	api := headspace.NewClient(client, headspace.Config{UserID: userID})
//	p := download.New(download.Config{
//		API:       api,
//		Fetcher:   download.NewFetcher(client, download.FetcherConfig{}),
//		Paths:     &download.PathResolver{Root: "meditations"},
//		Durations: []int{10, 15},
//	})
//	if err := p.Pack(ctx, "42", download.PackOptions{}); err != nil {
//		log.Fatal(err)
//	}
//
// # Configuration
//
// hsdl loads settings from multiple sources:
//
//  1. Environment variables (highest priority)
//  2. Config file (HSDL_CONFIG_FILE, hsdl.yaml or ~/.config/hsdl/hsdl.yaml)
//  3. Default values (lowest priority)
//
// Environment variables:
//
//   - HSDL_OUTPUT_DIR: Download root
//   - HSDL_DURATIONS: Comma-separated wanted durations in minutes
//   - HSDL_LANGUAGE: HS-LanguagePreference header value
//   - HSDL_TOKEN_FILE: Bearer token location
//   - HSDL_LOG_FILE, HSDL_LOG_LEVEL: JSON log destination and level
//   - HSDL_MAX_RETRIES, HSDL_INITIAL_BACKOFF, HSDL_MAX_BACKOFF: API retry policy
//   - HSDL_MAX_CONSECUTIVE_FAILURES: Failures before the circuit opens
//   - HSDL_METRICS_FILE: Prometheus textfile written after each run
//
// # Error Handling
//
// Per-item failures are reported and the run continues. Authentication
// failures and an open circuit stop it:
//
//	if hsdl.IsFatal(err) {
//		return err
//	}
//
// # Advanced Usage
//
// For more control, use the sub-packages directly:
//
//   - headspace: typed API client and URL parsing
//   - auth: login flow and token storage
//   - http: retrying, rate limited API client
//   - download: the download pipeline
//   - config: configuration management
package hsdl
