package hsdl

import (
	"hsdl/auth"
	"hsdl/download"
	"hsdl/headspace"
	hshttp "hsdl/http"
	"hsdl/internal/retry"
)

// Error handling types exported for library users.
//
// All error types support the standard error handling patterns:
//
// Using errors.Is() for sentinel errors:
//
//	if errors.Is(err, hsdl.ErrUnauthorized) {
//		fmt.Println("run `hsdl login` first")
//	}
//
// Using errors.As() for wrapped errors:
//
//	var transportErr *hsdl.TransportError
//	if errors.As(err, &transportErr) {
//		fmt.Printf("request to %s failed with %d\n", transportErr.URL, transportErr.StatusCode)
//	}

// Exported error types from sub-packages:
//
// From http package:
//   - http.TransportError: non-2xx or undecodable API response
//   - http.AuthError: 401/403, the stored token is no good
//   - http.RateLimitError: 429/503 from the API
//   - http.ErrUnauthorized: matches every AuthError
//   - http.ErrCircuitOpen: too many consecutive failures against one host
//
// From download package:
//   - download.DurationUnavailableError: no media in the wanted durations
//   - download.FilesystemError: destination cannot be used
//   - download.TagError: ID3 tagging failed, download kept
//   - download.ErrUnsupportedContainer: tagging target is not MPEG audio
//
// From auth package:
//   - auth.ErrNoToken, auth.ErrTruncatedToken: token missing or incomplete

// Type aliases for convenient error handling.
type (
	// TransportError reports a non-2xx or malformed response.
	TransportError = hshttp.TransportError
	// AuthError reports rejected credentials.
	AuthError = hshttp.AuthError
	// RateLimitError reports a rate limited request.
	RateLimitError = hshttp.RateLimitError
	// DurationUnavailableError lists the durations a session does have.
	DurationUnavailableError = download.DurationUnavailableError
	// FilesystemError reports an unusable destination path.
	FilesystemError = download.FilesystemError
	// TagError reports a failed ID3 update.
	TagError = download.TagError
	// RetryableError wraps errors that occurred after retries were exhausted.
	RetryableError = retry.RetryableError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrUnauthorized matches any authentication failure.
	ErrUnauthorized = hshttp.ErrUnauthorized
	// ErrCircuitOpen indicates the API host failed too often in a row.
	ErrCircuitOpen = hshttp.ErrCircuitOpen
	// ErrNoSignedURL indicates the signing endpoint returned no URL.
	ErrNoSignedURL = headspace.ErrNoSignedURL
	// ErrNoTechniqueVideo indicates a technique without an MP4 rendition.
	ErrNoTechniqueVideo = download.ErrNoTechniqueVideo
	// ErrUnsupportedContainer indicates a file that cannot carry ID3 tags.
	ErrUnsupportedContainer = download.ErrUnsupportedContainer

	// Token errors
	// ErrNoToken indicates no bearer token has been stored.
	ErrNoToken = auth.ErrNoToken
	// ErrTruncatedToken indicates a bearer token copied with "…" in it.
	ErrTruncatedToken = auth.ErrTruncatedToken
)

// IsFatal reports whether err should stop a multi-item run: the credentials
// are bad or the API is down.
func IsFatal(err error) bool {
	return hshttp.IsFatal(err)
}

// IsRetryable determines if an error should be retried.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
