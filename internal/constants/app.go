package constants

import (
	"time"
)

// Event bus buffer sizes
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	// Sized for one page of ResolutionReady events per tier plus selection churn.
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// Viewport defaults
const (
	// DefaultPageSize - thumbnail boxes per page when the config does not say otherwise
	DefaultPageSize = 50

	// MaxPageSize - upper bound accepted from config and CLI flags
	MaxPageSize = 500

	// DefaultPageLinkRadius - pages shown either side of the current page in pager links
	DefaultPageLinkRadius = 2

	// DefaultBoxSize - thumbnail box edge in pixels used for display-size computation
	DefaultBoxSize = 200
)

// Progressive image loading
const (
	// NoTier - loader has not displayed anything yet
	NoTier = -1

	// ImageRetryInitialDelay - base delay for tier fetch retry backoff
	ImageRetryInitialDelay = 100 * time.Millisecond

	// ImageRetryMaxDelay - cap for tier fetch retry backoff
	ImageRetryMaxDelay = 5 * time.Second

	// DefaultPrefetchConcurrency - concurrent loaders used by the prefetch command
	DefaultPrefetchConcurrency = 8
)

// DefaultTiers is the ascending resolution ladder used when none is configured.
var DefaultTiers = []string{"thumbnail", "medium", "full"}

// HTTP client settings
const (
	// HTTPDialTimeout - TCP connect timeout
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - TCP keepalive interval
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPIdleConnTimeout - idle pooled connection lifetime
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - TLS handshake timeout
	HTTPTLSHandshakeTimeout = 15 * time.Second

	// HTTPExpectContinueTimeout - wait for 100-continue
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPClientTimeout - overall request timeout for API calls
	HTTPClientTimeout = 60 * time.Second

	// ListingFetchTimeout - timeout for one listing or record batch fetch
	ListingFetchTimeout = 30 * time.Second
)

// API rate limiting
const (
	// APIRatePerSec - sustained API requests per second
	APIRatePerSec = 20.0

	// APIBurstCapacity - burst allowance at startup
	APIBurstCapacity = 100.0

	// MaxRecordsPerRequest - records requested per FetchRecords call
	MaxRecordsPerRequest = 200
)

// Thumbnail storage
const (
	// ThumbPrefix - object key prefix for generated thumbnails
	ThumbPrefix = "_thumbs"

	// PresignExpiry - lifetime of presigned/SAS thumbnail URLs
	PresignExpiry = 15 * time.Minute
)
