// Package httpclient is the HTTP client shared by the platform packages.
//
// Requests to each host pass through a token-bucket rate limiter and are
// retried with jittered exponential backoff on timeouts, 429 and 5xx
// responses. Retry-After headers are honored up to the maximum backoff.
package httpclient
