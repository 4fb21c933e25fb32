// Package httputil provides shared HTTP response utilities for the
// dashboard gateway handlers: consistent JSON formatting and a uniform
// error envelope across all endpoints.
package httputil
