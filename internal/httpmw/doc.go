// Package httpmw contains the shared HTTP middleware: request IDs, client
// IP resolution, request-scoped logging, panic recovery, and security
// headers. The client IP and user id context carriers defined here are the
// inputs to rate-limit identity classification.
package httpmw
