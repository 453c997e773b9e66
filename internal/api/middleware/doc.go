// Package middleware provides the gin middleware shared by the HTTP API:
// CORS for the editor frontend, request body limits and per-client rate
// limiting.
package middleware
