// Package http exposes the notebook control protocol over gin.
//
// Session-bound routes read the Marimo-Session-Id header. Calls whose
// results are pushed asynchronously answer with a JSON null; failures use
// the {"error": {"type", "message"}} body with the status of the error kind.
package http
