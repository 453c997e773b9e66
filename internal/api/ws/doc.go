// Package ws serves the push channel: a websocket per client carrying the
// ops of one session as {"op": name, "data": {...}} text frames.
package ws
