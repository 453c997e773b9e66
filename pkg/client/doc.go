/*
Package client is a Go client for a notebookd server.

A Client is bound to one session. Calls are HTTP POSTs carrying the
session header; asynchronous results such as completions and function
call results arrive on the push channel and are matched to their request
through a Deferred registry.

	c := client.New(client.Config{BaseURL: "http://localhost:2718", File: "nb.py"})
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Complete(ctx, "c1", "pri")
*/
package client
