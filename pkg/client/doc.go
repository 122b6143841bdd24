/*
Package client talks to a running canopy server over gRPC.

The server exposes the standard health service only, so the client
answers one question: is the datastore serving?

	c, err := client.NewClient("localhost:9091")
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.Status(ctx)

WaitServing blocks until the server reports SERVING, which scripts use
to wait for a freshly started server.
*/
package client
