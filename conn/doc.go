/*
Package conn correlates JSON-RPC requests and responses over a framing.MessageReader and
framing.MessageWriter pair.

A Connection is Active until its reader or writer closes, or until it is disposed; it then
moves to Closed exactly once. Handlers are registered before Listen is called.

Inbound messages are dispatched one at a time on the reader's goroutine, in the order
they were framed. Request handlers run on their own goroutines, so a handler may issue
its own requests over the same connection and wait for their responses. Notification
handlers run on the dispatch goroutine and therefore observe notifications in order.

Sent requests can be cancelled with a cancellation.Token: the peer is sent a single
$/cancelRequest notification, and the request still settles only when the peer answers
or the connection closes.
*/
package conn
