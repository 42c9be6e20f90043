/*
Package ws carries connections over WebSockets.

In message mode every JSON-RPC message travels as one WebSocket text message and no
Content-Length framing is used. In stream mode the WebSocket is treated as a byte stream
and the usual framing applies, which suits peers that only speak framed streams.
*/
package ws
