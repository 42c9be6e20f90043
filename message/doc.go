/*
Package message defines the JSON-RPC 2.0 wire shapes shared by the framing layer and the connection.

A decoded payload is classified exactly once, by Classify, into one of the variants
*Request, *Response, *Notification or *Invalid. Everything downstream type-switches on
that closed set instead of re-inspecting raw JSON.

	{"jsonrpc":"2.0","id":0,"method":"sum","params":[2,3]}   request
	{"jsonrpc":"2.0","id":0,"result":5}                      response
	{"jsonrpc":"2.0","method":"$/cancelRequest","params":{"id":0}} notification
*/
package message
