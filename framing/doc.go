/*
Package framing turns byte streams into JSON-RPC messages and back.

Every message on the wire is a block of ASCII header lines followed by a blank line and
exactly Content-Length bytes of JSON:

	Content-Length: 23\r\n
	\r\n
	{"id":1,"method":"p"}

Buffer is the codec: it accumulates chunks and hands out complete header blocks and
bodies once enough bytes have arrived. StreamReader pumps an io.Reader through a Buffer
and delivers decoded messages in order; StreamWriter emits header and body for one
message at a time.
*/
package framing
