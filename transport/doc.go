// Package transport implements the obfuscated intermediate framing used to
// reach datacenters over TCP.
//
// A connection starts with a 64-byte random nonce whose bytes 8..56 seed two
// AES-256-CTR keystreams, one per direction. Every frame afterwards is a
// little-endian u32 length followed by the payload, and the whole byte stream
// runs through the keystream of its direction without ever resetting it.
//
//	f := transport.NewFramer(nil)
//	addr, _ := transport.DCAddress(2, false, false)
//	if err := f.Connect(ctx, addr); err != nil {
//		return err
//	}
//	defer f.Close()
//	f.Send(payload)
//	reply, err := f.Receive()
//
// Servers answer a rejected request with a four-byte negative frame. Use
// ParseTransportError on received payloads before handing them to the
// payload cipher.
package transport
