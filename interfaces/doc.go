// Package interfaces defines the external capabilities the session core
// depends on but does not implement.
//
// # Core Interfaces
//
// [ICodec] serializes schema objects into message bodies. The core treats
// bodies as opaque bytes and only peeks at the leading constructor id to
// classify service messages.
//
// [IKeyExchange] produces the authorization key for a datacenter together
// with the first server salt and the server clock used to seed the message
// id allocator:
//
//	result, err := exchange.Exchange(ctx, dcID, testMode)
//	if err != nil {
//	    return err
//	}
//	if err := result.Validate(); err != nil {
//	    return err
//	}
//	store.SetAuthKey(result.AuthKey)
//
// [IPayloadCipher] performs the authenticated payload encryption that sits
// between the message factory and the transport framer. It receives the
// encoded inner message and the salt chosen by the salt manager:
//
//	payload, err := cipher.Encrypt(authKey, interfaces.Envelope{
//	    Salt:      salts.Current(now),
//	    SessionID: sessionID,
//	    Message:   msg.Encode(),
//	})
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The session calls
// Encrypt from any sending goroutine and Decrypt from its reader loop.
package interfaces
