// Package session allocates message identities and composes the envelopes
// that travel inside the encrypted payload.
//
// Every outgoing protocol message carries a 64-bit message id derived from
// the (server-corrected) wall clock and a 32-bit sequence number. Ids are
// strictly increasing multiples of four. Sequence numbers are odd for
// content-related messages, which advance the counter, and even for service
// messages (acks, containers, pings, http_wait), which do not.
//
//	f := session.NewFactory(nil)
//	msg := f.Build(body, session.KindOf(body))
//	inner := msg.Encode()
//
// The [Factory] pairs id and sequence allocation under one lock. Callers
// that must keep the wire order identical to the allocation order (the
// session orchestrator) hold their own lock across Build and the transport
// write.
package session
