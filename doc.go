// Package mtcore implements the session core of an MTProto client: message
// identity and sequencing, salt rotation, the obfuscated TCP transport and a
// resumable session store.
//
// A Session wires these pieces together. The payload cipher and the key
// exchange are supplied by the caller.
//
// Example:
//
//	store, err := storage.Open("account.session", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	options := mtcore.NewOptions()
//	options.DCID = 2
//
//	s, err := mtcore.New(options, mtcore.Dependencies{
//	    Storage:     store,
//	    Cipher:      cipher,
//	    KeyExchange: exchange,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	s.OnMessage(func(msg *session.Message) {
//	    fmt.Printf("message %d: %d bytes\n", msg.ID, msg.Length)
//	})
//
//	if err := s.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	id, err := s.Send(body)
//
// Sends are serialized: the message id, the sequence number, the payload
// encryption and the transport write for one message happen under a single
// lock, so the wire order always matches the allocation order.
package mtcore
