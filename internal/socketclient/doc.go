// Package socketclient is the live channel of the chat client: a websocket
// connection carrying JSON event envelopes.
//
// Frames are {"event": name, "id": uuid, "data": payload}. Inbound events are
// dispatched to subscribers in arrival order on the read goroutine, so a
// handler must not block; the chat synchronizer forwards events into its
// actor mailbox.
//
// Basic usage:
//
//	mgr := socketclient.NewManager(socketclient.WebsocketDialer(socketclient.DefaultConfig(url), nil))
//	h, err := mgr.Open(ctx, token)
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	unsubscribe := h.Subscribe(socketclient.EventNewMessage, func(data json.RawMessage) {
//	    ...
//	})
//	defer unsubscribe()
//
//	_ = h.Join(socketclient.JoinPayload{Token: token.Reveal(), ConversationID: "42"})
//
// # Connection Management
//
// The Manager keeps at most one connection per token. Open is idempotent and
// reference counted; the connection closes when the last handle closes.
// Closing a handle unsubscribes every listener it registered. Dropped
// connections are redialled with exponential backoff and joined rooms are
// re-joined before any queued frame is written.
package socketclient
