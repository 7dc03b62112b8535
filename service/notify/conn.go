package notify

import "context"

// Notification is one raw message received on a channel.
type Notification struct {
	Channel string
	Payload string
}

// Conn is a dedicated connection able to LISTEN on channels.
// Implementations: pg.ListenConn (pgx) and memstore.
type Conn interface {
	Listen(ctx context.Context, channel string) error
	// WaitForNotification blocks until a notification arrives, ctx is done or
	// the connection breaks.
	WaitForNotification(ctx context.Context) (*Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a fresh Conn; listeners dial again after every drop.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }
