package pg

import (
	"context"

	"chatwave/service/notify"

	"github.com/jackc/pgx/v5"
)

// ListenDialer opens a dedicated pgx.Conn per listener; LISTEN state does
// not survive being returned to a pool.
type ListenDialer struct {
	ConnString string
}

func (d ListenDialer) Dial(ctx context.Context) (notify.Conn, error) {
	conn, err := pgx.Connect(ctx, d.ConnString)
	if err != nil {
		return nil, err
	}
	return &listenConn{conn: conn}, nil
}

type listenConn struct {
	conn *pgx.Conn
}

func (c *listenConn) Listen(ctx context.Context, channel string) error {
	_, err := c.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	return err
}

func (c *listenConn) WaitForNotification(ctx context.Context) (*notify.Notification, error) {
	n, err := c.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return &notify.Notification{Channel: n.Channel, Payload: n.Payload}, nil
}

func (c *listenConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
