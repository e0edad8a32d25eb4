package server

import (
	"context"
	"net"

	"github.com/marmos91/dittohdfs/internal/logger"
)

type conn struct {
	server *Server
	conn   net.Conn
}

func (c *conn) serve(ctx context.Context) {
	defer c.server.untrack(c)
	defer c.conn.Close()

	logger.Debug("%s: new connection from %s", c.server.name, c.conn.RemoteAddr())
	c.server.handler.ServeConn(ctx, c.conn)
	logger.Debug("%s: connection from %s closed", c.server.name, c.conn.RemoteAddr())
}
