package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sendBufferSize = 256
	maxFrameSize   = 1 << 20
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
)

// Client 是一个 websocket 连接，实现 Peer。
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	dropOnce  sync.Once
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBufferSize)}
}

func (c *Client) ID() string { return c.id }

// Send 非阻塞入队；缓冲区满说明对端过慢，直接断开，由 readPump 走正常断开流程。
func (c *Client) Send(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		c.dropOnce.Do(func() { _ = c.conn.Close() })
		return false
	}
}

// Close stops the write pump. Only the gateway loop calls Send and Close.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.send) })
}

func newUpgrader(cfg config.Config) websocket.Upgrader {
	return websocket.Upgrader{CheckOrigin: checkOrigin(mw.OriginPolicy(cfg.Env, cfg.CORSAllowedOrigins))}
}

// checkOrigin 没有 Origin 头的请求（非浏览器客户端）直接放行。
func checkOrigin(permitted func(origin, host string) bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || permitted(origin, r.Host)
	}
}

// Serve 完成握手认证后升级为 websocket，并把连接交给网关。
func Serve(g *Gateway, cfg config.Config) gin.HandlerFunc {
	upgrader := newUpgrader(cfg)
	return func(c *gin.Context) {
		identity, err := g.Authenticate(c.Request.Context(), auth.TokenFromRequest(c.Request))
		if err != nil {
			log.Debug().Err(err).Str("remote", c.ClientIP()).Msg("ws handshake refused")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newClient(conn)
		if err := g.Attach(context.Background(), identity, client); err != nil {
			log.Warn().Err(err).Str("identity_id", identity.ID).Msg("attach")
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(g)
	}
}

func (c *Client) readPump(g *Gateway) {
	defer func() {
		if err := g.Disconnect(context.Background(), c.id); err != nil {
			log.Debug().Err(err).Str("conn_id", c.id).Msg("disconnect")
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("read")
			}
			return
		}
		if err := g.Dispatch(context.Background(), c.id, data); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
