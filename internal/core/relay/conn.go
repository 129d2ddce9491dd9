package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn 一条已建立的中继连接
//
// 所有写操作经由 out 队列由 writeLoop 串行完成。
type conn struct {
	ws           *websocket.Conn
	out          chan []byte
	writeTimeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, queueSize int, writeTimeout time.Duration) *conn {
	return &conn{
		ws:           ws,
		out:          make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// enqueue 放入发送队列，队列满时阻塞直到 ctx 结束或连接关闭
func (c *conn) enqueue(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			if c.writeTimeout > 0 {
				_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("写入中继连接失败", "err", err)
				c.close()
				return
			}
		}
	}
}

// close 关闭连接，可重复调用
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}
