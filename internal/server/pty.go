package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vinayprograms/biohacker/internal/agent"
	"github.com/vinayprograms/biohacker/internal/chat"
	"github.com/vinayprograms/biohacker/internal/session"
	"golang.org/x/net/websocket"
)

// ptyFrame is a control message from the browser terminal. Messages that do
// not parse as a frame are treated as raw keyboard input.
type ptyFrame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// handlePTY runs one chat loop per websocket connection. The browser sends
// keystrokes; line editing happens here.
func (s *Server) handlePTY(ws *websocket.Conn) {
	defer ws.Close()
	ctx, cancel := context.WithCancel(ws.Request().Context())
	defer cancel()

	sess, err := s.sessions.Create("terminal")
	if err != nil {
		s.logger.Error("failed to create terminal session", map[string]interface{}{"error": err.Error()})
		websocket.Message.Send(ws, "[ERROR] "+err.Error()+"\r\n")
		return
	}
	s.logger.Info("terminal connected", map[string]interface{}{"session": sess.ID})

	term := &terminal{ws: ws}
	term.cols.Store(80)
	out := &crlfWriter{w: term}
	input := newInputBuffer()
	ld := &lineDiscipline{echo: out, lines: input}

	go func() {
		defer input.Close()
		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
			data, resize := decodeFrame(msg)
			if resize != nil {
				if resize.Cols > 0 {
					term.cols.Store(int64(resize.Cols))
				}
				continue
			}
			if interrupt := ld.feed(data); interrupt {
				cancel()
				return
			}
		}
	}()

	loop := &chat.Loop{
		In:        input,
		Out:       out,
		Responder: s.responder,
		Session:   sess,
		Renderer: chat.RendererFunc(func(text string) string {
			return chat.PlainRenderer(int(term.cols.Load())).Render(text)
		}),
		AfterTurn: func(sess *session.Session, _ agent.Reply) {
			s.saveSession(sess)
		},
	}
	if err := loop.Run(ctx); err != nil {
		s.logger.Warn("terminal loop ended with error", map[string]interface{}{
			"session": sess.ID,
			"error":   err.Error(),
		})
	}
	input.Close()
	s.saveSession(sess)
	s.logger.Info("terminal disconnected", map[string]interface{}{"session": sess.ID})
}

func (s *Server) saveSession(sess *session.Session) {
	if err := s.sessions.Update(sess); err != nil {
		s.logger.Error("failed to save session", map[string]interface{}{
			"session": sess.ID,
			"error":   err.Error(),
		})
	}
}

// decodeFrame returns the keyboard input carried by msg, or the resize
// request it holds.
func decodeFrame(msg string) (string, *ptyFrame) {
	if !strings.HasPrefix(strings.TrimSpace(msg), "{") {
		return msg, nil
	}
	var f ptyFrame
	if err := json.Unmarshal([]byte(msg), &f); err != nil {
		return msg, nil
	}
	switch f.Type {
	case "input":
		return f.Data, nil
	case "resize":
		return "", &f
	default:
		return msg, nil
	}
}

// terminal serializes writes to the websocket.
type terminal struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	cols atomic.Int64
}

func (t *terminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := websocket.Message.Send(t.ws, string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// crlfWriter turns bare newlines into CRLF for the terminal emulator.
type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	var buf bytes.Buffer
	for i, b := range p {
		if b == '\n' && (i == 0 || p[i-1] != '\r') {
			buf.WriteByte('\r')
		}
		buf.WriteByte(b)
	}
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// lineDiscipline echoes keystrokes, handles erase and interrupt, and
// delivers completed lines.
type lineDiscipline struct {
	echo  io.Writer
	lines io.Writer

	buf    []rune
	escape int // 0 none, 1 after ESC, 2 inside CSI
}

// feed processes keyboard input. It reports true when the user pressed
// Ctrl-C.
func (l *lineDiscipline) feed(data string) bool {
	var echo strings.Builder
	defer func() {
		if echo.Len() > 0 {
			l.echo.Write([]byte(echo.String()))
		}
	}()

	for _, r := range data {
		switch l.escape {
		case 1:
			if r == '[' {
				l.escape = 2
			} else {
				l.escape = 0
			}
			continue
		case 2:
			if r >= 0x40 && r <= 0x7e {
				l.escape = 0
			}
			continue
		}

		switch {
		case r == 0x1b:
			l.escape = 1
		case r == '\r' || r == '\n':
			echo.WriteString("\r\n")
			l.lines.Write([]byte(string(l.buf) + "\n"))
			l.buf = l.buf[:0]
		case r == 0x7f || r == '\b':
			if len(l.buf) > 0 {
				l.buf = l.buf[:len(l.buf)-1]
				echo.WriteString("\b \b")
			}
		case r == 0x03:
			echo.WriteString("^C")
			return true
		case r < 0x20:
			// other control keys are ignored
		default:
			l.buf = append(l.buf, r)
			echo.WriteRune(r)
		}
	}
	return false
}

// inputBuffer is an unbounded pipe: writes never block, reads wait for data.
type inputBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newInputBuffer() *inputBuffer {
	b := &inputBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *inputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	n, _ := b.buf.Write(p)
	b.cond.Signal()
	return n, nil
}

func (b *inputBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.buf.Len() == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.buf.Len() == 0 {
		return 0, io.EOF
	}
	return b.buf.Read(p)
}

func (b *inputBuffer) Close() error {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}
