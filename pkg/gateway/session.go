package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/paprika-agent/paprika/pkg/knowledge"
	"github.com/paprika-agent/paprika/pkg/protocol"
)

// session is one client connection. A reader goroutine feeds messages
// to the serve loop; the serve loop is the only data writer.
type session struct {
	srv      *Server
	conn     *websocket.Conn
	clientID string
	runner   Runner
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	in     chan []byte
}

func newSession(srv *Server, conn *websocket.Conn, clientID string, runner Runner) *session {
	ctx, cancel := context.WithCancel(srv.ctx)
	return &session{
		srv:      srv,
		conn:     conn,
		clientID: clientID,
		runner:   runner,
		logger:   srv.logger.With("client_id", clientID, "session", uuid.NewString()),
		ctx:      ctx,
		cancel:   cancel,
		in:       make(chan []byte, queueSize),
	}
}

func (ss *session) serve() {
	ss.logger.Info("gateway: client connected")
	var wg sync.WaitGroup
	defer func() {
		ss.cancel()
		ss.conn.Close()
		wg.Wait()
		ss.logger.Info("gateway: client disconnected")
	}()

	cfg := ss.srv.cfg
	ss.conn.SetReadLimit(cfg.ReadLimit)
	ss.conn.SetReadDeadline(time.Now().Add(2 * cfg.PingInterval))
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(time.Now().Add(2 * cfg.PingInterval))
	})

	wg.Add(2)
	go func() {
		defer wg.Done()
		ss.readLoop()
	}()
	go func() {
		defer wg.Done()
		ss.pingLoop()
	}()

	for {
		select {
		case <-ss.ctx.Done():
			return
		case msg, ok := <-ss.in:
			if !ok {
				return
			}
			if err := ss.handle(msg); err != nil {
				return
			}
		}
	}
}

// readLoop cancels the session when the connection fails or closes.
func (ss *session) readLoop() {
	defer close(ss.in)
	defer ss.cancel()
	for {
		_, msg, err := ss.conn.ReadMessage()
		if err != nil {
			if ss.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ss.logger.Debug("gateway: read ended", "error", err)
			}
			return
		}
		ss.conn.SetReadDeadline(time.Now().Add(2 * ss.srv.cfg.PingInterval))
		select {
		case ss.in <- msg:
		case <-ss.ctx.Done():
			return
		}
	}
}

func (ss *session) pingLoop() {
	t := time.NewTicker(ss.srv.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ss.ctx.Done():
			return
		case <-t.C:
			deadline := time.Now().Add(ss.srv.cfg.WriteTimeout)
			if err := ss.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				ss.logger.Debug("gateway: ping failed", "error", err)
				ss.cancel()
				return
			}
		}
	}
}

// handle processes one message. A non-nil error ends the session.
func (ss *session) handle(msg []byte) error {
	p, err := protocol.DecodePerception(msg)
	if err != nil {
		ss.logger.Warn("gateway: invalid data", "error", err)
		return ss.write(protocol.InvalidSchema)
	}
	ss.observe(p)

	start := time.Now()
	st, err := ss.runner.Run(ss.ctx, p)
	if err != nil {
		if ss.ctx.Err() != nil {
			ss.logger.Info("gateway: run abandoned", "error", err)
			return err
		}
		ss.logger.Error("gateway: run failed", "error", err)
		ss.closeWith(websocket.CloseInternalServerErr, "internal error")
		return err
	}
	plan := st.Plan
	if plan == nil {
		plan = protocol.Plan{}
	}
	ss.logger.Info("gateway: plan sent", "task", st.Task, "steps", len(plan), "elapsed", time.Since(start))
	return ss.write(protocol.Reply{ClientID: ss.clientID, Task: st.Task, Plan: plan})
}

func (ss *session) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gateway: encode reply: %w", err)
	}
	ss.conn.SetWriteDeadline(time.Now().Add(ss.srv.cfg.WriteTimeout))
	if err := ss.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			ss.logger.Warn("gateway: write failed", "error", err)
		}
		return err
	}
	return nil
}

func (ss *session) closeWith(code int, text string) {
	deadline := time.Now().Add(ss.srv.cfg.WriteTimeout)
	msg := websocket.FormatCloseMessage(code, text)
	if err := ss.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		ss.logger.Debug("gateway: close frame not sent", "error", err)
	}
}

// observe remembers what the client reported. Failures are logged.
func (ss *session) observe(p *protocol.Perception) {
	cfg := ss.srv.cfg
	if !cfg.RecordObservations {
		return
	}
	m := &knowledge.MemoryRecord{
		Day:        p.Day,
		TimeSlot:   p.TimeHour,
		Mode:       string(p.Mode),
		LocationID: p.LocationID,
		Content:    observation(p),
		MemoryType: knowledge.MemoryObservation,
	}
	if err := cfg.Store.AppendMemory(ss.ctx, m); err != nil {
		ss.logger.Warn("gateway: record observation failed", "error", err)
	}
}

func observation(p *protocol.Perception) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "At %s I saw", p.LocationID)
	if len(p.NearbyObjects) == 0 {
		sb.WriteString(" nothing interactable")
	} else {
		sb.WriteString(": ")
		for i, o := range p.NearbyObjects {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s (%s)", o.ID, o.State)
		}
	}
	fmt.Fprintf(&sb, ". Holding: %s.", p.Holding("nothing"))
	if p.PlayerNearby {
		sb.WriteString(" The player was nearby.")
	}
	if p.LastActionStatus != "" {
		fmt.Fprintf(&sb, " Last action: %s.", p.LastActionStatus)
	}
	return sb.String()
}
