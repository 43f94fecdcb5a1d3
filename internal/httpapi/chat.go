package httpapi

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/collegegpt/internal/chat"
	"github.com/antoniostano/collegegpt/internal/llm"
	"github.com/antoniostano/collegegpt/internal/protocol"
)

type chatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	UseRAG    *bool  `json:"use_rag,omitempty"`
}

func (r chatRequest) toChat() chat.Request {
	return chat.Request{
		Query:     r.Query,
		SessionID: r.SessionID,
		UseRAG:    r.UseRAG == nil || *r.UseRAG,
	}
}

type chatResponse struct {
	Response string `json:"response"`
	// ContextUsed is null when retrieval was disabled for the request.
	ContextUsed *string `json:"context_used"`
	SessionID   string  `json:"session_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.chat.Chat(r.Context(), body.toChat())
	if err != nil {
		status, code := chatErrorStatus(err)
		log.Printf("chat failed: status=%d err=%v", status, err)
		respondError(w, status, code, err.Error())
		return
	}

	out := chatResponse{Response: resp.Response, SessionID: resp.SessionID}
	if resp.RAGUsed {
		contextUsed := resp.ContextUsed
		out.ContextUsed = &contextUsed
	}
	respondJSON(w, http.StatusOK, out)
}

// handleChatStream writes fragments as plain text as soon as they arrive.
// Errors before the first fragment are reported as JSON; later ones end the
// body early.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	req := body.toChat().WithSession()
	w.Header().Set("X-Session-ID", req.SessionID)
	flusher, _ := w.(http.Flusher)

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}

	_, err := s.chat.ChatStream(r.Context(), req, func(fragment string) error {
		start()
		if _, err := io.WriteString(w, fragment); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		if !started {
			status, code := chatErrorStatus(err)
			log.Printf("chat stream failed: session=%s status=%d err=%v", req.SessionID, status, err)
			respondError(w, status, code, err.Error())
			return
		}
		log.Printf("chat stream aborted: session=%s err=%v", req.SessionID, err)
		return
	}
	start()
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				s.countWSMessage("outbound", msg)
			}
		}
	}()

	turns := &wsTurns{server: s, ctx: ctx, outbound: outbound}

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			turns.send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		s.countWSMessage("inbound", parsed)

		switch msg := parsed.(type) {
		case protocol.ChatRequest:
			turns.start(msg)
		case protocol.ClientControl:
			if msg.Action == "stop" {
				turns.stop()
			}
		}
	}

	cancel()
	turns.wait()
	<-writerDone
}

// wsTurns runs at most one streamed answer per websocket connection.
type wsTurns struct {
	server   *Server
	ctx      context.Context
	outbound chan<- any

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (t *wsTurns) send(msg any) bool {
	select {
	case <-t.ctx.Done():
		return false
	case t.outbound <- msg:
		return true
	}
}

func (t *wsTurns) start(msg protocol.ChatRequest) {
	req := chat.Request{Query: msg.Query, SessionID: msg.SessionID, UseRAG: msg.RAGEnabled()}.WithSession()

	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		t.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: req.SessionID,
			Code:      "turn_in_progress",
			Source:    "gateway",
			Retryable: true,
			Detail:    "an answer is already streaming on this connection",
		})
		return
	}
	turnCtx, cancel := context.WithCancel(t.ctx)
	t.cancel = cancel
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		final := t.run(turnCtx, req, strings.TrimSpace(msg.SessionID) == "")
		// Release the slot before the client can observe the end of the turn.
		t.finish(cancel)
		t.send(final)
	}()
}

// run streams one answer and returns the message that ends the turn.
func (t *wsTurns) run(ctx context.Context, req chat.Request, assigned bool) any {
	turnID := uuid.NewString()
	if assigned {
		t.send(protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: req.SessionID,
			Code:      "session_assigned",
		})
	}

	resp, err := t.server.chat.ChatStream(ctx, req, func(fragment string) error {
		if !t.send(protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			SessionID: req.SessionID,
			TurnID:    turnID,
			TextDelta: fragment,
		}) {
			return t.ctx.Err()
		}
		return nil
	})
	switch {
	case err == nil:
		return protocol.AssistantTurnEnd{
			Type:        protocol.TypeAssistantTurnEnd,
			SessionID:   req.SessionID,
			TurnID:      turnID,
			Reason:      "completed",
			Backend:     string(resp.Backend),
			ContextUsed: resp.ContextUsed != "",
		}
	case errors.Is(err, context.Canceled) && t.ctx.Err() == nil:
		return protocol.AssistantTurnEnd{
			Type:      protocol.TypeAssistantTurnEnd,
			SessionID: req.SessionID,
			TurnID:    turnID,
			Reason:    "interrupted",
		}
	default:
		var genErr *llm.GenerationError
		retryable := errors.As(err, &genErr) && genErr.Retryable
		_, code := chatErrorStatus(err)
		log.Printf("chat ws turn failed: session=%s turn=%s err=%v", req.SessionID, turnID, err)
		return protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: req.SessionID,
			Code:      code,
			Source:    "llm",
			Retryable: retryable,
			Detail:    err.Error(),
		}
	}
}

func (t *wsTurns) finish(cancel context.CancelFunc) {
	cancel()
	t.mu.Lock()
	t.cancel = nil
	t.mu.Unlock()
}

func (t *wsTurns) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *wsTurns) wait() {
	t.wg.Wait()
}

func (s *Server) countWSMessage(direction string, msg any) {
	if s.metrics == nil {
		return
	}
	if mt, ok := messageTypeOf(msg); ok {
		s.metrics.WSMessages.WithLabelValues(direction, string(mt)).Inc()
	}
}
