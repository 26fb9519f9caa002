// Package server exposes the sync and query operations over a websocket so
// remote clients can drive ingestion and search without the CLI.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/xhad/marginalia/internal/models"
	"github.com/xhad/marginalia/pkg/ingest"
	"github.com/xhad/marginalia/pkg/retriever"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the wire envelope in both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// syncRequest are the recognized sync options.
type syncRequest struct {
	UpdatedAfter string `json:"updatedAfter"`
	ForceUpdate  bool   `json:"forceUpdate"`
}

// queryRequest are the recognized query options.
type queryRequest struct {
	Query    string  `json:"query"`
	TopK     int     `json:"topK"`
	MinScore float32 `json:"minScore"`
}

// Config wires the server.
type Config struct {
	Ingest    ingest.Config
	Retriever *retriever.Retriever
}

// WSServer serves sync and query messages over one websocket endpoint.
type WSServer struct {
	config Config
}

func NewWSServer(config Config) *WSServer {
	return &WSServer{config: config}
}

// Start blocks serving the websocket endpoint at /ws and a health probe at
// /healthz.
func (s *WSServer) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return http.ListenAndServe(addr, mux)
}

func (s *WSServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "sync":
			s.handleSync(r.Context(), conn, msg)
		case "query":
			s.handleQuery(r.Context(), conn, msg)
		default:
			send(conn, Message{Type: "error", Content: "unknown message type: " + msg.Type})
		}
	}
}

func (s *WSServer) handleSync(ctx context.Context, conn *websocket.Conn, msg Message) {
	var req syncRequest
	decodeData(msg.Data, &req)

	cfg := s.config.Ingest
	cfg.Progress = ingest.Progress{
		OnPhase: func(phase string, total int) {
			send(conn, Message{Type: "phase", Content: phase, Data: total})
		},
		OnDocument: func(doc models.Document, err error) {
			m := Message{Type: "document", Content: doc.Title}
			if err != nil {
				m.Type = "document_error"
				m.Data = err.Error()
			}
			send(conn, m)
		},
	}

	report, err := ingest.NewWithConfig(cfg).Sync(ctx, ingest.Options{
		UpdatedAfter: req.UpdatedAfter,
		ForceUpdate:  req.ForceUpdate,
	})
	if err != nil {
		send(conn, Message{Type: "error", Content: err.Error()})
		return
	}
	send(conn, Message{Type: "report", Data: report})
}

func (s *WSServer) handleQuery(ctx context.Context, conn *websocket.Conn, msg Message) {
	var req queryRequest
	decodeData(msg.Data, &req)
	if req.Query == "" {
		req.Query = msg.Content
	}

	results, err := s.config.Retriever.Search(ctx, req.Query, req.TopK, req.MinScore)
	if err != nil {
		send(conn, Message{Type: "error", Content: err.Error()})
		return
	}

	formatted, hasSources := retriever.FormatContext(results)
	send(conn, Message{
		Type:    "results",
		Content: formatted,
		Data: map[string]interface{}{
			"hasSources": hasSources,
			"results":    results,
		},
	})
}

// decodeData remarshals the loosely-typed data field into a request struct.
func decodeData(data interface{}, out interface{}) {
	if data == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, out)
}

func send(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("websocket write failed: %v", err)
	}
}
