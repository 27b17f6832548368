// Package ws serves the reference wire protocol over WebSocket: one
// connection per round, a JSON request frame, zero or more streamed
// frames for the per-field payload dance (§4.11), and a terminating
// result frame. On server fault the connection closes with a
// 123-byte-capped {type:"exception", extype, args} close reason.
package ws

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// writeJSONResponse encodes v as a plain (non-WebSocket) JSON HTTP response.
func writeJSONResponse(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

// maxCloseReasonBytes is the WebSocket close-reason frame limit (RFC
// 6455 §7.4: the control frame payload, including the 2-byte status
// code, is capped at 125 bytes).
const maxCloseReasonBytes = 123

// exceptionEnvelope is the close-reason payload on server fault.
type exceptionEnvelope struct {
	Type   string `json:"type"`
	ExType string `json:"extype"`
	Args   []string `json:"args"`
}

// closeWithError sends detail as a prior JSON frame (best effort, the
// connection may already be unusable) then closes with the capped
// exception envelope as the close reason.
func closeWithError(conn *websocket.Conn, extype string, cause error) error {
	if cause != nil {
		_ = writeJSON(conn, map[string]any{"type": "error_detail", "error": cause.Error()})
	}

	reason := exceptionReason(extype, cause)
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, reason)
	return conn.WriteMessage(websocket.CloseMessage, msg)
}

func exceptionReason(extype string, cause error) string {
	args := []string{}
	if cause != nil {
		args = append(args, cause.Error())
	}
	env := exceptionEnvelope{Type: "exception", ExType: extype, Args: args}
	raw, err := json.Marshal(env)
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"type":"exception","extype":%q}`, extype))
	}
	if len(raw) <= maxCloseReasonBytes {
		return string(raw)
	}

	// Drop args first, then extype, to fit the cap.
	env.Args = nil
	raw, _ = json.Marshal(env)
	if len(raw) <= maxCloseReasonBytes {
		return string(raw)
	}
	bare := `{"type":"exception"}`
	if len(bare) <= maxCloseReasonBytes {
		return bare
	}
	return bare[:maxCloseReasonBytes]
}

func writeJSON(conn *websocket.Conn, v any) error {
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	defer w.Close()
	return json.NewEncoder(w).Encode(v)
}

func readJSON(conn *websocket.Conn, v any) error {
	_, r, err := conn.NextReader()
	if err != nil {
		return err
	}
	return json.NewDecoder(r).Decode(v)
}

// frameReader adapts one binary WebSocket frame to extension.PayloadReader.
type frameReader struct {
	conn *websocket.Conn
	buf  []byte
}

func newFrameReader(conn *websocket.Conn) (*frameReader, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return &frameReader{conn: conn, buf: data}, nil
}

func (f *frameReader) Read(p []byte) (int, error) {
	if len(f.buf) == 0 {
		return 0, fmt.Errorf("ws: field payload frame exhausted")
	}
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

// frameWriter adapts extension.PayloadWriter to one outbound binary
// WebSocket frame.
type frameWriter struct {
	conn *websocket.Conn
}

func (f *frameWriter) Write(p []byte) (int, error) {
	if err := f.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
