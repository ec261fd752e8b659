// Package live implements the bidirectional streaming transport to the
// Gemini Live speech endpoint.
//
// One Session corresponds to one WebSocket connection speaking the
// BidiGenerateContent protocol: the client streams base64-encoded PCM16
// microphone chunks tagged as realtime input, and the server streams back
// synthesized speech chunks plus control events (setup ack, barge-in
// interruption, close, error) which are delivered to a callback surface.
package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// DefaultModel is the conversational native-audio model used when the
	// session config does not name one.
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	// InputSampleRate and OutputSampleRate are fixed by contract with the
	// remote endpoint: mic audio goes up at 16kHz, synthesized speech
	// comes down at 24kHz, both mono PCM16.
	InputSampleRate  = 16000
	OutputSampleRate = 24000

	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	inputMIMEType  = "audio/pcm;rate=16000"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// sendQueueSize bounds the outgoing frame queue. The queue absorbs
	// short write stalls; once full, frames are dropped rather than
	// letting latency build up behind a slow connection.
	sendQueueSize = 64
)

// SessionConfig describes one live session.
type SessionConfig struct {
	Model        string // empty = DefaultModel
	Voice        string // prebuilt voice name, e.g. "Kore"
	Instructions string // system instruction establishing the persona
}

// Callbacks is the inbound event surface of a session. All callbacks are
// invoked from the session's receive goroutine; nil callbacks are skipped.
// OnOpen fires when the server acknowledges setup — the channel is not
// ready for audio until then.
type Callbacks struct {
	OnOpen        func()
	OnAudio       func(pcm []byte) // raw PCM16 mono at OutputSampleRate
	OnInterrupted func()
	OnClosed      func()
	OnError       func(err error)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// Client dials live sessions against the remote endpoint.
type Client struct {
	apiKey  string
	baseURL string
}

// NewClient creates a new Client with the given API key and options.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect opens a session. It returns once the underlying connection
// exists and the setup message is sent — before the server acknowledges.
// Callers must wait for Callbacks.OnOpen before treating the channel as
// ready.
func (c *Client) Connect(ctx context.Context, cfg SessionConfig, cb Callbacks) (*Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		c.baseURL, c.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("live: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		conn:   conn,
		cb:     cb,
		sendCh: make(chan []byte, sendQueueSize),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSetup(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("live: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.writeLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// Session is one open live exchange. Exactly one may be live at a time per
// session controller; the transport itself does not enforce that.
type Session struct {
	conn   *websocket.Conn
	cb     Callbacks
	sendCh chan []byte

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *Session) sendSetup(cfg SessionConfig) error {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("live: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// Send queues one PCM16 chunk of mic audio. Fire-and-forget: it never
// blocks and never errors — the chunk is dropped when the session is
// closed or the queue is full. A dropped input frame is preferable to
// latency building up behind the connection.
func (s *Session) Send(pcm []byte) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || len(pcm) == 0 {
		return
	}

	select {
	case s.sendCh <- pcm:
	default:
		slog.Debug("live send queue full, dropping frame", "bytes", len(pcm))
	}
}

// writeLoop drains the send queue onto the connection.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case pcm := <-s.sendCh:
			msg := realtimeInputMessage{
				RealtimeInput: realtimeInput{
					MediaChunks: []mediaChunk{
						{MIMEType: inputMIMEType, Data: base64.StdEncoding.EncodeToString(pcm)},
					},
				},
			}
			if err := s.writeJSON(msg); err != nil {
				if s.ctx.Err() == nil {
					slog.Debug("live write error", "err", err)
				}
			}
		}
	}
}

// receiveLoop reads server messages and dispatches them to the callbacks.
func (s *Session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Manual close: the controller already knows, stay silent.
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) != -1 {
				s.fireClosed()
			} else {
				s.fireError(fmt.Errorf("live: read: %w", err))
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}
		s.handleServerMessage(&msg)
	}
}

func (s *Session) handleServerMessage(msg *serverMessage) {
	if msg.SetupComplete != nil && s.cb.OnOpen != nil {
		s.cb.OnOpen()
	}
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		s.fireError(fmt.Errorf("live: remote: %s", text))
	}
	if msg.ServerContent == nil {
		return
	}

	if msg.ServerContent.Interrupted {
		if s.cb.OnInterrupted != nil {
			s.cb.OnInterrupted()
		}
		return
	}

	if mt := msg.ServerContent.ModelTurn; mt != nil && s.cb.OnAudio != nil {
		for _, p := range mt.Parts {
			if p.InlineData == nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil || len(pcm) == 0 {
				continue
			}
			s.cb.OnAudio(pcm)
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the connection alive.
func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *Session) fireClosed() {
	if s.cb.OnClosed != nil {
		s.cb.OnClosed()
	}
}

func (s *Session) fireError(err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

// Close terminates the session and releases the connection. Idempotent;
// Send becomes a no-op afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel() // unblocks receive, write and keepalive loops
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
