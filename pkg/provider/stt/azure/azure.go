// Package azure provides an STT provider for Azure AI Speech using the
// service's streaming WebSocket protocol. It implements the stt.Provider
// interface.
//
// The protocol multiplexes control and audio over one WebSocket connection:
//
//   - text frames carry HTTP-style headers (Path, X-RequestId, X-Timestamp,
//     Content-Type), a blank line and a JSON body;
//   - binary frames carry a two-byte big-endian header length, the same kind
//     of header block with Path "audio", and raw audio.
//
// Every recognition turn starts with a RIFF/WAVE header and ends with an
// empty audio frame. The service answers with speech.hypothesis messages
// (mapped to partial transcripts), speech.phrase messages (mapped to final
// transcripts) and turn.end when the turn is over. In conversation mode a
// turn may end while the caller is still streaming; the session then opens
// a new turn transparently.
package azure

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/provider/stt"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	endpointTemplate = "wss://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1"
	defaultLanguage  = "en-US"

	closeTimeout = 3 * time.Second

	// Offsets and durations are reported in 100 ns ticks.
	tick = 100 * time.Nanosecond
)

// Option is a functional option for configuring the Azure Provider.
type Option func(*Provider)

// WithLanguage sets the provider-level default recognition language.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the regional endpoint. Used by tests and private
// endpoints.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by Azure AI Speech.
type Provider struct {
	key      string
	endpoint string
	language string
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Azure Provider. Both key and region must be non-empty.
func New(key, region string, opts ...Option) (*Provider, error) {
	if key == "" {
		return nil, errors.New("azure: subscription key must not be empty")
	}
	if region == "" {
		return nil, errors.New("azure: region must not be empty")
	}
	p := &Provider{
		key:      key,
		endpoint: fmt.Sprintf(endpointTemplate, region),
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a recognition connection, sends the speech configuration
// and returns a session ready to accept PCM audio.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("azure: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Ocp-Apim-Subscription-Key", p.key)
	headers.Set("X-ConnectionId", newID())

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("azure: dial: %w", err)
	}

	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = audio.Speech.SampleRate
	}
	if format.Channels <= 0 {
		format.Channels = audio.Speech.Channels
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		conn:       conn,
		ctx:        sctx,
		cancel:     cancel,
		format:     format,
		requestID:  newID(),
		needHeader: true,
		partials:   make(chan stt.Transcript, 64),
		finals:     make(chan stt.Transcript, 64),
		audio:      make(chan []byte, 256),
		done:       make(chan struct{}),
		ended:      make(chan struct{}),
		written:    make(chan struct{}),
		turnEnded:  make(chan struct{}, 1),
	}

	if err := s.sendConfig(ctx, cfg.Keywords); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "config failed")
		return nil, err
	}

	go s.readLoop()
	go s.writeLoop()

	return s, nil
}

// buildURL constructs the recognition URL with language and silence tuning.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	q := u.Query()
	q.Set("language", lang)
	q.Set("format", "detailed")
	if cfg.InitialSilence > 0 {
		q.Set("initialSilenceTimeoutMs", strconv.FormatInt(cfg.InitialSilence.Milliseconds(), 10))
	}
	if cfg.SegmentationSilence > 0 {
		q.Set("segmentationSilenceTimeoutMs", strconv.FormatInt(cfg.SegmentationSilence.Milliseconds(), 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

type session struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	format audio.Format

	turnMu     sync.Mutex
	requestID  string
	needHeader bool

	partials  chan stt.Transcript
	finals    chan stt.Transcript
	audio     chan []byte
	turnEnded chan struct{}

	done    chan struct{} // closed by Close
	ended   chan struct{} // closed when readLoop exits
	written chan struct{} // closed when writeLoop exits
	once    sync.Once

	errMu sync.Mutex
	err   error
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	case <-s.ended:
		return stt.ErrSessionClosed
	default:
	}
	if len(chunk) == 0 {
		return nil
	}
	select {
	case s.audio <- chunk:
		return nil
	default:
		return errors.New("azure: audio queue full, chunk dropped")
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close ends the current turn with an empty audio frame, waits briefly for
// the service to finish the turn and then closes the connection.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		<-s.written

		wctx, cancel := context.WithTimeout(s.ctx, closeTimeout)
		if err := s.conn.Write(wctx, websocket.MessageBinary, s.audioFrame(nil)); err == nil {
			select {
			case <-s.turnEnded:
			case <-s.ended:
			case <-wctx.Done():
			}
		}
		cancel()
		s.cancel()
		<-s.ended
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *session) sendConfig(ctx context.Context, keywords []stt.KeywordBoost) error {
	cfg := map[string]any{
		"context": map[string]any{
			"system": map[string]any{"name": "readalong", "version": "1.0.0"},
			"os":     map[string]any{"platform": "Go"},
			"audio":  map[string]any{"source": map[string]any{"type": "Stream"}},
		},
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("azure: encode speech.config: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, textFrame("speech.config", s.currentRequestID(), body)); err != nil {
		return fmt.Errorf("azure: send speech.config: %w", err)
	}
	return s.sendContext(ctx, keywords)
}

// sendContext sends the phrase list hints for the current turn.
func (s *session) sendContext(ctx context.Context, keywords []stt.KeywordBoost) error {
	if len(keywords) == 0 {
		return nil
	}
	items := make([]map[string]string, 0, len(keywords))
	for _, kw := range keywords {
		items = append(items, map[string]string{"Text": kw.Keyword})
	}
	body, err := json.Marshal(map[string]any{
		"dgi": map[string]any{
			"Groups": []map[string]any{{"Type": "Generic", "Items": items}},
		},
	})
	if err != nil {
		return fmt.Errorf("azure: encode speech.context: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, textFrame("speech.context", s.currentRequestID(), body)); err != nil {
		return fmt.Errorf("azure: send speech.context: %w", err)
	}
	return nil
}

func (s *session) currentRequestID() string {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	return s.requestID
}

// startTurn switches to a fresh request id; the next audio frame carries a
// new WAV header.
func (s *session) startTurn() {
	s.turnMu.Lock()
	s.requestID = newID()
	s.needHeader = true
	s.turnMu.Unlock()
}

// audioFrame builds a binary audio message for the current turn.
func (s *session) audioFrame(pcm []byte) []byte {
	return binaryFrame("audio", s.currentRequestID(), pcm)
}

func (s *session) writeLoop() {
	defer close(s.written)
	for {
		select {
		case chunk := <-s.audio:
			s.turnMu.Lock()
			header := s.needHeader
			s.needHeader = false
			s.turnMu.Unlock()
			if header {
				if err := s.conn.Write(s.ctx, websocket.MessageBinary, s.audioFrame(audio.WAVHeader(s.format, 0))); err != nil {
					return
				}
			}
			if err := s.conn.Write(s.ctx, websocket.MessageBinary, s.audioFrame(chunk)); err != nil {
				return
			}
		case <-s.done:
			return
		case <-s.ended:
			return
		}
	}
}

// speechResult covers the fields of speech.hypothesis and speech.phrase
// bodies this provider uses.
type speechResult struct {
	Text              string `json:"Text"`
	DisplayText       string `json:"DisplayText"`
	RecognitionStatus string `json:"RecognitionStatus"`
	Offset            int64  `json:"Offset"`
	Duration          int64  `json:"Duration"`
	NBest             []struct {
		Confidence float64 `json:"Confidence"`
		Display    string  `json:"Display"`
	} `json:"NBest"`
}

func (s *session) readLoop() {
	defer close(s.ended)
	defer close(s.partials)
	defer close(s.finals)

	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					s.errMu.Lock()
					s.err = fmt.Errorf("azure: read: %w", err)
					s.errMu.Unlock()
				}
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		path, body, err := parseTextFrame(data)
		if err != nil {
			continue
		}

		switch path {
		case "speech.hypothesis":
			if t, ok := parseResult(body, false); ok {
				s.deliver(s.partials, t)
			}
		case "speech.phrase":
			if t, ok := parseResult(body, true); ok {
				s.deliver(s.finals, t)
			}
		case "turn.end":
			select {
			case <-s.done:
				select {
				case s.turnEnded <- struct{}{}:
				default:
				}
			default:
				s.startTurn()
			}
		}
	}
}

func (s *session) deliver(out chan<- stt.Transcript, t stt.Transcript) {
	select {
	case out <- t:
	case <-s.done:
	}
}

// parseResult maps a speech.hypothesis or speech.phrase body to a
// Transcript. Phrases with a status other than Success carry no text and are
// dropped.
func parseResult(body []byte, final bool) (stt.Transcript, bool) {
	var r speechResult
	if err := json.Unmarshal(body, &r); err != nil {
		return stt.Transcript{}, false
	}
	t := stt.Transcript{
		IsFinal:  final,
		Offset:   time.Duration(r.Offset) * tick,
		Duration: time.Duration(r.Duration) * tick,
	}
	if !final {
		t.Text = r.Text
		return t, true
	}
	if r.RecognitionStatus != "Success" {
		return stt.Transcript{}, false
	}
	t.Text = r.DisplayText
	if len(r.NBest) > 0 {
		t.Confidence = r.NBest[0].Confidence
		if t.Text == "" {
			t.Text = r.NBest[0].Display
		}
	}
	return t, true
}

// ---- wire format ----

func newID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func headerBlock(path, requestID, contentType string) string {
	var b strings.Builder
	b.WriteString("Path: " + path + "\r\n")
	b.WriteString("X-RequestId: " + requestID + "\r\n")
	b.WriteString("X-Timestamp: " + timestamp() + "\r\n")
	if contentType != "" {
		b.WriteString("Content-Type: " + contentType + "\r\n")
	}
	return b.String()
}

// textFrame builds a text message: headers, blank line, JSON body.
func textFrame(path, requestID string, body []byte) []byte {
	h := headerBlock(path, requestID, "application/json")
	out := make([]byte, 0, len(h)+2+len(body))
	out = append(out, h...)
	out = append(out, "\r\n"...)
	return append(out, body...)
}

// binaryFrame builds an audio message: uint16 big-endian header length,
// headers, payload. A nil payload marks the end of the turn's audio.
func binaryFrame(path, requestID string, payload []byte) []byte {
	h := headerBlock(path, requestID, "audio/x-wav")
	out := make([]byte, 2, 2+len(h)+len(payload))
	binary.BigEndian.PutUint16(out, uint16(len(h)))
	out = append(out, h...)
	return append(out, payload...)
}

// parseTextFrame splits a text message into its Path header and body.
func parseTextFrame(data []byte) (path string, body []byte, err error) {
	raw := string(data)
	idx := strings.Index(raw, "\r\n\r\n")
	if idx < 0 {
		return "", nil, errors.New("azure: message without header terminator")
	}
	for _, line := range strings.Split(raw[:idx], "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "Path") {
			path = strings.ToLower(strings.TrimSpace(value))
		}
	}
	if path == "" {
		return "", nil, errors.New("azure: message without Path header")
	}
	return path, data[idx+4:], nil
}
