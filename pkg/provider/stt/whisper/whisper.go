// Package whisper provides a local whisper.cpp-backed STT provider.
//
// It connects to a running whisper-server binary (which exposes a REST API at
// POST /inference) and simulates streaming behaviour by buffering incoming PCM
// audio, applying an energy-based silence detector to segment utterances, and
// submitting each completed utterance as a batch inference request.
//
// whisper.cpp cannot revise a hypothesis, so the provider emits finals only;
// the Partials channel stays silent until it is closed with the session.
// Passage words from the stream config are forwarded as the inference prompt,
// which biases decoding toward the text being read.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	handle, err := p.StartStream(ctx, cfg)
//	handle.SendAudio(pcmChunk)
//	transcript := <-handle.Finals()
//	handle.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit PCM
	// units) below which audio is considered silent. 300 of a possible 32 767
	// corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage          = "en"
	defaultSilenceThreshold  = 650 * time.Millisecond
	defaultMaxBufferDuration = 10 * time.Second
	maxConsecutiveFailures   = 3
	flushTimeout             = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server.
// When empty the server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server. Only
// the primary subtag is used ("en-US" is sent as "en"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSilenceThreshold sets the trailing silence that ends an utterance when
// the stream config does not specify one. Defaults to 650 ms.
func WithSilenceThreshold(d time.Duration) Option {
	return func(p *Provider) {
		p.silenceThreshold = d
	}
}

// WithMaxBufferDuration sets the maximum utterance length before a flush is
// forced regardless of silence. Defaults to 10 s.
func WithMaxBufferDuration(d time.Duration) Option {
	return func(p *Provider) {
		p.maxBufferDuration = d
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP server.
// Each session maintains its own audio buffer and goroutine.
type Provider struct {
	serverURL         string
	model             string
	language          string
	silenceThreshold  time.Duration
	maxBufferDuration time.Duration
	httpClient        *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:         strings.TrimRight(serverURL, "/"),
		language:          defaultLanguage,
		silenceThreshold:  defaultSilenceThreshold,
		maxBufferDuration: defaultMaxBufferDuration,
		httpClient:        &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a new transcription session. No network connection is
// established until the first utterance is flushed, so it only fails when ctx
// is already cancelled.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	lang, _, _ = strings.Cut(lang, "-")

	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = audio.Speech.SampleRate
	}
	if format.Channels <= 0 {
		format.Channels = audio.Speech.Channels
	}

	silence := cfg.SegmentationSilence
	if silence <= 0 {
		silence = p.silenceThreshold
	}

	words := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		words = append(words, kw.Keyword)
	}

	s := &session{
		serverURL:         p.serverURL,
		model:             p.model,
		language:          lang,
		prompt:            strings.Join(words, " "),
		format:            format,
		silenceThreshold:  silence,
		maxBufferDuration: p.maxBufferDuration,
		httpClient:        p.httpClient,

		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
		ended:    make(chan struct{}),
	}

	go s.processLoop()

	return s, nil
}

// ---- session ----------------------------------------------------------------

// session is a live whisper transcription session. All mutable state that
// drives silence detection and buffering is confined to processLoop.
type session struct {
	serverURL         string
	model             string
	language          string
	prompt            string
	format            audio.Format
	silenceThreshold  time.Duration
	maxBufferDuration time.Duration
	httpClient        *http.Client

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done  chan struct{} // closed by Close
	ended chan struct{} // closed when processLoop exits
	once  sync.Once

	errMu sync.Mutex
	err   error
}

// SendAudio queues a chunk of 16-bit PCM for silence analysis and buffering.
// It never blocks; a full queue drops the chunk.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	case <-s.ended:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	default:
		return errors.New("whisper: audio queue full, chunk dropped")
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close terminates the session. Buffered speech is flushed to whisper.cpp
// first; its transcript is discarded if nobody reads Finals.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		<-s.ended
	})
	return nil
}

// processLoop is the single goroutine responsible for silence detection,
// audio buffering, and inference dispatch.
func (s *session) processLoop() {
	defer close(s.ended)
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []byte        // accumulated PCM for the current utterance
		hadSpeech bool          // true once any high-energy chunk has been buffered
		silence   time.Duration // consecutive silence accumulated after speech
		failures  int
	)
	maxBufferBytes := int(s.maxBufferDuration.Seconds() * float64(s.format.BytesPerSecond()))

	flush := func() bool {
		pcm := buffer
		speech := hadSpeech
		buffer, hadSpeech, silence = nil, false, 0
		if len(pcm) == 0 || !speech {
			return true
		}

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		text, err := s.infer(ctx, pcm)
		if err != nil {
			failures++
			if failures >= maxConsecutiveFailures {
				s.errMu.Lock()
				s.err = fmt.Errorf("whisper: %d consecutive inference failures: %w", failures, err)
				s.errMu.Unlock()
				return false
			}
			return true
		}
		failures = 0
		text = strings.TrimSpace(text)
		if text == "" {
			return true
		}
		select {
		case s.finals <- stt.Transcript{Text: text, IsFinal: true}:
		default:
		}
		return true
	}

	for {
		select {
		case <-s.done:
			flush()
			return

		case chunk := <-s.audioCh:
			if audio.RMS(chunk) < defaultRMSThreshold {
				// Leading silence before any speech is discarded.
				if !hadSpeech {
					continue
				}
				silence += s.format.Duration(len(chunk))
				buffer = append(buffer, chunk...)
				if silence >= s.silenceThreshold && !flush() {
					return
				}
				continue
			}
			hadSpeech = true
			silence = 0
			buffer = append(buffer, chunk...)
			if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes && !flush() {
				return
			}
		}
	}
}

// infer encodes pcm as a WAV file and POSTs it to the whisper.cpp /inference
// endpoint as multipart/form-data. It returns the transcribed text or an error.
func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, s.format)); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := map[string]string{
		"language":        s.language,
		"model":           s.model,
		"prompt":          s.prompt,
		"response_format": "json",
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}
