package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/readalong/pkg/provider/stt"
	"github.com/MrWong99/readalong/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText. It increments *callCount on every
// matched request and records the last prompt field it saw.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32, prompt *atomic.Value) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		if prompt != nil {
			_ = r.ParseMultipartForm(1 << 20)
			prompt.Store(r.FormValue("prompt"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
}

// makeSpeechPCM generates a 440 Hz sine wave whose RMS is well above the
// silence threshold.
func makeSpeechPCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func makeSilencePCM(samples int) []byte {
	return make([]byte, samples*2)
}

func mustStartStream(t *testing.T, p *whisper.Provider, cfg stt.StreamConfig) stt.SessionHandle {
	t.Helper()
	h, err := p.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	return h
}

var speechCfg = stt.StreamConfig{SampleRate: 16000, Channels: 1, SegmentationSilence: 100 * time.Millisecond}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty server URL")
	}
}

func TestStartStream_CancelledContext_ReturnsError(t *testing.T) {
	p, _ := whisper.New("http://localhost:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, speechCfg); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ---- segmentation -----------------------------------------------------------

func TestSilenceAloneDoesNotTriggerInference(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "unexpected", &calls, nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, speechCfg)

	_ = h.SendAudio(makeSilencePCM(16000))
	time.Sleep(150 * time.Millisecond)
	h.Close()

	if n := calls.Load(); n != 0 {
		t.Errorf("inference called %d time(s) for silence-only audio; want 0", n)
	}
}

func TestSpeechFollowedBySilenceTriggersInference(t *testing.T) {
	const wantText = "the cat sat on the mat"
	var prompt atomic.Value
	srv := newMockServer(t, wantText, nil, &prompt)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	cfg := speechCfg
	cfg.Keywords = stt.KeywordsFromWords([]string{"the", "cat", "sat"}, 1)
	h := mustStartStream(t, p, cfg)
	defer h.Close()

	if err := h.SendAudio(makeSpeechPCM(1600)); err != nil {
		t.Fatalf("SendAudio (speech): %v", err)
	}
	if err := h.SendAudio(makeSilencePCM(1600)); err != nil {
		t.Fatalf("SendAudio (silence): %v", err)
	}

	select {
	case tr := <-h.Finals():
		if tr.Text != wantText {
			t.Errorf("Finals().Text = %q; want %q", tr.Text, wantText)
		}
		if !tr.IsFinal {
			t.Error("Finals() transcript should have IsFinal = true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final transcript")
	}
	if got, _ := prompt.Load().(string); got != "the cat sat" {
		t.Errorf("prompt = %q, want %q", got, "the cat sat")
	}
}

func TestMaxBufferExceededForcesFlush(t *testing.T) {
	const wantText = "once upon a time"
	srv := newMockServer(t, wantText, nil, nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL, whisper.WithMaxBufferDuration(200*time.Millisecond))
	cfg := speechCfg
	cfg.SegmentationSilence = 10 * time.Second
	h := mustStartStream(t, p, cfg)
	defer h.Close()

	if err := h.SendAudio(makeSpeechPCM(3360)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case tr := <-h.Finals():
		if tr.Text != wantText {
			t.Errorf("Finals().Text = %q; want %q", tr.Text, wantText)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for forced-flush transcript")
	}
}

// ---- session close ----------------------------------------------------------

func TestClose_ClosesChannels(t *testing.T) {
	srv := newMockServer(t, "", nil, nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, speechCfg)
	if err := h.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}

	if _, open := <-h.Partials(); open {
		t.Error("Partials channel should be closed after Close()")
	}
	if _, open := <-h.Finals(); open {
		t.Error("Finals channel should be closed after Close()")
	}
	if err := h.SendAudio(makeSpeechPCM(100)); err == nil {
		t.Fatal("SendAudio after Close() should return an error")
	}
	if err := h.Err(); err != nil {
		t.Errorf("Err() after Close = %v, want nil", err)
	}
}

// ---- error handling ---------------------------------------------------------

func TestRepeatedServerErrorsEndSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, speechCfg)
	defer h.Close()

	for i := 0; i < 3; i++ {
		_ = h.SendAudio(makeSpeechPCM(1600))
		_ = h.SendAudio(makeSilencePCM(1600))
	}

	select {
	case _, open := <-h.Finals():
		if open {
			t.Fatal("expected no finals on server error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session to end after repeated failures")
	}
	if h.Err() == nil {
		t.Error("Err() = nil after repeated inference failures, want error")
	}
}

func TestInference_EmptyResponse_ProducesNoTranscript(t *testing.T) {
	srv := newMockServer(t, "   ", nil, nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, speechCfg)
	defer h.Close()

	_ = h.SendAudio(makeSpeechPCM(1600))
	_ = h.SendAudio(makeSilencePCM(1600))

	select {
	case tr := <-h.Finals():
		t.Errorf("received transcript %q for blank server response; expected none", tr.Text)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestConcurrentSendAudio_DoesNotRace(t *testing.T) {
	srv := newMockServer(t, "hello", nil, nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, speechCfg)
	defer h.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = h.SendAudio(makeSpeechPCM(160))
			}
		}()
	}
	wg.Wait()
}
