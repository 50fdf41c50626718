package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/snarg/stt-bench/internal/config"
)

var testAudio = Audio{Data: []byte("RIFF....WAVEfmt "), Filename: "clip.wav", ContentType: "audio/wav"}

func TestAudioExt(t *testing.T) {
	tests := []struct {
		audio Audio
		want  string
	}{
		{Audio{Filename: "a.WAV"}, "wav"},
		{Audio{Filename: "dir/b.m4a", ContentType: "audio/mpeg"}, "m4a"},
		{Audio{ContentType: "audio/x-wav"}, "wav"},
		{Audio{ContentType: "audio/flac"}, "flac"},
		{Audio{ContentType: "audio/webm;codecs=opus"}, "webm"},
		{Audio{}, "mp3"},
	}
	for _, tt := range tests {
		if got := tt.audio.Ext(); got != tt.want {
			t.Errorf("Ext(%+v) = %q, want %q", tt.audio, got, tt.want)
		}
	}
	if got := (Audio{}).MIMEType(); got != "audio/mpeg" {
		t.Errorf("default MIMEType = %q", got)
	}
	if got := (Audio{Filename: "x.flac"}).MIMEType(); got != "audio/flac" {
		t.Errorf("inferred MIMEType = %q", got)
	}
	if got := (Audio{ContentType: "audio/ogg"}).name(); got != "audio.ogg" {
		t.Errorf("name = %q, want audio.ogg", got)
	}
}

func TestWhisperClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.FormValue("model"); got != "large-v3" {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("language"); got != "fr" {
			t.Errorf("language = %q", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		if _, ok := r.MultipartForm.Value["prompt"]; ok {
			t.Error("empty prompt should be omitted")
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "clip.wav" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		w.Write([]byte(`{"text":" bonjour le monde","language":"fr","duration":1.5,
			"words":[{"word":"bonjour","start":0,"end":0.5},{"word":"le","start":0.5,"end":0.7}]}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "large-v3", 5*time.Second)
	resp, err := c.Transcribe(context.Background(), testAudio, Options{Language: "fr"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != " bonjour le monde" || resp.Language != "fr" || resp.Duration != 1.5 {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(resp.Words) != 2 || resp.Words[1].Word != "le" {
		t.Errorf("words = %+v", resp.Words)
	}
	if c.Name() != "whisper" || c.Model() != "large-v3" {
		t.Errorf("Name/Model = %s/%s", c.Name(), c.Model())
	}
}

func TestWhisperClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewWhisperClient(srv.URL, "", time.Second).Transcribe(context.Background(), testAudio, Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status 503") || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("error = %v", err)
	}
}

func TestDeepInfraClient_SegmentFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/whisper-large-v3-turbo" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer di-key" {
			t.Errorf("Authorization = %q", got)
		}
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Errorf("audio field missing: %v", err)
		}
		w.Write([]byte(`{"text":"one two three four","segments":[{"text":" one two","start":0,"end":1},{"text":"three four","start":1,"end":3}]}`))
	}))
	defer srv.Close()

	c := NewDeepInfraClient("di-key", "openai/whisper-large-v3-turbo", time.Second)
	c.baseURL = srv.URL + "/"
	resp, err := c.Transcribe(context.Background(), testAudio, Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(resp.Words) != 4 {
		t.Fatalf("words = %+v", resp.Words)
	}
	if resp.Words[1].Start != 0.5 || resp.Words[1].End != 1 {
		t.Errorf("word 1 timing = %+v", resp.Words[1])
	}
	if resp.Words[3].Start != 2 || resp.Words[3].End != 3 {
		t.Errorf("word 3 timing = %+v", resp.Words[3])
	}
}

func TestElevenLabsClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "el-key" {
			t.Errorf("xi-api-key = %q", got)
		}
		r.ParseMultipartForm(1 << 20)
		if got := r.FormValue("model_id"); got != "scribe_v2" {
			t.Errorf("model_id = %q", got)
		}
		if got := r.FormValue("keyterms"); got != `[{"text":"Kubernetes"},{"text":"gRPC"}]` {
			t.Errorf("keyterms = %q", got)
		}
		w.Write([]byte(`{"language_code":"en","text":"hi there","words":[
			{"text":"hi","type":"word","start":0,"end":0.2},
			{"text":" ","type":"spacing","start":0.2,"end":0.25},
			{"text":"there","type":"word","start":0.25,"end":0.6}]}`))
	}))
	defer srv.Close()

	c := NewElevenLabsClient("el-key", "scribe_v2", "Kubernetes", time.Second)
	c.endpoint = srv.URL
	resp, err := c.Transcribe(context.Background(), testAudio, Options{Prompt: " gRPC "})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "hi there" || len(resp.Words) != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestDeepgramClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token dg-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "audio/wav" {
			t.Errorf("Content-Type = %q", got)
		}
		q := r.URL.Query()
		if q.Get("model") != "nova-2" || q.Get("smart_format") != "false" || q.Get("language") != "zh" {
			t.Errorf("query = %v", q)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != string(testAudio.Data) {
			t.Errorf("body = %q", body)
		}
		w.Write([]byte(`{"metadata":{"duration":2.25},"results":{"channels":[{"alternatives":[
			{"transcript":"ni hao","words":[{"word":"ni","start":0,"end":0.3},{"word":"hao","start":0.3,"end":0.7}]}]}]}}`))
	}))
	defer srv.Close()

	c := NewDeepgramClient("dg-key", "nova-2", time.Second)
	c.endpoint = srv.URL
	resp, err := c.Transcribe(context.Background(), testAudio, Options{Language: ProviderLanguage("zh", "deepgram")})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "ni hao" || resp.Duration != 2.25 || len(resp.Words) != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestDeepgramClient_NoChannels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer srv.Close()

	c := NewDeepgramClient("k", "nova-2", time.Second)
	c.endpoint = srv.URL
	resp, err := c.Transcribe(context.Background(), testAudio, Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "" {
		t.Errorf("Text = %q, want empty", resp.Text)
	}
}

func TestOpenAIClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		r.ParseMultipartForm(1 << 20)
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"task":"transcribe","language":"english","duration":1.0,"text":"Hello world.",
			"words":[{"word":"Hello","start":0,"end":0.4},{"word":"world","start":0.4,"end":0.9}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", "", srv.URL+"/v1", time.Second)
	resp, err := c.Transcribe(context.Background(), testAudio, Options{Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "Hello world." || len(resp.Words) != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
	if c.Model() != "whisper-1" {
		t.Errorf("Model = %q", c.Model())
	}
}

func TestRegistryFromConfig(t *testing.T) {
	cfg := config.ProviderConfig{
		OpenAIAPIKey:       "sk",
		DeepgramAPIKey:     "dg",
		DeepgramModel:      "nova-2",
		WhisperURL:         "http://localhost:9000/v1/audio/transcriptions",
		GoogleAPIKey:       "g",
		SonioxAPIKey:       "sx",
		SpeechmaticsAPIKey: "sm",
		SarvamAPIKey:       "sv",
	}

	r := RegistryFromConfig(cfg, time.Second)
	if got := strings.Join(r.Names(), ","); got != "deepgram,google,openai,sarvam,soniox,speechmatics,whisper" {
		t.Errorf("Names = %s", got)
	}

	cfg.Enabled = "deepgram"
	r = RegistryFromConfig(cfg, time.Second)
	if got := strings.Join(r.Names(), ","); got != "deepgram" {
		t.Errorf("Names with allowlist = %s", got)
	}

	if _, err := r.Get("openai"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Get(openai) err = %v, want ErrUnknownProvider", err)
	}
}

func TestRegistrySelect(t *testing.T) {
	r := NewRegistry(
		NewDeepgramClient("k", "nova-2", time.Second),
		NewWhisperClient("http://x", "m", time.Second),
	)

	all, err := r.Select(nil)
	if err != nil || len(all) != 2 || all[0].Name() != "deepgram" {
		t.Fatalf("Select(nil) = %v, %v", all, err)
	}

	some, err := r.Select([]string{"whisper", "whisper"})
	if err != nil || len(some) != 1 {
		t.Fatalf("Select(dup) = %v, %v", some, err)
	}

	if _, err := r.Select([]string{"parrot"}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Select(parrot) err = %v", err)
	}
}

func TestLanguages(t *testing.T) {
	tests := []struct {
		code, provider, want string
	}{
		{"ZH", "deepgram", "zh"},
		{"zh", "speechmatics", "cmn"},
		{"zh", "google", "zh"},
		{"en", "google", "en-US"},
		{"pt", "google", "pt-BR"},
		{"hi", "sarvam", "hi-IN"},
		{"fr", "sarvam", "en-IN"},
		{"ja", "soniox", "ja"},
	}
	for _, tt := range tests {
		if got := ProviderLanguage(tt.code, tt.provider); got != tt.want {
			t.Errorf("ProviderLanguage(%q, %q) = %q, want %q", tt.code, tt.provider, got, tt.want)
		}
	}
	if got := ProviderLanguage("zh", "openai"); got != "zh" {
		t.Errorf("openai zh = %q", got)
	}
	if got := ProviderLanguage("xx", "openai"); got != "xx" {
		t.Errorf("unknown passthrough = %q", got)
	}
	if got := LanguageLabel("hi"); got != "Hindi" {
		t.Errorf("label = %q", got)
	}
	if got := LanguageLabel("xx"); got != "xx" {
		t.Errorf("unknown label = %q", got)
	}
}

func TestStripSpeakerLabels(t *testing.T) {
	in := "Speaker 1: Hello there.\nSpeaker 2:   Hi!\n  speaker 10: bye"
	want := "Hello there.\nHi!\nbye"
	if got := StripSpeakerLabels(in); got != want {
		t.Errorf("StripSpeakerLabels = %q, want %q", got, want)
	}
	if got := StripSpeakerLabels("no labels here"); got != "no labels here" {
		t.Errorf("unlabeled text changed: %q", got)
	}
}

func TestPreprocess_NoSox(t *testing.T) {
	if CheckSox() {
		t.Skip("sox installed; passthrough path not reachable")
	}
	out, err := Preprocess(context.Background(), testAudio)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if string(out.Data) != string(testAudio.Data) {
		t.Error("audio should pass through unchanged without sox")
	}
}
