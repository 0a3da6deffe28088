package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"douly-backend/internal/audio"
	"douly-backend/internal/markup"
	"douly-backend/internal/metrics"
)

// Voices lists the prebuilt voices a visitor can pick.
var Voices = []string{"Kore", "Puck", "Charon", "Fenrir", "Zephyr"}

// SpeechService turns assistant replies into PCM audio. Every failure is
// swallowed: audio is an enhancement and never fails a turn.
type SpeechService struct {
	client       *genai.Client
	model        string
	defaultVoice string
}

// NewSpeechService builds the TTS client. An empty endpoint uses the public
// Gemini API.
func NewSpeechService(apiKey, model, defaultVoice, endpoint string) (*SpeechService, error) {
	if !knownVoice(defaultVoice) {
		defaultVoice = Voices[0]
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		HTTPOptions: genai.HTTPOptions{BaseURL: strings.TrimRight(endpoint, "/")},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	return &SpeechService{client: client, model: model, defaultVoice: defaultVoice}, nil
}

// Synthesize returns the spoken form of text, or nil when anything fails.
func (s *SpeechService) Synthesize(ctx context.Context, text, voiceID string) *audio.Payload {
	clean := SpeechText(text)
	if clean == "" {
		return nil
	}

	payload, err := s.synthesize(ctx, clean, s.voice(voiceID))
	if err != nil {
		metrics.SpeechTotal.WithLabelValues("failed").Inc()
		log.Printf("WARNING: speech synthesis skipped: %v", err)
		return nil
	}
	metrics.SpeechTotal.WithLabelValues("ok").Inc()
	return payload
}

func (s *SpeechService) synthesize(ctx context.Context, text, voice string) (*audio.Payload, error) {
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	start := time.Now()
	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(text), config)
	metrics.RemoteCallDuration.WithLabelValues("speech").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &audio.Payload{
					Base64:   base64.StdEncoding.EncodeToString(part.InlineData.Data),
					MIMEType: part.InlineData.MIMEType,
				}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no audio in response", ErrRemoteUnavailable)
}

func (s *SpeechService) voice(voiceID string) string {
	if knownVoice(voiceID) {
		return voiceID
	}
	return s.defaultVoice
}

func knownVoice(v string) bool {
	for _, known := range Voices {
		if known == v {
			return true
		}
	}
	return false
}

// SpeechText removes markup and markdown symbols that a speech engine would
// read aloud.
func SpeechText(text string) string {
	text = markup.PlainText(text)
	text = strings.NewReplacer("*", "", "#", "", "|", " ").Replace(text)
	return strings.Join(strings.Fields(text), " ")
}
