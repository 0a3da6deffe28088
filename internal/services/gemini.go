package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"douly-backend/internal/metrics"
	"douly-backend/internal/models"
)

// ErrRemoteUnavailable covers every way a hosted model call can fail:
// transport errors, blocked responses and empty answers.
var ErrRemoteUnavailable = errors.New("remote model unavailable")

type GeminiService struct {
	client      *genai.Client
	modelName   string
	temperature float32
	topP        float32
	rateChan    chan struct{} // Token bucket
}

func NewGeminiService(apiKey, modelName string, temperature, topP float64, concurrentReqs int) (*GeminiService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if concurrentReqs < 1 {
		concurrentReqs = 1
	}

	// Token bucket for rate limiting
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		client:      client,
		modelName:   modelName,
		temperature: float32(temperature),
		topP:        float32(topP),
		rateChan:    rateChan,
	}, nil
}

func (s *GeminiService) Close() {
	s.client.Close()
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// Send issues one chat call: history followed by a new user turn made of
// text and images. The history slice is not modified.
func (s *GeminiService) Send(ctx context.Context, history []models.ChatTurn, text string, images []models.Attachment, instruction string) (string, error) {
	if err := s.acquireRate(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer s.releaseRate()

	// GenerativeModel is a cheap value; one per call keeps the system
	// instruction local to this session.
	model := s.client.GenerativeModel(s.modelName)
	model.SetTemperature(s.temperature)
	model.SetTopP(s.topP)
	if instruction != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instruction)}}
	}

	parts := newTurnParts(text, images)
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: empty turn", ErrRemoteUnavailable)
	}

	cs := model.StartChat()
	cs.History, parts = withPending(toContents(history), parts)

	start := time.Now()
	resp, err := cs.SendMessage(ctx, parts...)
	metrics.RemoteCallDuration.WithLabelValues("conversation").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			log.Printf("WARNING: Gemini candidate %d stopped due to %s", i, cand.FinishReason)
		}
	}

	reply := strings.TrimSpace(extractText(resp))
	if reply == "" {
		return "", fmt.Errorf("%w: empty response", ErrRemoteUnavailable)
	}
	return reply, nil
}

func newTurnParts(text string, images []models.Attachment) []genai.Part {
	var parts []genai.Part
	if strings.TrimSpace(text) != "" {
		parts = append(parts, genai.Text(text))
	}
	for _, img := range images {
		if len(img.Data) == 0 {
			continue
		}
		parts = append(parts, genai.Blob{MIMEType: img.MIMEType, Data: img.Data})
	}
	return parts
}

// toContents maps chat turns onto Gemini contents. The conversation must
// open with a user turn and roles must alternate, so leading model turns
// are dropped and consecutive turns of one role are merged. Transient turns
// never reach the model.
func toContents(history []models.ChatTurn) []*genai.Content {
	var contents []*genai.Content
	for _, turn := range history {
		if turn.Transient || strings.TrimSpace(turn.Text) == "" {
			continue
		}
		role := string(turn.Role)
		if len(contents) == 0 && turn.Role != models.RoleUser {
			continue
		}
		if last := len(contents) - 1; last >= 0 && contents[last].Role == role {
			contents[last].Parts = append(contents[last].Parts, genai.Text(turn.Text))
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(turn.Text)}})
	}
	return contents
}

// withPending folds a trailing user content, left behind by a turn that got
// no answer, into the new turn so the history still ends on a model turn.
func withPending(contents []*genai.Content, parts []genai.Part) ([]*genai.Content, []genai.Part) {
	last := len(contents) - 1
	if last < 0 || contents[last].Role != string(models.RoleUser) {
		return contents, parts
	}
	merged := make([]genai.Part, 0, len(contents[last].Parts)+len(parts))
	merged = append(merged, contents[last].Parts...)
	merged = append(merged, parts...)
	return contents[:last], merged
}

// Helper functions

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
