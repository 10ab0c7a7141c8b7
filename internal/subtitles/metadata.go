package subtitles

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const metadataModel = "gemini-2.0-flash"

// ClipMetadata is the publishing copy suggested for a clip.
type ClipMetadata struct {
	Titles   []string `json:"titles"`
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
}

// MetadataGenerator asks Gemini for title, caption, and hashtag
// suggestions based on a clip's transcript.
type MetadataGenerator struct {
	apiKey string

	// generate is swapped in tests.
	generate func(ctx context.Context, prompt string) (string, error)
}

func NewMetadataGenerator(apiKey string) *MetadataGenerator {
	g := &MetadataGenerator{apiKey: apiKey}
	g.generate = g.callGemini
	return g
}

// Enabled reports whether an API key was configured.
func (g *MetadataGenerator) Enabled() bool {
	return g.apiKey != ""
}

// Generate returns suggested publishing metadata for the transcript text.
func (g *MetadataGenerator) Generate(ctx context.Context, transcriptText string) (ClipMetadata, error) {
	if !g.Enabled() {
		return ClipMetadata{}, fmt.Errorf("gemini api key is not configured")
	}
	if strings.TrimSpace(transcriptText) == "" {
		return ClipMetadata{}, fmt.Errorf("transcript text is empty")
	}

	prompt := fmt.Sprintf(`You are a social media assistant for short-form video.

Write 3 title options that are catchy but accurate, 1 engaging caption, and 5-7 relevant hashtags for a vertical clip with this transcript.

Respond with valid JSON only, in this shape:
{"titles": ["...", "...", "..."], "caption": "...", "hashtags": ["#...", "#..."]}

Transcript:
%q`, transcriptText)

	raw, err := g.generate(ctx, prompt)
	if err != nil {
		return ClipMetadata{}, fmt.Errorf("gemini request: %w", err)
	}

	var meta ClipMetadata
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &meta); err != nil {
		return ClipMetadata{}, fmt.Errorf("parse gemini response: %w", err)
	}
	if len(meta.Titles) == 0 && meta.Caption == "" {
		return ClipMetadata{}, fmt.Errorf("gemini response had no usable content")
	}
	return meta, nil
}

func (g *MetadataGenerator) callGemini(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(metadataModel)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty response")
	}
	return b.String(), nil
}

// stripCodeFence removes the markdown fencing models tend to wrap JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
