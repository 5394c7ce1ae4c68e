package creative

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/thenote/backend/pkg/telemetry"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// OpenAIGenerator produces lyric content with a chat model and delegates
// the remaining modes to the deterministic stub. A failed or empty model
// response falls back to the stub lyric as well, so Generate degrades
// rather than erroring on upstream trouble.
type OpenAIGenerator struct {
	client openai.Client
	model  string
	stub   *StubGenerator
	tel    *telemetry.Registry
	logger *slog.Logger
}

// NewOpenAIGenerator creates a generator talking to the OpenAI API.
// baseURL overrides the endpoint when non-empty (compatible providers).
func NewOpenAIGenerator(apiKey, baseURL, model string, tel *telemetry.Registry, logger *slog.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = DefaultModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIGenerator{
		client: openai.NewClient(opts...),
		model:  model,
		stub:   NewStubGenerator(nil, logger),
		tel:    tel,
		logger: logger,
	}
}

// Generate builds one item per requested mode, using the chat model for
// lyric outputs.
func (g *OpenAIGenerator) Generate(ctx context.Context, req *GenerationRequest) (*GenerationBundle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	mood := resolveMood(req.EmotionalGoal)

	outputs := make([]GeneratedItem, 0, len(req.Modes))
	for _, mode := range req.Modes {
		if mode != ModeLyric {
			var payload map[string]any
			switch mode {
			case ModeMelody:
				payload = melodyPayload(req.Tempo, req.Key)
			case ModeMetaphor:
				payload = metaphorPayload(req.Prompt)
			default:
				payload = structurePayload(req.Prompt)
			}
			outputs = append(outputs, GeneratedItem{
				Type:       mode,
				Payload:    payload,
				Confidence: stubConfidence(req.Prompt, mode),
			})
			continue
		}

		lines, err := g.lyricLines(ctx, req.Prompt, mood)
		if err != nil {
			g.logger.Warn("lyric model call failed, using seed phrases",
				"session_id", req.SessionID,
				"request_id", req.RequestID,
				"error", err)
			outputs = append(outputs, GeneratedItem{
				Type:       ModeLyric,
				Payload:    lyricPayload(req.Prompt, mood),
				Confidence: stubConfidence(req.Prompt, ModeLyric),
			})
			continue
		}
		outputs = append(outputs, GeneratedItem{
			Type: ModeLyric,
			Payload: map[string]any{
				"prompt": titleCase(normalizeText(req.Prompt)),
				"lines":  lines,
			},
			Confidence: 0.9,
		})
	}

	g.logger.Info("generation completed",
		"session_id", req.SessionID,
		"request_id", req.RequestID,
		"modes", len(req.Modes),
		"mood", mood,
		"model", g.model)
	if g.tel != nil {
		g.tel.Inc("imagination.requests", 1)
	}
	return &GenerationBundle{
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Outputs:   outputs,
	}, nil
}

func (g *OpenAIGenerator) lyricLines(ctx context.Context, prompt, mood string) ([]string, error) {
	instruction := fmt.Sprintf(
		"Write three short evocative lyric lines for a %s song about: %s. "+
			"Answer with exactly one lyric line per output line, no numbering.",
		mood, normalizeText(prompt))
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(instruction)},
	})
	if err != nil {
		return nil, fmt.Errorf("creative: lyric completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("creative: lyric completion: empty response")
	}
	var lines []string
	for _, line := range strings.Split(resp.Choices[0].Message.Content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == 3 {
			break
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("creative: lyric completion: no usable lines")
	}
	return lines, nil
}
