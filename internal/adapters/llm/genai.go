package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/PabloGalante/equalizer/internal/domain"
)

const transcribeInstruction = `Transcribe the speech in this audio clip verbatim.
Return only the spoken words as plain text. If nobody speaks, return an empty answer.`

// GenAIConfig selects the backend. Backend is "vertex" or "gemini".
type GenAIConfig struct {
	Backend    string
	Project    string
	Location   string
	APIKey     string
	Model      string
	VideoModel string
}

// GenAIClient talks to Gemini models, either through Vertex AI or the
// Gemini API. It implements domain.ReasoningClient and domain.Transcriber.
type GenAIClient struct {
	client     *genai.Client
	modelName  string
	videoModel string

	// PollInterval is how often a video render is checked.
	PollInterval time.Duration
}

// NewGenAIClient creates the underlying genai client for cfg.Backend.
func NewGenAIClient(ctx context.Context, cfg GenAIConfig) (*GenAIClient, error) {
	cc := &genai.ClientConfig{}
	switch cfg.Backend {
	case "vertex":
		if cfg.Project == "" || cfg.Location == "" {
			return nil, fmt.Errorf("project and location must be set for Vertex AI")
		}
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("api key must be set for the Gemini API")
		}
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	default:
		return nil, fmt.Errorf("unknown genai backend %q", cfg.Backend)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.5-flash-lite"
	}

	return &GenAIClient{
		client:       client,
		modelName:    modelName,
		videoModel:   cfg.VideoModel,
		PollInterval: 10 * time.Second,
	}, nil
}

// WithModel returns a client sharing the connection but using another model.
func (g *GenAIClient) WithModel(name string) *GenAIClient {
	cp := *g
	cp.modelName = name
	return &cp
}

func (g *GenAIClient) Model() string {
	return g.modelName
}

// Analyze implements domain.ReasoningClient.
func (g *GenAIClient) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.Analysis, error) {
	p := BuildAnalysisPrompt(req)

	temp := float32(0.7)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   int32(1024),
		ResponseMIMEType:  "application/json",
	}

	contents := []*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)}
	res, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		return nil, wrapUpstream(ctx, fmt.Errorf("%s generate content: %w", g.modelName, err))
	}

	text := res.Text()
	if text == "" {
		return nil, fmt.Errorf("%s returned empty text", g.modelName)
	}
	return ParseAnalysis(text)
}

// Transcribe implements domain.Transcriber using audio understanding.
func (g *GenAIClient) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcribeInstruction),
			genai.NewPartFromBytes(audio, mimeType),
		}, genai.RoleUser),
	}

	temp := float32(0)
	res, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, &genai.GenerateContentConfig{
		Temperature: &temp,
	})
	if err != nil {
		return "", wrapUpstream(ctx, fmt.Errorf("%s transcribe: %w", g.modelName, err))
	}
	return strings.TrimSpace(res.Text()), nil
}

// GenerateText runs a single-turn prompt and returns the plain answer.
func (g *GenAIClient) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	temp := float32(0.8)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(2048),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	res, err := g.client.Models.GenerateContent(ctx, g.modelName, genai.Text(prompt), cfg)
	if err != nil {
		return "", wrapUpstream(ctx, fmt.Errorf("%s generate text: %w", g.modelName, err))
	}
	text := strings.TrimSpace(res.Text())
	if text == "" {
		return "", fmt.Errorf("%s returned empty text", g.modelName)
	}
	return text, nil
}

// GenerateVideo starts a render on the video model and polls until it
// finishes or ctx ends. It returns the URI of the first generated video.
func (g *GenAIClient) GenerateVideo(ctx context.Context, prompt string) (string, error) {
	if g.videoModel == "" {
		return "", errors.New("no video model configured")
	}

	op, err := g.client.Models.GenerateVideos(ctx, g.videoModel, prompt, nil, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		AspectRatio:    "9:16",
	})
	if err != nil {
		return "", wrapUpstream(ctx, fmt.Errorf("%s generate videos: %w", g.videoModel, err))
	}

	ticker := time.NewTicker(g.PollInterval)
	defer ticker.Stop()

	for !op.Done {
		select {
		case <-ctx.Done():
			return "", wrapUpstream(ctx, fmt.Errorf("waiting for %s: %w", op.Name, ctx.Err()))
		case <-ticker.C:
		}
		op, err = g.client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return "", wrapUpstream(ctx, fmt.Errorf("polling %s: %w", g.videoModel, err))
		}
	}

	if len(op.Error) > 0 {
		return "", fmt.Errorf("video render failed: %v", op.Error["message"])
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return "", errors.New("video render returned no video")
	}
	return op.Response.GeneratedVideos[0].Video.URI, nil
}

func wrapUpstream(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrUpstreamTimeout, err)
	}
	return err
}
