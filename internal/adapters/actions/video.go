package actions

import (
	"context"
	"fmt"

	"github.com/PabloGalante/equalizer/internal/domain"
	"github.com/PabloGalante/equalizer/internal/observability"
)

// TextGenerator writes the video script.
type TextGenerator interface {
	GenerateText(ctx context.Context, system, prompt string) (string, error)
}

// VideoRenderer turns a script into a hosted video and returns its URI.
type VideoRenderer interface {
	GenerateVideo(ctx context.Context, prompt string) (string, error)
}

const scriptSystem = "You write short, factual, hard-hitting scripts for patient advocacy videos."

// VideoExecutor scripts and renders a short video about the overcharge.
type VideoExecutor struct {
	settings Settings
	writer   TextGenerator
	renderer VideoRenderer
}

func NewVideoExecutor(s Settings, writer TextGenerator, renderer VideoRenderer) *VideoExecutor {
	return &VideoExecutor{settings: s, writer: writer, renderer: renderer}
}

func (v *VideoExecutor) Execute(ctx context.Context, c domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error) {
	data := newLetter(c)
	post, err := render("video_post", data)
	if err != nil {
		return nil, err
	}

	if v.settings.DemoMode || v.renderer == nil {
		script, err := render("video_script", data)
		if err != nil {
			return nil, err
		}
		if err := pause(ctx, v.settings.DemoDelay); err != nil {
			return nil, err
		}
		return &domain.StepResult{
			Message:  "Video script ready (render simulated)",
			DemoMode: true,
			Data: map[string]any{
				"script":       script,
				"twitter_text": post,
				"style":        step.Params.Get("style", "expose"),
			},
		}, nil
	}

	script, err := v.script(ctx, data)
	if err != nil {
		return nil, err
	}

	uri, err := v.renderer.GenerateVideo(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("rendering video: %w", err)
	}

	return &domain.StepResult{
		Message: "Video generated",
		Data: map[string]any{
			"script":       script,
			"twitter_text": post,
			"video_uri":    uri,
			"style":        step.Params.Get("style", "expose"),
		},
	}, nil
}

// script asks the writer for a script and falls back to the canned one.
func (v *VideoExecutor) script(ctx context.Context, data letter) (string, error) {
	if v.writer != nil {
		prompt, err := render("video_prompt", data)
		if err != nil {
			return "", err
		}
		script, err := v.writer.GenerateText(ctx, scriptSystem, prompt)
		if err == nil {
			return script, nil
		}
		observability.LoggerFromContext(ctx).Warn("script generation failed, using template", "error", err)
	}
	return render("video_script", data)
}
