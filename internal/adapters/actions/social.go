package actions

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PabloGalante/equalizer/internal/domain"
)

const tweetIntentURL = "https://twitter.com/intent/tweet"

var threadPosts = []string{
	"post_hook",
	"post_math",
	"post_violations",
	"post_authorities",
	"post_community",
	"post_action",
}

var hospitalHandles = map[string]string{
	"fortis":    "@FortisHealthcare",
	"max":       "@MaxHealthcare",
	"apollo":    "@HospitalsApollo",
	"medanta":   "@MedantaHospital",
	"manipal":   "@ManipalHealth",
	"narayana":  "@NarayanaHealth",
	"kokilaben": "@KDAHMumbai",
	"hinduja":   "@HindujaHospital",
	"jaslok":    "@JaslokHospital",
	"blk":       "@BLKHospital",
}

var authorityHandles = []string{"@MoHFW_INDIA", "@PMOIndia", "@AyushmanNHA", "@NMC_IND", "@india_nhrc"}

// SocialExecutor drafts a public thread. Posting stays with the patient:
// the result carries one intent URL per post.
type SocialExecutor struct {
	settings Settings
}

func NewSocialExecutor(s Settings) *SocialExecutor {
	return &SocialExecutor{settings: s}
}

func (s *SocialExecutor) Execute(ctx context.Context, c domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error) {
	if platform := step.Params.Get("platform", "twitter"); platform != "twitter" {
		return nil, fmt.Errorf("%w: unsupported platform %q", domain.ErrInvalidInput, platform)
	}

	data := newLetter(c)
	data.HospitalTags = hospitalHandle(c.Facts.HospitalName)
	data.AuthorityTags = strings.Join(authorityHandles, " ")
	data.Violations = violations(data.OverchargePct)

	thread := make([]string, 0, len(threadPosts))
	for _, name := range threadPosts {
		post, err := render(name, data)
		if err != nil {
			return nil, err
		}
		thread = append(thread, post)
	}

	if s.settings.DemoMode {
		if err := pause(ctx, s.settings.DemoDelay); err != nil {
			return nil, err
		}
	}

	urls := intentURLs(thread)
	return &domain.StepResult{
		Message:  fmt.Sprintf("Twitter thread ready! %d posts to publish", len(thread)),
		DemoMode: s.settings.DemoMode,
		Data: map[string]any{
			"twitter_thread":      thread,
			"twitter_intent_urls": urls,
			"full_post":           strings.Join(thread, "\n\n---\n\n"),
			"thread_count":        len(thread),
			"tagged_hospital":     data.HospitalTags,
			"tagged_authorities":  authorityHandles,
			"action_required":     "Post each tweet in order to create a thread",
		},
	}, nil
}

func hospitalHandle(name string) string {
	words := strings.Fields(strings.ToLower(name))
	for _, w := range words {
		if h, ok := hospitalHandles[w]; ok {
			return h
		}
	}
	return ""
}

func violations(pct float64) []string {
	var out []string
	if pct > 100 {
		out = append(out, "CGHS rate violation (100%+ markup)")
	}
	if pct > 50 {
		out = append(out, "Clinical Establishments Act breach")
	}
	out = append(out, "Consumer Protection Act 2019")
	if pct > 200 {
		out = append(out, "Medical profiteering")
	}
	return out
}

func intentURLs(posts []string) []string {
	urls := make([]string, len(posts))
	for i, p := range posts {
		urls[i] = tweetIntentURL + "?" + url.Values{"text": {p}}.Encode()
	}
	return urls
}
