package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// escalationRequest mirrors the server's case facts.
type escalationRequest struct {
	HospitalName   string  `json:"hospital_name"`
	HospitalCity   string  `json:"hospital_city,omitempty"`
	Procedure      string  `json:"procedure"`
	BilledAmount   float64 `json:"billed_amount"`
	FairAmount     float64 `json:"fair_amount"`
	PatientName    string  `json:"patient_name"`
	PatientEmail   string  `json:"patient_email"`
	HospitalEmail  string  `json:"hospital_email,omitempty"`
	EscalationType string  `json:"escalation_type,omitempty"`
}

type escalationStarted struct {
	SessionID string `json:"session_id"`
	Steps     []struct {
		Name string `json:"name"`
	} `json:"steps"`
	StreamURL string `json:"stream_url"`
}

// event is the stream envelope. Result depends on Type: the step for
// step_starting, the action result for step_completed and {"error"} for
// step_failed.
type event struct {
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	StepIndex int             `json:"step_index"`
	StepID    string          `json:"step_id"`
	Result    json.RawMessage `json:"result"`
	Summary   *struct {
		Total     int  `json:"total_steps"`
		Succeeded int  `json:"succeeded"`
		Failed    int  `json:"failed"`
		Cancelled bool `json:"cancelled"`
	} `json:"summary"`
}

type stepStarting struct {
	Name string `json:"name"`
}

type stepCompleted struct {
	Message  string `json:"message"`
	DemoMode bool   `json:"demo_mode"`
}

type stepFailed struct {
	Error string `json:"error"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		// no overall timeout: streams stay open until the case ends
		http: &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 15 * time.Second}},
	}
}

func (c *client) startEscalation(ctx context.Context, req escalationRequest) (*escalationStarted, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/escalations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hr.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("start escalation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, decodeAPIError(resp)
	}

	var out escalationStarted
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// tail prints events until the server ends the stream.
func (c *client) tail(ctx context.Context, w io.Writer, id string, after uint64) error {
	hr, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/escalations/"+id+"/stream", nil)
	if err != nil {
		return err
	}
	hr.Header.Set("Accept", "text/event-stream")
	if after > 0 {
		hr.Header.Set("Last-Event-ID", strconv.FormatUint(after, 10))
	}

	resp, err := c.http.Do(hr)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	var (
		name string
		data strings.Builder
		p    = &printer{w: w, names: make(map[int]string)}
	)
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if err := p.render(name, data.String()); err != nil {
					return err
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// printer remembers step names from step_starting so later events can use
// them. A catch-up replay has no step_starting events and falls back to ids.
type printer struct {
	w     io.Writer
	names map[int]string
}

func (p *printer) stepName(ev event) string {
	if n := p.names[ev.StepIndex]; n != "" {
		return n
	}
	return ev.StepID
}

func (p *printer) render(name, data string) error {
	if name == "error" {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return fmt.Errorf("stream error: %s", data)
		}
		return fmt.Errorf("stream ended: %s (%s)", e.Message, e.Code)
	}

	var ev event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	w := p.w
	seq := dimStyle.Render(fmt.Sprintf("#%-3d", ev.Seq))
	switch ev.Type {
	case "session_started":
		fmt.Fprintf(w, "%s %s\n", seq, titleStyle.Render("started"))
	case "step_starting":
		var st stepStarting
		if err := decodeResult(ev, &st); err != nil {
			return err
		}
		p.names[ev.StepIndex] = st.Name
		fmt.Fprintf(w, "%s %d. %s ...\n", seq, ev.StepIndex+1, p.stepName(ev))
	case "step_completed":
		var res stepCompleted
		if err := decodeResult(ev, &res); err != nil {
			return err
		}
		msg := res.Message
		if res.DemoMode {
			msg += dimStyle.Render(" (demo)")
		}
		fmt.Fprintf(w, "%s %d. %s %s %s\n", seq, ev.StepIndex+1, p.stepName(ev), okStyle.Render("done"), msg)
	case "step_failed":
		var f stepFailed
		if err := decodeResult(ev, &f); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %d. %s %s %s\n", seq, ev.StepIndex+1, p.stepName(ev), failStyle.Render("failed"), f.Error)
	case "session_completed":
		if s := ev.Summary; s != nil {
			style := okStyle
			if s.Failed > 0 || s.Cancelled {
				style = failStyle
			}
			fmt.Fprintf(w, "%s %s\n", seq, style.Render(fmt.Sprintf("finished: %d/%d steps succeeded", s.Succeeded, s.Total)))
		}
	default:
		fmt.Fprintf(w, "%s %s\n", seq, ev.Type)
	}
	return nil
}

func decodeResult(ev event, v any) error {
	if len(ev.Result) == 0 || string(ev.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(ev.Result, v); err != nil {
		return fmt.Errorf("decode %s result: %w", ev.Type, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var e apiError
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error.Code == "" {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return fmt.Errorf("%s: %s", e.Error.Code, e.Error.Message)
}
