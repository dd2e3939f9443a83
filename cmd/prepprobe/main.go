// Command prepprobe drives one full assessment flow against a running
// prepd instance: register, log in, unlock an assessment, and complete it
// over REST or the speech websocket.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ieltsgenai/prep/internal/apiclient"
	"github.com/ieltsgenai/prep/internal/assessment"
	"github.com/ieltsgenai/prep/internal/region"
	"github.com/ieltsgenai/prep/internal/speech"
)

type options struct {
	baseURL        string
	wsURL          string
	email          string
	password       string
	assessmentType string
	answer         string
	timezone       string
	skipRegister   bool
	timeout        time.Duration
	verbose        bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "prepprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "prepprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var timeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "prepd base URL")
	flag.StringVar(&cfg.wsURL, "ws-url", "", "websocket base URL (derived from base-url when empty)")
	flag.StringVar(&cfg.email, "email", "probe@example.com", "account email")
	flag.StringVar(&cfg.password, "password", "probe-password", "account password")
	flag.StringVar(&cfg.assessmentType, "assessment", assessment.AcademicSpeaking, "assessment type to run")
	flag.StringVar(&cfg.answer, "answer", "", "written answer for writing assessments (optional)")
	flag.StringVar(&cfg.timezone, "timezone", "", "device timezone for region resolution (optional)")
	flag.BoolVar(&cfg.skipRegister, "skip-register", false, "assume the account already exists")
	flag.IntVar(&timeoutMS, "timeout-ms", 30000, "speech session timeout in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print probe progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if !assessment.ValidType(cfg.assessmentType) {
		return options{}, fmt.Errorf("unknown assessment type %q", cfg.assessmentType)
	}
	if cfg.wsURL == "" {
		cfg.wsURL = "ws" + strings.TrimPrefix(cfg.baseURL, "http")
	}
	cfg.timeout = time.Duration(timeoutMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx := context.Background()

	endpoints := map[region.ID]region.Region{
		region.USEast1:      {APIBaseURL: cfg.baseURL, WSBaseURL: cfg.wsURL},
		region.EUWest1:      {APIBaseURL: cfg.baseURL, WSBaseURL: cfg.wsURL},
		region.APSoutheast1: {APIBaseURL: cfg.baseURL, WSBaseURL: cfg.wsURL},
	}
	client, err := apiclient.New(apiclient.Config{
		Regions:  region.NewMap(endpoints),
		Timezone: cfg.timezone,
	})
	if err != nil {
		return err
	}

	creds := map[string]any{"email": cfg.email, "password": cfg.password}
	if !cfg.skipRegister {
		if _, err := client.Call(ctx, http.MethodPost, "/api/register", creds); err != nil {
			// An existing account is fine for repeated probe runs.
			if !apiclient.IsClientError(err) {
				return fmt.Errorf("register: %w", err)
			}
			logf(cfg, "register skipped: account exists")
		} else {
			logf(cfg, "registered %s", cfg.email)
		}
	}

	raw, err := client.Call(ctx, http.MethodPost, "/api/login", creds)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	var login struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &login); err != nil {
		return fmt.Errorf("decode login: %w", err)
	}
	client.SetToken(login.SessionID)
	logf(cfg, "logged in, session %s", login.SessionID)

	productID := productForAssessment(cfg.assessmentType)
	raw, err = client.Call(ctx, http.MethodPost, "/api/purchase/verify", map[string]any{
		"platform":     "apple",
		"product_id":   productID,
		"receipt_data": "probe-receipt",
	})
	if err != nil {
		return fmt.Errorf("purchase verify: %w", err)
	}
	logf(cfg, "purchase verified: %s", raw)

	endpoint := fmt.Sprintf("/api/assessments/%s/question", cfg.assessmentType)
	raw, err = client.Call(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("next question: %w", err)
	}
	var question struct {
		ID     string `json:"question_id"`
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(raw, &question); err != nil {
		return fmt.Errorf("decode question: %w", err)
	}
	logf(cfg, "question %s: %s", question.ID, question.Prompt)

	switch cfg.assessmentType {
	case assessment.AcademicSpeaking, assessment.GeneralSpeaking:
		return runSpeaking(ctx, cfg, client, question.ID, login.SessionID)
	default:
		return runWriting(ctx, cfg, client, question.ID)
	}
}

func runSpeaking(ctx context.Context, cfg options, client *apiclient.Client, questionID, token string) error {
	streamer, err := speech.NewClient(speech.Config{
		WSBaseURL: client.SpeechWSBaseURL(),
		Deadline:  cfg.timeout,
	})
	if err != nil {
		return err
	}

	audio := base64.StdEncoding.EncodeToString([]byte("probe audio sample"))
	audioChunks := 0
	result, err := streamer.Start(ctx, speech.StartRequest{
		AssessmentType: cfg.assessmentType,
		QuestionID:     questionID,
		AudioBase64:    audio,
		SessionID:      token,
		OnAudio:        func(string) { audioChunks++ },
	})
	if err != nil {
		return fmt.Errorf("speech session: %w", err)
	}

	logf(cfg, "transcript: %s", result.Transcript)
	logf(cfg, "audio fragments: %d, ignored frames: %d", audioChunks, result.IgnoredMessages)
	fmt.Printf("feedback: %s\n", result.Feedback)
	return nil
}

func runWriting(ctx context.Context, cfg options, client *apiclient.Client, questionID string) error {
	answer := cfg.answer
	if answer == "" {
		answer = strings.Repeat("A balanced view considers both positions before concluding. ", 12)
	}

	endpoint := fmt.Sprintf("/api/assessments/%s/result", cfg.assessmentType)
	raw, err := client.Call(ctx, http.MethodPost, endpoint, map[string]any{
		"question_id": questionID,
		"answer":      answer,
	})
	if err != nil {
		return fmt.Errorf("submit answer: %w", err)
	}
	fmt.Printf("result: %s\n", raw)
	return nil
}

func productForAssessment(assessmentType string) string {
	return "com.ieltsgenaiprep." + strings.Replace(assessmentType, "_", ".", 1)
}

func logf(cfg options, format string, args ...any) {
	if cfg.verbose {
		fmt.Printf(format+"\n", args...)
	}
}
