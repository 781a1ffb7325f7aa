// file: internal/providers/ai_audio.go
// version: 1.2.0
// guid: 5f6a7b8c-9d0e-1f2a-3b4c-5d6e7f8a9b0c

package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jdfalk/library-manager/internal/ratelimit"
)

// audioAITimeout bounds a single audio-analysis call; clips are large and
// model-side transcription is slow.
const audioAITimeout = 120 * time.Second

// GeminiAudioClient ships audio clips to the Gemini generateContent REST API
// as inline base64 data and asks for a structured JSON record.
type GeminiAudioClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	limiter    *ratelimit.Limiter
	enabled    bool
}

// NewGeminiAudioClient creates the Gemini audio adapter.
func NewGeminiAudioClient(apiKey string, limiter *ratelimit.Limiter) *GeminiAudioClient {
	return &GeminiAudioClient{
		httpClient: &http.Client{Timeout: audioAITimeout},
		baseURL:    "https://generativelanguage.googleapis.com/v1beta",
		apiKey:     apiKey,
		model:      "gemini-2.0-flash",
		limiter:    limiter,
		enabled:    apiKey != "",
	}
}

func (c *GeminiAudioClient) Name() string { return "gemini" }

// IsEnabled reports whether an API key was configured.
func (c *GeminiAudioClient) IsEnabled() bool { return c.enabled }

var audioPrompts = map[AudioMode]string{
	AudioModeCredits: `Listen to this audiobook clip. It should contain the opening credits
announcement, typically "this is <title> by <author>, read by <narrator>".
Transcribe the announcement and extract the fields. Ignore publisher jingles.
Return ONLY JSON: {"title":"","author":"","narrator":"","transcript":"","confidence":"high|medium|low"}`,
	AudioModeIdentify: `Listen to this audiobook clip and identify the book. Transcribe what you
hear and use character names, setting, and writing style to determine the work.
Return ONLY JSON: {"title":"","author":"","series":"","transcript":"","confidence":"high|medium|low"}`,
	AudioModeContent: `This clip comes from the middle of an audiobook. Transcribe the narration,
then identify the book from characters, plot, and prose style.
Return ONLY JSON: {"title":"","author":"","series":"","transcript":"","confidence":"high|medium|low"}`,
	AudioModeLanguage: `Listen to this audiobook clip and determine the language of the narration.
Return ONLY JSON: {"language":"<ISO 639-1 code>","confidence":"high|medium|low"}`,
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseMimeType string `json:"response_mime_type"`
	} `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Analyze implements AudioAI.
func (c *GeminiAudioClient) Analyze(ctx context.Context, clip []byte, mimeType string, mode AudioMode) (*AudioResult, error) {
	if !c.enabled {
		return nil, fmt.Errorf("gemini audio: not configured")
	}
	prompt, ok := audioPrompts[mode]
	if !ok {
		return nil, fmt.Errorf("unknown audio mode %q", mode)
	}

	ctx, cancel := context.WithTimeout(ctx, audioAITimeout)
	defer cancel()

	reqBody := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: prompt},
				{InlineData: &geminiInlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(clip),
				}},
			},
		}},
	}
	reqBody.GenerationConfig.ResponseMimeType = "application/json"

	apiURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	var out geminiResponse
	if err := postJSON(ctx, c.limiter, c.Name(), c.httpClient, apiURL, nil, reqBody, &out); err != nil {
		return nil, err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, nil
	}

	text := stripFences(out.Candidates[0].Content.Parts[0].Text)
	var result AudioResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("gemini audio returned unparseable record: %w", err)
	}
	if isGarbageAudioResult(&result, mode) {
		return nil, nil
	}
	return &result, nil
}

// garbageMarkers are strings the model returns when it hallucinated or
// transcribed a publisher jingle instead of credits.
var garbageMarkers = []string{
	"i cannot", "i'm sorry", "unable to", "no speech", "inaudible",
	"unknown title", "unknown author",
}

// isGarbageAudioResult rejects responses that are too short, polluted with
// publisher boilerplate, or carry known garbage markers.
func isGarbageAudioResult(r *AudioResult, mode AudioMode) bool {
	if mode == AudioModeLanguage {
		return r.Language == ""
	}
	if r.Title == "" && r.Author == "" {
		return true
	}
	combined := strings.ToLower(r.Title + " " + r.Author + " " + r.Narrator)
	for _, m := range garbageMarkers {
		if strings.Contains(combined, m) {
			return true
		}
	}
	for _, m := range introPollution {
		if strings.Contains(combined, m) {
			return true
		}
	}
	if len(r.Title) > 200 || len(r.Author) > 120 {
		return true
	}
	return false
}

// introPollution mirrors the profile validators' list for publisher noise
// inside audio transcriptions.
var introPollution = []string{
	"tantor audio", "blackstone audio", "recorded books", "brilliance audio",
	"audible studios", "harperaudio", "books on tape", "presents",
}

var _ AudioAI = (*GeminiAudioClient)(nil)
