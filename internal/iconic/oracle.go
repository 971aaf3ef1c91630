// Package iconic identifies the locally famous venues in a city and marks
// their POI records before scoring. It is a best-effort enrichment: every
// failure degrades to "no iconic venues" and the pipeline continues.
package iconic

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bumpti/hydration-cli/internal/model"
	"github.com/bumpti/hydration-cli/internal/resilience"
	"github.com/bumpti/hydration-cli/pkg/anthropic"
)

const hotlistSystemPrompt = `You are a comprehensive local expert. You know the real, verifiable venues of the city you are asked about. Only ever name real places; never invent generic names. Return only valid JSON.`

const hotlistPromptTemplate = `List the real, verifiable venues of %CITY%, from the most famous down to the moderately known.

Minimum venues per category:
- bar: 30
- nightclub: 20
- restaurant: 30
- club: 15
- stadium: 15
- park: 15
- cafe: 15
- university: 15

Selection strategy, in priority order:
1. City landmarks everyone knows (about 30%% of each list)
2. Well known, busy establishments (about 40%%)
3. Legitimate established venues, even if less famous (about 30%%)

Rules:
1. Never return an empty array. If you do not know enough famous venues in a category, include smaller legitimate ones.
2. Use full official names ("Boteco da Esquina", not "Esquina").
3. Only real venues that exist or recently existed in %CITY%; no permanently closed places.
4. Spread venues across neighborhoods where possible.

Return ONLY a JSON object mapping category to an array of venue names, most famous first:
{"bar": ["..."], "nightclub": ["..."], "restaurant": ["..."], "club": ["..."], "stadium": ["..."], "park": ["..."], "cafe": ["..."], "university": ["..."]}`

const validateSystemPrompt = `You are a precise semantic validator of venue identity. Return only valid JSON.`

const validatePromptTemplate = `You are matching famous venues against candidate records from a map dataset.

Rules:
1. A match is valid only when the candidate clearly refers to the SAME establishment as the famous venue.
2. Accept naming variations: "+55" matches "+55 Bar", "Parque Barigui" matches "Parque Ecológico Barigui".
3. Accept suffix variations such as branch or unit markers.
4. When no candidate is an obvious match, use null.

Venues and candidates:
%BATCH%

Return ONLY JSON of the form:
{"matches": {"famous venue name": "candidate id or null"}}

The values must be candidate id strings exactly as given, or null. Never return arrays.`

// Oracle asks the model for city knowledge: hotlist generation and match
// validation.
type Oracle struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	log       *zap.Logger
}

// NewOracle builds an Oracle on top of client.
func NewOracle(client anthropic.Client, modelID string, maxTokens int64) *Oracle {
	// The client tags retryable failures, so the default transient check
	// applies; an open breaker is permanent and fails fast.
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")

	// Only transient failures open the breaker; a malformed prompt should
	// not block the whole city.
	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.ShouldTrip = resilience.IsTransient

	return &Oracle{
		client:    client,
		model:     modelID,
		maxTokens: maxTokens,
		retry:     retry,
		breaker:   resilience.NewCircuitBreaker(breakerCfg),
		log:       zap.L().With(zap.String("component", "iconic.oracle")),
	}
}

// GenerateHotlist asks the model for the famous venues of cityName, grouped
// by internal category with the most famous first.
func (o *Oracle) GenerateHotlist(ctx context.Context, cityName string) (model.Hotlist, error) {
	prompt := strings.ReplaceAll(hotlistPromptTemplate, "%CITY%", cityName)

	text, err := o.ask(ctx, hotlistSystemPrompt, prompt, 0.3)
	if err != nil {
		return nil, eris.Wrap(err, "iconic: generate hotlist")
	}

	var hotlist model.Hotlist
	if err := json.Unmarshal([]byte(stripFences(text)), &hotlist); err != nil {
		return nil, eris.Wrap(err, "iconic: parse hotlist response")
	}

	o.log.Info("hotlist generated",
		zap.String("city", cityName),
		zap.Int("categories", len(hotlist)),
		zap.Int("venues", hotlist.VenueCount()))

	return hotlist, nil
}

// Candidate is one local record offered to the validator.
type Candidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ValidationItem pairs a hotlist name with its prefiltered candidates.
type ValidationItem struct {
	IconicName string      `json:"iconic_name"`
	Candidates []Candidate `json:"candidates"`
}

// ValidateMatches asks the model which candidate, if any, is each iconic
// venue. The result maps iconic name to candidate id; names without a match
// are absent.
func (o *Oracle) ValidateMatches(ctx context.Context, batch []ValidationItem) (map[string]string, error) {
	if len(batch) == 0 {
		return map[string]string{}, nil
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return nil, eris.Wrap(err, "iconic: marshal validation batch")
	}
	prompt := strings.ReplaceAll(validatePromptTemplate, "%BATCH%", string(data))

	text, err := o.ask(ctx, validateSystemPrompt, prompt, 0.1)
	if err != nil {
		return nil, eris.Wrap(err, "iconic: validate matches")
	}

	var parsed struct {
		Matches map[string]*string `json:"matches"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &parsed); err != nil {
		return nil, eris.Wrap(err, "iconic: parse validation response")
	}

	out := make(map[string]string, len(parsed.Matches))
	for name, id := range parsed.Matches {
		if id != nil && *id != "" {
			out[name] = *id
		}
	}
	return out, nil
}

// ask sends one prompt through the breaker and retry stack and returns the
// response text.
func (o *Oracle) ask(ctx context.Context, system, prompt string, temperature float64) (string, error) {
	resp, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.ExecuteVal(ctx, o.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return o.client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:       o.model,
				MaxTokens:   o.maxTokens,
				System:      []anthropic.SystemBlock{{Text: system}},
				Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
				Temperature: &temperature,
			})
		})
	})
	if err != nil {
		return "", err
	}

	resp.Usage.LogCost(o.model, "iconic")
	return resp.Text(), nil
}

// stripFences removes a markdown code fence around a JSON payload.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
