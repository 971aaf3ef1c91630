package iconic

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bumpti/hydration-cli/internal/resilience"
	"github.com/bumpti/hydration-cli/pkg/anthropic"
)

type scriptedClient struct {
	text  string
	err   error
	errs  []error // consumed first, one per call
	calls int
	last  anthropic.MessageRequest
}

func (s *scriptedClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.calls++
	s.last = req
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: s.text}},
	}, nil
}

func TestGenerateHotlistParsesResponse(t *testing.T) {
	client := &scriptedClient{
		text: "```json\n{\"bar\": [\"Bar do Alemão\", \"+55\"], \"park\": [\"Parque Barigui\"]}\n```",
	}
	o := NewOracle(client, "claude-haiku-4-5-20251001", 4096)

	hotlist, err := o.GenerateHotlist(context.Background(), "Curitiba")
	require.NoError(t, err)
	assert.Equal(t, 3, hotlist.VenueCount())
	assert.Equal(t, []string{"Bar do Alemão", "+55"}, hotlist["bar"])

	assert.Contains(t, client.last.Messages[0].Content, "Curitiba")
	assert.NotContains(t, client.last.Messages[0].Content, "%CITY%")
}

func TestGenerateHotlistInvalidJSON(t *testing.T) {
	o := NewOracle(&scriptedClient{text: "I cannot help with that."}, "m", 4096)

	_, err := o.GenerateHotlist(context.Background(), "Curitiba")
	assert.Error(t, err)
}

func TestValidateMatchesSkipsNulls(t *testing.T) {
	client := &scriptedClient{
		text: `{"matches": {"Bar do Alemão": "src-1", "Parque Barigui": null, "Vazio": ""}}`,
	}
	o := NewOracle(client, "m", 4096)

	got, err := o.ValidateMatches(context.Background(), []ValidationItem{
		{IconicName: "Bar do Alemão", Candidates: []Candidate{{ID: "src-1", Name: "Bar do Alemão"}}},
		{IconicName: "Parque Barigui", Candidates: []Candidate{{ID: "src-2", Name: "Parque Tingui"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Bar do Alemão": "src-1"}, got)

	assert.Contains(t, client.last.Messages[0].Content, "src-1")
	assert.NotContains(t, client.last.Messages[0].Content, "%BATCH%")
}

func TestValidateMatchesEmptyBatch(t *testing.T) {
	o := NewOracle(&scriptedClient{}, "m", 4096)

	got, err := o.ValidateMatches(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAskPropagatesError(t *testing.T) {
	o := NewOracle(&scriptedClient{err: eris.New("boom")}, "m", 4096)
	o.retry.MaxAttempts = 1

	_, err := o.GenerateHotlist(context.Background(), "Curitiba")
	assert.Error(t, err)
}

func TestAskRetriesTransientFailures(t *testing.T) {
	client := &scriptedClient{
		text: `{"bar": ["Bar do Alemão"]}`,
		errs: []error{
			resilience.NewTransientError(eris.New("overloaded"), 529),
			resilience.NewTransientError(eris.New("overloaded"), 529),
		},
	}
	o := NewOracle(client, "m", 4096)
	o.retry.InitialBackoff = time.Millisecond

	hotlist, err := o.GenerateHotlist(context.Background(), "Curitiba")
	require.NoError(t, err)
	assert.Equal(t, 1, hotlist.VenueCount())
	assert.Equal(t, 3, client.calls)
}

func TestAskFailsFastOnPermanentErrors(t *testing.T) {
	client := &scriptedClient{err: eris.New("invalid model name")}
	o := NewOracle(client, "m", 4096)

	_, err := o.GenerateHotlist(context.Background(), "Curitiba")
	require.Error(t, err)
	assert.Equal(t, 1, client.calls, "permanent errors get no retries")
	assert.Equal(t, resilience.CircuitClosed, o.breaker.State(), "permanent errors do not trip the breaker")
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripFences(tt.in))
	}
}
