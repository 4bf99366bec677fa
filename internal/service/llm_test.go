package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/memeprep/internal/domain"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"think block", "<think>{\"no\":1}</think>answer {\"a\":2}", `{"a":2}`, false},
		{"brace in string", `x {"a":"}{"} y`, `{"a":"}{"}`, false},
		{"escaped quote", `{"a":"say \"}\""}`, `{"a":"say \"}\""}`, false},
		{"nested", `{"a":{"b":[1,{"c":2}]}} trailing`, `{"a":{"b":[1,{"c":2}]}}`, false},
		{"no json", "sorry, I can't", "", true},
		{"truncated", `{"a":{"b":1}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONObject(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrMalformedOutput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func rankCandidates(ids ...int64) []domain.ImageRecord {
	out := make([]domain.ImageRecord, len(ids))
	for i, id := range ids {
		out[i] = domain.ImageRecord{ID: id, Status: domain.StatusReady}
	}
	return out
}

func TestParseRankResponse(t *testing.T) {
	cands := rankCandidates(7, 2, 9, 1, 4)

	got, err := parseRankResponse(`{"results":[{"image_id":2},{"image_id":99},{"image_id":2},{"image_id":7},{"image_id":1},{"image_id":4}]}`, cands, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 7, 1}, got)

	_, err = parseRankResponse(`{"results":[{"image_id":2},{"image_id":99}]}`, cands, 2)
	assert.ErrorIs(t, err, domain.ErrMalformedOutput)

	_, err = parseRankResponse(`not json`, cands, 1)
	assert.ErrorIs(t, err, domain.ErrMalformedOutput)
}

func TestParseAnnotation(t *testing.T) {
	ann, err := parseAnnotation(`{"ocr":"hi","caption":"a dog","humor":"irony","tags":["Funny","animal","funny","unknown"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"funny", "animal"}, ann.Tags)
	assert.Equal(t, "OCR: hi\nCaption: a dog\nHumor: irony", ann.ComposeCaption())

	_, err = parseAnnotation(`{"caption":"a dog","tags":["funny"]}`)
	assert.ErrorIs(t, err, domain.ErrMalformedOutput, "too few tags")

	_, err = parseAnnotation(`{"caption":"a dog","tags":["funny","sad","cute","animal","person"]}`)
	assert.ErrorIs(t, err, domain.ErrMalformedOutput, "too many tags")

	_, err = parseAnnotation(`{"caption":"","tags":["funny","sad"]}`)
	assert.ErrorIs(t, err, domain.ErrMalformedOutput, "empty caption")
}

func chatServer(t *testing.T, status int, content string, inspect func(req openAIRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if inspect != nil {
			inspect(req)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVLMCaptioner_Annotate(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"ocr":"","caption":"a cat","humor":"","tags":["cute","animal"]}`, func(req openAIRequest) {
		assert.Equal(t, "vision-model", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
		}
		if assert.NotNil(t, req.ResponseFormat) {
			assert.Equal(t, "json_object", req.ResponseFormat.Type)
		}
	})

	captioner := NewVLMCaptioner(&VLMConfig{Model: "vision-model", APIKey: "test-key", BaseURL: srv.URL})
	ann, err := captioner.Annotate(context.Background(), []byte{0xFF, 0xD8})
	require.NoError(t, err)
	assert.Equal(t, "a cat", ann.Caption)
	assert.Equal(t, []string{"cute", "animal"}, ann.Tags)
}

func TestVLMCaptioner_HTTPError(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, "", nil)
	captioner := NewVLMCaptioner(&VLMConfig{Model: "m", APIKey: "test-key", BaseURL: srv.URL})
	_, err := captioner.Annotate(context.Background(), []byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, domain.OutcomeRetryable, domain.Classify(err))
}

func TestLLMRanker_Rank(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"results":[{"image_id":9},{"image_id":7}]}`, func(req openAIRequest) {
		if assert.NotNil(t, req.Temperature) {
			assert.Equal(t, 0.0, *req.Temperature)
		}
		if !assert.Len(t, req.Messages, 2) {
			return
		}
		user, _ := req.Messages[1].Content.(string)
		assert.Contains(t, user, "image_id: 9")
		assert.Contains(t, user, "Situation: monday again")
	})

	ranker := NewLLMRanker(&RankerConfig{Model: "rank-model", APIKey: "test-key", BaseURL: srv.URL})
	got, err := ranker.Rank(context.Background(), "monday again", rankCandidates(7, 9), 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{9, 7}, got)
}
