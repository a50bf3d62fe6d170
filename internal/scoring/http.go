package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pool-risk-alerts/internal/features"
)

const predictPath = "/predict"

// HTTPOptions parameterise the model server client.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTPScorer calls an external model server for crash probabilities.
type HTTPScorer struct {
	opts    HTTPOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewHTTPScorer constructs the model server client.
func NewHTTPScorer(opts HTTPOptions, logger zerolog.Logger) *HTTPScorer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPScorer{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  logger.With().Str("component", "http_scorer").Logger(),
	}
}

type predictRequest struct {
	FeatureNames []string  `json:"feature_names"`
	Features     []float64 `json:"features"`
}

type predictResponse struct {
	Probability  float64       `json:"probability"`
	Attributions []Attribution `json:"attributions"`
	ModelVersion string        `json:"model_version"`
	Error        string        `json:"error"`
}

// Predict posts the ordered feature vector and returns the model probability
// with its attributions. Transport failures surface as ErrScorerUnavailable.
func (s *HTTPScorer) Predict(ctx context.Context, vector features.Vector) (float64, []Attribution, error) {
	if s.baseURL == "" {
		return 0, nil, fmt.Errorf("%w: base url not configured", ErrScorerUnavailable)
	}

	req := predictRequest{
		FeatureNames: features.Names[:],
		Features:     vector[:],
	}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal predict request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+predictPath, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create predict request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", s.opts.UserAgent)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, nil, fmt.Errorf("%w: model server returned %d", ErrScorerUnavailable, resp.StatusCode)
	}

	var decoded predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, nil, fmt.Errorf("decode predict response: %w", err)
	}
	if decoded.Error != "" {
		return 0, nil, fmt.Errorf("%w: %s", ErrScorerUnavailable, decoded.Error)
	}
	if decoded.Probability < 0 || decoded.Probability > 1 {
		return 0, nil, fmt.Errorf("model server probability out of range: %f", decoded.Probability)
	}

	s.logger.Debug().
		Float64("probability", decoded.Probability).
		Str("model_version", decoded.ModelVersion).
		Msg("prediction received")

	return decoded.Probability, decoded.Attributions, nil
}

var _ Scorer = (*HTTPScorer)(nil)
