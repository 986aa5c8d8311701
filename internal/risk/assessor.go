// Package risk screens new tokens through the RugCheck report API.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"token-sniffer/internal/domain"
	"token-sniffer/internal/observability"
	"token-sniffer/internal/upstream"
)

// Default configuration values.
const (
	DefaultBaseURL      = "https://api.rugcheck.xyz"
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRetries   = 2
	DefaultRetryBackoff = 500 * time.Millisecond

	serviceName   = "rugcheck"
	maxErrBodyLen = 256
)

// ErrUpstreamUnavailable is returned when the risk service cannot produce a usable
// report within the retry budget.
var ErrUpstreamUnavailable = errors.New("risk service unavailable")

// Options configures an Assessor.
type Options struct {
	BaseURL      string
	HTTPClient   *http.Client
	Timeout      time.Duration // per attempt
	MaxRetries   int           // retries after the first attempt
	RetryBackoff time.Duration // fixed wait between attempts
	Policy       Policy
	Logger       *zap.Logger
}

// Assessor renders risk verdicts for tokens.
type Assessor struct {
	baseURL string
	client  *http.Client
	retry   upstream.Policy
	policy  Policy
	log     *zap.Logger
}

// NewAssessor creates an Assessor. Zero options take their defaults;
// a Policy without FactorTags uses DefaultPolicy.
func NewAssessor(opts Options) *Assessor {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Policy.FactorTags == nil {
		def := DefaultPolicy()
		if opts.Policy.MaxScore == 0 {
			opts.Policy.MaxScore = def.MaxScore
		}
		if opts.Policy.Veto == nil {
			opts.Policy.Veto = def.Veto
		}
		opts.Policy.FactorTags = def.FactorTags
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	a := &Assessor{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  opts.HTTPClient,
		policy:  opts.Policy,
		log:     opts.Logger.With(zap.String("component", "risk")),
	}
	a.retry = upstream.Policy{
		MaxRetries:     opts.MaxRetries,
		Backoff:        opts.RetryBackoff,
		AttemptTimeout: opts.Timeout,
		OnRetry: func(err error, wait time.Duration) {
			a.log.Debug("retrying risk report", zap.Error(err), zap.Duration("wait", wait))
		},
	}
	return a
}

// report is the subset of the RugCheck token report we rely on.
type report struct {
	Mint            string       `json:"mint"`
	Score           *float64     `json:"score"`
	Risks           []reportRisk `json:"risks"`
	MintAuthority   *string      `json:"mintAuthority"`
	FreezeAuthority *string      `json:"freezeAuthority"`
	Rugged          bool         `json:"rugged"`
	Error           string       `json:"error"`
}

type reportRisk struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Level       string `json:"level"`
}

// Assess queries the risk service for mint and renders a verdict.
// Definitive rejections (4xx, error bodies, reports without a score) are returned
// as approved=false verdicts, not errors.
func (a *Assessor) Assess(ctx context.Context, mint string) (*domain.RiskVerdict, error) {
	var rep *report
	err := upstream.Retry(ctx, a.retry, func(ctx context.Context) error {
		r, err := a.fetch(ctx, mint)
		if err != nil {
			return err
		}
		rep = r
		return nil
	})

	if err != nil {
		var se *upstream.StatusError
		if errors.As(err, &se) && !se.Transient() {
			observability.RecordRiskAssessment("rejected")
			return rejectedVerdict(domain.FactorUpstreamRejected, se.Error()), nil
		}
		observability.RecordRiskAssessment("error")
		if ctx.Err() != nil {
			return nil, fmt.Errorf("assess %s: %w", mint, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	verdict := a.evaluate(rep)
	if verdict.Approved {
		observability.RecordRiskAssessment("approved")
	} else {
		observability.RecordRiskAssessment("rejected")
	}
	return verdict, nil
}

// fetch performs one report request.
func (a *Assessor) fetch(ctx context.Context, mint string) (rep *report, err error) {
	start := time.Now()
	defer func() {
		observability.RecordUpstreamCall(serviceName, "report", start, err)
	}()

	endpoint := fmt.Sprintf("%s/v1/tokens/%s/report", a.baseURL, url.PathEscape(mint))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.Transient(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > maxErrBodyLen {
			msg = msg[:maxErrBodyLen]
		}
		return nil, &upstream.StatusError{Service: serviceName, StatusCode: resp.StatusCode, Body: msg}
	}

	var r report
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, upstream.Transient(fmt.Errorf("%w: %v", upstream.ErrMalformedResponse, err))
	}
	return &r, nil
}

// evaluate normalizes a decoded report into a verdict.
func (a *Assessor) evaluate(rep *report) *domain.RiskVerdict {
	if rep.Error != "" {
		return rejectedVerdict(domain.FactorUpstreamRejected, rep.Error)
	}
	if rep.Score == nil {
		return rejectedVerdict(domain.FactorIncompleteReport, "report has no score")
	}

	factors := make([]domain.RiskFactor, 0, len(rep.Risks)+3)
	seen := make(map[string]bool)
	add := func(f domain.RiskFactor) {
		if seen[f.Tag] {
			return
		}
		seen[f.Tag] = true
		factors = append(factors, f)
	}

	for _, r := range rep.Risks {
		if strings.TrimSpace(r.Name) == "" {
			continue
		}
		add(domain.RiskFactor{
			Tag:         a.policy.Tag(r.Name),
			Severity:    domain.ParseSeverity(r.Level),
			Description: r.Description,
		})
	}

	// Authorities are reported as fields as well as risks.
	if rep.MintAuthority != nil && *rep.MintAuthority != "" {
		add(domain.RiskFactor{Tag: TagMintAuthority, Severity: domain.SeverityDanger, Description: "mint authority: " + *rep.MintAuthority})
	}
	if rep.FreezeAuthority != nil && *rep.FreezeAuthority != "" {
		add(domain.RiskFactor{Tag: TagFreezeAuthority, Severity: domain.SeverityDanger, Description: "freeze authority: " + *rep.FreezeAuthority})
	}
	if rep.Rugged {
		add(domain.RiskFactor{Tag: TagRugged, Severity: domain.SeverityDanger})
	}

	return &domain.RiskVerdict{
		Approved: a.policy.Approve(*rep.Score, factors),
		Score:    *rep.Score,
		Factors:  factors,
	}
}

func rejectedVerdict(tag, description string) *domain.RiskVerdict {
	return &domain.RiskVerdict{
		Approved: false,
		Factors: []domain.RiskFactor{{
			Tag:         tag,
			Severity:    domain.SeverityDanger,
			Description: description,
		}},
	}
}
