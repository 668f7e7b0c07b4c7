package proposal

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/jlindberg/omxtrader/internal/logger"
	"github.com/jlindberg/omxtrader/pkg/errors"
	"go.uber.org/zap"
)

const systemPrompt = `You are the rationale engine of a cautious equity paper-trading agent.
For each candidate you receive (with exposure score, technical and fundamental signals and latest price),
respond with a JSON array only, no prose. Each element:
{"ticker": "...", "action": "BUY"|"SELL"|"HOLD", "confidence": 0-100,
 "reasoning": "one short paragraph", "hypothesis": "one sentence stating the expected outcome"}.
Qualitative inputs listed without a tracked feed may inform the reasoning text only.`

// AnthropicService asks a language model for structured proposals. The
// reply is parsed as data; anything unparseable is dropped, never
// branched on.
type AnthropicService struct {
	client   anthropic.Client
	logger   *logger.Logger
	model    string
	timeout  time.Duration
	attempts uint64
}

func NewAnthropicService(apiKey, model string, timeout time.Duration, attempts uint64, log *logger.Logger) *AnthropicService {
	return &AnthropicService{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger:   log,
		model:    model,
		timeout:  timeout,
		attempts: attempts,
	}
}

func (a *AnthropicService) Propose(ctx context.Context, candidates []Candidate) ([]Proposal, error) {
	payload, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeProposalFailed, "failed to encode candidates", err)
	}

	var text string
	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		message, err := a.client.Messages.New(callCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: 2048,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(string(payload))),
			},
		})
		if err != nil {
			return err
		}
		if len(message.Content) == 0 {
			return errors.New(errors.ErrCodeProposalMalformed, "empty model response")
		}

		text = message.Content[0].Text

		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), a.attempts), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, errors.Wrap(errors.ErrCodeProviderTimeout, "proposal service unavailable", err)
	}

	return a.parse(text)
}

func (a *AnthropicService) parse(text string) ([]Proposal, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var raw []Proposal
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return nil, errors.Wrap(errors.ErrCodeProposalMalformed, "failed to parse proposal response", err)
	}

	proposals := make([]Proposal, 0, len(raw))
	for _, p := range raw {
		if p.Ticker == "" {
			continue
		}
		switch p.Action {
		case ActionBuy, ActionSell, ActionHold:
		default:
			a.logger.Warn("dropping proposal with unknown action",
				zap.String("ticker", p.Ticker),
				zap.String("action", string(p.Action)),
			)
			continue
		}
		if p.Confidence < 0 {
			p.Confidence = 0
		}
		if p.Confidence > 100 {
			p.Confidence = 100
		}
		proposals = append(proposals, p)
	}

	return proposals, nil
}
