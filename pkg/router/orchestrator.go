package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deskmesh/deskmesh/pkg/a2a"
	"github.com/deskmesh/deskmesh/pkg/client"
)

// Invoker sends a message to a specialist and waits for its terminal task.
type Invoker interface {
	SendMessage(ctx context.Context, agentURL string, message a2a.Message) (*a2a.Task, error)
}

// Endpoints holds the base URLs of the specialists.
type Endpoints struct {
	Data    string
	Support string
	Billing string
}

// specialist pairs a routing key with its endpoint and display name used
// for attribution.
type specialist struct {
	name     string
	endpoint string
}

// Orchestrator classifies incoming messages, builds a call plan, and
// executes it against the specialists. It implements transport.Handler.
type Orchestrator struct {
	specialists map[string]specialist
	invoker     Invoker
	rules       []Rule
	callTimeout time.Duration
	url         string
	log         *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRules replaces the default routing policy.
func WithRules(rules []Rule) Option {
	return func(o *Orchestrator) { o.rules = rules }
}

// WithCallTimeout bounds each specialist round trip.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.callTimeout = d }
}

// WithAgentURL sets the URL advertised on the router's card.
func WithAgentURL(url string) Option {
	return func(o *Orchestrator) { o.url = url }
}

// WithLogger sets the orchestrator logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// New creates an orchestrator for the given specialist endpoints.
func New(endpoints Endpoints, invoker Invoker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		specialists: map[string]specialist{
			SpecialistData:    {name: "Data Agent", endpoint: endpoints.Data},
			SpecialistSupport: {name: "Support Agent", endpoint: endpoints.Support},
			SpecialistBilling: {name: "Payment Agent", endpoint: endpoints.Billing},
		},
		invoker:     invoker,
		rules:       DefaultRules(),
		callTimeout: 30 * time.Second,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Card describes the router for discovery.
func (o *Orchestrator) Card() a2a.AgentCard {
	return a2a.AgentCard{
		Name:               "Router Agent",
		Description:        "Classifies customer requests and coordinates the specialist agents.",
		Version:            "1.0.0",
		URL:                o.url,
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
		Provider:           &a2a.AgentProvider{Organization: "deskmesh"},
		Skills: []a2a.AgentSkill{
			{
				ID:          "routing",
				Name:        "Request Routing",
				Description: "Routes customer requests to data, support, and billing specialists.",
				Tags:        []string{"routing", "orchestration"},
				InputModes:  []string{"text"},
				OutputModes: []string{"text"},
				Examples: []string{
					"Get customer information for ID 5",
					"I've been charged twice, please refund immediately!",
					"Update my email and show my ticket history",
				},
			},
		},
	}
}

// stepResult is one specialist outcome, successful or classified.
type stepResult struct {
	step Step
	name string
	text string
	err  error
}

// Handle classifies the message, runs the plan, and aggregates the results.
func (o *Orchestrator) Handle(ctx context.Context, task a2a.Task, message a2a.Message) (*a2a.Message, error) {
	if !a2a.HasTextContent(message) {
		return nil, &a2a.TaskError{
			Code:    a2a.ErrCodeInvalidArguments,
			Message: "message has no text content to route",
		}
	}

	text := a2a.ExtractAllText(message)
	category := Classify(o.rules, text)
	plan := BuildPlan(category, text)

	o.log.Info("plan built",
		"task_id", task.ID,
		"category", category,
		"steps", len(plan.Steps))

	var results []stepResult
	if len(plan.Steps) > 0 && plan.Steps[0].Mode == ModeParallel {
		results = o.runParallel(ctx, plan, text)
	} else {
		results = o.runSequential(ctx, plan, text)
	}

	return o.aggregate(task.ID, results)
}

// runParallel issues every step concurrently and waits for all of them.
// A failing sibling never cancels the others; partial aggregation is the
// designed outcome.
func (o *Orchestrator) runParallel(ctx context.Context, plan Plan, original string) []stepResult {
	results := make([]stepResult, len(plan.Steps))

	var g errgroup.Group
	for i, step := range plan.Steps {
		i, step := i, step
		g.Go(func() error {
			results[i] = o.invoke(ctx, step, o.stepText(step, original, nil))
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// runSequential runs steps in order, feeding each later step the attributed
// output of the earlier ones. A failed step is recorded and the chain
// continues.
func (o *Orchestrator) runSequential(ctx context.Context, plan Plan, original string) []stepResult {
	results := make([]stepResult, 0, len(plan.Steps))
	var contextParts []string

	for _, step := range plan.Steps {
		res := o.invoke(ctx, step, o.stepText(step, original, contextParts))
		results = append(results, res)

		if res.err == nil {
			contextParts = append(contextParts,
				fmt.Sprintf("from %s: %s", res.name, res.text))
		}
	}
	return results
}

// stepText resolves the outbound message text for one step.
func (o *Orchestrator) stepText(step Step, original string, contextParts []string) string {
	text := step.Text
	if text == "" {
		text = original
	}
	if len(contextParts) > 0 {
		text = text + "\n\nData context: " + strings.Join(contextParts, "\n")
	}
	return text
}

// invoke calls one specialist with the per-call deadline and classifies
// the outcome.
func (o *Orchestrator) invoke(ctx context.Context, step Step, text string) stepResult {
	target := o.specialists[step.Specialist]
	res := stepResult{step: step, name: target.name}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	remote, err := o.invoker.SendMessage(callCtx, target.endpoint, a2a.NewUserMessage(text))
	if err != nil {
		o.log.Warn("specialist call failed",
			"specialist", target.name,
			"code", client.Code(err),
			"error", err)
		res.err = err
		return res
	}

	if remote.Result != nil {
		res.text = a2a.ExtractText(*remote.Result)
	}
	return res
}

// aggregate merges step outcomes into one attributed message, in declared
// priority order regardless of arrival order.
func (o *Orchestrator) aggregate(taskID string, results []stepResult) (*a2a.Message, error) {
	sorted := make([]stepResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].step.Priority < sorted[j].step.Priority
	})

	var segments []string
	var failures []string
	for _, res := range sorted {
		if res.err != nil {
			failures = append(failures,
				fmt.Sprintf("%s could not complete this request (%s)", res.name, client.Code(res.err)))
			continue
		}
		segments = append(segments, fmt.Sprintf("[%s]\n%s", res.name, res.text))
	}

	if len(segments) == 0 {
		return nil, &a2a.TaskError{
			Code:    a2a.ErrCodeAllSpecialistsFailed,
			Message: fmt.Sprintf("all specialists failed: %s", strings.Join(failures, "; ")),
		}
	}

	body := strings.Join(segments, "\n\n")
	if len(failures) > 0 {
		body += "\n\nNote: " + strings.Join(failures, "; ") + "."
	}

	o.log.Info("plan aggregated",
		"task_id", taskID,
		"succeeded", len(segments),
		"failed", len(failures))

	reply := a2a.NewAgentMessage(body)
	return &reply, nil
}
