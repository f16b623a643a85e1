package composer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pria-cloud/app-composer/internal/llm"
	"github.com/pria-cloud/app-composer/internal/metrics"
	"github.com/pria-cloud/app-composer/internal/models"
	"github.com/pria-cloud/app-composer/internal/scaffold"
)

// Notifier receives progress events. Delivery is best-effort: implementations
// must never block a build on a slow or failing listener.
type Notifier interface {
	Notify(event models.ProgressEvent)
}

// NopNotifier discards progress events
type NopNotifier struct{}

// Notify implements Notifier
func (NopNotifier) Notify(models.ProgressEvent) {}

// PreviewInfo is the preview endpoint of a deployed scaffold
type PreviewInfo struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Deployer pushes a completed file set into a sandbox and starts the dev
// server. Optional; builds complete without it.
type Deployer interface {
	Deploy(ctx context.Context, conversationID string, files []GeneratedFile, dependencies []string) (*PreviewInfo, error)
}

// Options parameterizes the orchestrator. Historical build-handler variants
// are collapsed into this one entry point; behavior differences travel here
// as explicit configuration.
type Options struct {
	MaxRetries      int
	SkipDelivery    bool // do not write files to the output directory
	DeployToSandbox bool
	Policy          string
	Catalogue       string
	SchemaContext   string
}

// Service is the single compose orchestrator. Discovery runs synchronously on
// the request path; a confirmed build runs in a detached background task and
// reports through the notifier and the result store.
type Service struct {
	discovery *Discovery
	planner   *Planner
	loop      *Loop
	testgen   *TestGenerator
	writer    *scaffold.Writer
	results   *ResultStore
	notifier  Notifier
	metrics   *metrics.BuildMetrics
	deployer  Deployer
	opts      Options
}

// NewService wires the pipeline phases around one completion client
func NewService(completer llm.Completer, writer *scaffold.Writer, results *ResultStore, notifier Notifier, buildMetrics *metrics.BuildMetrics, deployer Deployer, opts Options) *Service {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}

	executor := NewExecutor(completer)
	reviewer := NewReviewer(completer)

	return &Service{
		discovery: NewDiscovery(completer),
		planner:   NewPlanner(completer),
		loop:      NewLoop(executor, reviewer, opts.MaxRetries),
		testgen:   NewTestGenerator(completer),
		writer:    writer,
		results:   results,
		notifier:  notifier,
		metrics:   buildMetrics,
		deployer:  deployer,
		opts:      opts,
	}
}

// IntentRequest is a single app.compose turn
type IntentRequest struct {
	UserInput      string
	AppSpec        *ApplicationSpec
	ConversationID string
	History        []ConversationTurn
}

// Intent response statuses
const (
	StatusAwaitingUserInput = "AWAITING_USER_INPUT"
	StatusAccepted          = "ACCEPTED"
)

// IntentResponse is the synchronous answer to an intent turn. For confirmed
// builds the terminal state arrives later through the progress channel and
// the result store.
type IntentResponse struct {
	Status         string           `json:"status"`
	ConversationID string           `json:"conversationId"`
	ResponseToUser string           `json:"responseToUser,omitempty"`
	UpdatedAppSpec *ApplicationSpec `json:"updatedAppSpec,omitempty"`
}

// HandleIntent advances discovery for the conversation and, once the spec is
// confirmed, kicks off the background build.
func (s *Service) HandleIntent(ctx context.Context, req IntentRequest) IntentResponse {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	var spec ApplicationSpec
	if req.AppSpec != nil {
		spec = *req.AppSpec
	}

	// A confirmed spec is frozen input to planning; it is never regenerated
	// by another discovery pass.
	if !spec.Confirmed {
		outcome := s.discovery.Next(ctx, req.UserInput, spec, req.History)
		if !outcome.Confirmed {
			updated := outcome.Spec
			return IntentResponse{
				Status:         StatusAwaitingUserInput,
				ConversationID: conversationID,
				ResponseToUser: outcome.ResponseToUser,
				UpdatedAppSpec: &updated,
			}
		}
		spec = outcome.Spec
	}

	s.results.Begin(conversationID)
	if s.metrics != nil {
		s.metrics.RecordBuildStarted(ctx, conversationID)
	}

	// Detached from the request context: the intent endpoint acknowledges
	// immediately and the build continues in the background.
	go s.runBuild(context.Background(), conversationID, spec)

	return IntentResponse{
		Status:         StatusAccepted,
		ConversationID: conversationID,
	}
}

// runBuild drives plan → correction loop → test generation → scaffold →
// optional sandbox deploy, recording the terminal state in the result store.
func (s *Service) runBuild(ctx context.Context, conversationID string, spec ApplicationSpec) {
	started := time.Now()

	s.progress(conversationID, models.PhasePlan, 10, "Planning application structure")

	plan, err := s.planner.Plan(ctx, spec, s.opts.Catalogue)
	if err != nil {
		s.fail(ctx, conversationID, models.ErrCodeInternalError, err, started)
		return
	}

	s.progress(conversationID, models.PhaseCodegen, 30, "Generating source files")

	output, err := s.loop.Run(ctx, spec, plan, s.opts.Policy, s.opts.SchemaContext, func(pass int) {
		// Each review pass nudges the bar toward the testgen milestone.
		percent := 40 + (pass-1)*10
		if percent > 70 {
			percent = 70
		}
		s.progress(conversationID, models.PhaseReview, percent, fmt.Sprintf("Reviewing generated files (pass %d)", pass))
	})
	if err != nil {
		code := models.ErrCodeInternalError
		var exhausted *RetryExhaustedError
		if errors.As(err, &exhausted) {
			code = models.ErrCodeRetryExhausted
		}
		s.fail(ctx, conversationID, code, err, started)
		return
	}

	s.progress(conversationID, models.PhaseTestGen, 75, "Generating smoke tests")

	tests := s.testgen.GenerateTests(ctx, output.Files)
	output.Files = append(output.Files, tests...)

	if !s.opts.SkipDelivery && s.writer != nil {
		s.progress(conversationID, models.PhaseScaffold, 85, "Writing project files")
		if err := s.writer.WriteAll(toScaffoldFiles(output.Files)); err != nil {
			s.fail(ctx, conversationID, models.ErrCodeInternalError, err, started)
			return
		}
	}

	var previewURL, previewToken string
	if s.opts.DeployToSandbox && s.deployer != nil {
		s.progress(conversationID, models.PhaseSandbox, 95, "Deploying to sandbox")
		preview, err := s.deployer.Deploy(ctx, conversationID, output.Files, output.Dependencies)
		if err != nil {
			// Deploy is a delivery extra, not part of the build contract.
			log.Printf(`{"level":"warn","message":"Sandbox deploy failed","conversation_id":"%s","error":"%v"}`, conversationID, err)
		} else if preview != nil {
			previewURL = preview.URL
			previewToken = preview.Token
		}
	}

	s.results.Complete(conversationID, output, previewURL, previewToken)
	if s.metrics != nil {
		s.metrics.RecordBuildCompleted(ctx, conversationID, output.Corrections, time.Since(started))
	}

	s.notifier.Notify(models.ProgressEvent{
		ConversationID: conversationID,
		Phase:          models.PhaseCompleted,
		Percent:        100,
		Message:        "Build completed",
		Status:         models.StatusCompleted,
		Timestamp:      time.Now().UTC(),
	})
}

// Results exposes the result store for the gateway layer
func (s *Service) Results() *ResultStore {
	return s.results
}

func (s *Service) fail(ctx context.Context, conversationID, code string, err error, started time.Time) {
	log.Printf(`{"level":"error","message":"Build failed","conversation_id":"%s","code":"%s","error":"%v"}`, conversationID, code, err)

	s.results.Fail(conversationID, code, err.Error())
	if s.metrics != nil {
		s.metrics.RecordBuildFailed(ctx, conversationID, code, time.Since(started))
	}

	s.notifier.Notify(models.ProgressEvent{
		ConversationID: conversationID,
		Phase:          models.PhaseError,
		Percent:        100,
		Message:        err.Error(),
		Status:         models.StatusFailed,
		Timestamp:      time.Now().UTC(),
	})
}

func (s *Service) progress(conversationID string, phase models.BuildPhase, percent int, message string) {
	s.notifier.Notify(models.ProgressEvent{
		ConversationID: conversationID,
		Phase:          phase,
		Percent:        percent,
		Message:        message,
		Status:         models.StatusInProgress,
		Timestamp:      time.Now().UTC(),
	})
}

func toScaffoldFiles(files []GeneratedFile) []scaffold.File {
	out := make([]scaffold.File, len(files))
	for i, f := range files {
		out[i] = scaffold.File{Path: f.FilePath, Content: f.Content}
	}
	return out
}
