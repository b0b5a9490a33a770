package github

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/issuemirror/internal/requestid"
)

// WebhookHandler turns issue webhooks for the mirrored repository into sync
// triggers.
type WebhookHandler struct {
	secret   []byte
	repo     string
	logger   zerolog.Logger
	onChange func(number int)
}

// NewWebhookHandler creates a handler for repo ("owner/name"). An empty
// secret disables signature validation.
func NewWebhookHandler(secret, repo string, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret: []byte(secret),
		repo:   repo,
		logger: logger.With().Str("component", "github.webhook").Logger(),
	}
}

// OnChange sets the callback for issue and issue comment events. It must
// not block.
func (w *WebhookHandler) OnChange(fn func(number int)) {
	w.onChange = fn
}

// ServeHTTP handles incoming webhook requests.
func (w *WebhookHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := requestid.Logger(r.Context(), w.logger)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// Validate signature if secret is set
	if len(w.secret) > 0 {
		sig := r.Header.Get("X-Hub-Signature-256")
		if err := gh.ValidateSignature(sig, payload, w.secret); err != nil {
			logger.Warn().Err(err).Msg("invalid webhook signature")
			http.Error(rw, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	eventType := r.Header.Get("X-GitHub-Event")
	logger.Info().Str("event", eventType).Msg("webhook received")

	var (
		repo   *gh.Repository
		number int
	)
	switch eventType {
	case "issues":
		var event gh.IssuesEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			http.Error(rw, "invalid payload", http.StatusBadRequest)
			return
		}
		repo, number = event.GetRepo(), event.GetIssue().GetNumber()

	case "issue_comment":
		var event gh.IssueCommentEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			http.Error(rw, "invalid payload", http.StatusBadRequest)
			return
		}
		if event.GetIssue().IsPullRequest() {
			break
		}
		repo, number = event.GetRepo(), event.GetIssue().GetNumber()

	default:
		logger.Debug().Str("event", eventType).Msg("unhandled event type")
	}

	if number != 0 && w.onChange != nil {
		if repo != nil && !strings.EqualFold(repo.GetFullName(), w.repo) {
			logger.Debug().Str("repo", repo.GetFullName()).Msg("event for another repository")
		} else {
			w.onChange(number)
		}
	}

	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, "ok")
}
