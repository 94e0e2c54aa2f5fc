package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"chatmon/pkg/directory"
	"chatmon/pkg/logger"
	"chatmon/pkg/models"
	"chatmon/pkg/registry"
	"chatmon/pkg/resolve"
	"chatmon/pkg/store"
	"chatmon/pkg/utils"
	"chatmon/pkg/watch"
)

// Deps is everything the JSON API needs. The handler never owns any of
// these; the app wires and closes them.
type Deps struct {
	Registry    *registry.Registry
	Directory   *directory.Directory
	Resolver    resolve.Resolver
	Coordinator *resolve.Coordinator
	Sink        resolve.Sink
	Tasks       watch.TaskCreator

	// AdminChat/AdminSender is the default correlation key for
	// resolutions begun over the API.
	AdminChat   string
	AdminSender string

	// AutoResolve is the default for requests that leave auto_resolve
	// unset: accept a single confident match without prompting.
	AutoResolve bool
}

// Handler returns the versioned JSON API router.
func Handler(d Deps) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/resolutions", d.beginResolution).Methods(http.MethodPost)
	r.HandleFunc("/v1/resolutions/{id}", d.getResolution).Methods(http.MethodGet)
	r.HandleFunc("/v1/resolutions/{id}/wait", d.waitResolution).Methods(http.MethodPost)
	r.HandleFunc("/v1/identities", d.listIdentities).Methods(http.MethodGet)
	r.HandleFunc("/v1/tasks", d.createTask).Methods(http.MethodPost)
	r.HandleFunc("/v1/actions", d.listActions).Methods(http.MethodGet)
	return r
}

type candidateView struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	ContactAddress string `json:"contact_address"`
	Handle         string `json:"handle"`
	Score          int    `json:"score,omitempty"`
}

func viewCandidate(c models.Candidate) candidateView {
	return candidateView{
		ID:             c.Identity.ID,
		DisplayName:    c.Identity.DisplayName,
		ContactAddress: c.Identity.ContactAddress,
		Handle:         c.Identity.Handle,
		Score:          c.Score,
	}
}

func viewCandidates(cs []models.Candidate) []candidateView {
	out := make([]candidateView, 0, len(cs))
	for _, c := range cs {
		out = append(out, viewCandidate(c))
	}
	return out
}

type beginRequest struct {
	Query          string `json:"query"`
	ChatID         string `json:"chat_id"`
	Sender         string `json:"sender"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	AutoResolve    *bool  `json:"auto_resolve"`
}

type beginResponse struct {
	Outcome    string          `json:"outcome"`
	ID         string          `json:"id,omitempty"`
	Candidate  *candidateView  `json:"candidate,omitempty"`
	Prompt     string          `json:"prompt,omitempty"`
	Candidates []candidateView `json:"candidates,omitempty"`
}

func beginOutcomeString(o resolve.BeginOutcome) string {
	switch o {
	case resolve.BeginResolved:
		return "resolved"
	case resolve.BeginDefaulted:
		return "defaulted"
	case resolve.BeginNoMatch:
		return "no_match"
	case resolve.BeginPrompted:
		return "prompted"
	}
	return "unknown"
}

// beginResolution starts a resolution; a prompted outcome also dispatches
// the numbered prompt to the correlation chat.
func (d Deps) beginResolution(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Query == "" {
		utils.JSONError(w, http.StatusBadRequest, "query required")
		return
	}
	key := registry.CorrelationKey{ChatID: req.ChatID, Sender: req.Sender}
	if key.ChatID == "" {
		key.ChatID = d.AdminChat
		key.Sender = d.AdminSender
	}
	auto := d.AutoResolve
	if req.AutoResolve != nil {
		auto = *req.AutoResolve
	}
	res := d.Coordinator.Begin(r.Context(), req.Query, key, auto, time.Duration(req.TimeoutSeconds)*time.Second)

	out := beginResponse{Outcome: beginOutcomeString(res.Outcome), ID: res.ID, Prompt: res.Prompt}
	if res.Candidate != nil {
		cv := viewCandidate(*res.Candidate)
		out.Candidate = &cv
	}
	if len(res.Presented) > 0 {
		out.Candidates = viewCandidates(res.Presented)
	}
	if res.Outcome == resolve.BeginPrompted && d.Sink != nil {
		if err := d.Sink.Send(r.Context(), key.ChatID, res.Prompt); err != nil {
			logger.Error("resolution_prompt_failed", "chat", key.ChatID, "error", err)
		}
	}
	status := http.StatusOK
	if res.Outcome == resolve.BeginPrompted {
		status = http.StatusAccepted
	}
	_ = utils.JSONWrite(w, status, out)
}

type resolutionView struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Query     string          `json:"query,omitempty"`
	Candidate *candidateView  `json:"candidate,omitempty"`
	Selection int             `json:"selection,omitempty"`
	Presented []candidateView `json:"candidates,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func viewResolution(it registry.Interaction) resolutionView {
	v := resolutionView{
		ID:        it.ID,
		Status:    string(it.Status),
		CreatedAt: it.CreatedAt,
		ExpiresAt: it.ExpiresAt,
	}
	if p, ok := it.Payload.(resolve.DisambiguationPayload); ok {
		v.Query = p.Query
		v.Presented = viewCandidates(p.Candidates)
	}
	if res, ok := it.Resolution.(resolve.Resolution); ok && res.Candidate != nil {
		cv := viewCandidate(*res.Candidate)
		v.Candidate = &cv
		v.Selection = res.Selection
	}
	return v
}

func (d Deps) getResolution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	it, ok := d.Registry.Get(id)
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "resolution not found")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, viewResolution(it))
}

type waitRequest struct {
	MaxWaitSeconds      int `json:"max_wait_seconds"`
	PollIntervalSeconds int `json:"poll_interval_seconds"`
}

func (d Deps) waitResolution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := d.Registry.Get(id); !ok {
		utils.JSONError(w, http.StatusNotFound, "resolution not found")
		return
	}
	var req waitRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	maxWait := time.Duration(req.MaxWaitSeconds) * time.Second
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	poll := time.Duration(req.PollIntervalSeconds) * time.Second
	if poll <= 0 {
		poll = time.Second
	}

	_, status := d.Coordinator.WaitForReply(r.Context(), id, poll, maxWait)
	if status == resolve.WaitPending {
		it, _ := d.Registry.Get(id)
		_ = utils.JSONWrite(w, http.StatusAccepted, viewResolution(it))
		return
	}
	it, ok := d.Registry.Get(id)
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "resolution not found")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, viewResolution(it))
}

// listIdentities returns the directory snapshot, or a scored ranking when
// ?query= is present.
func (d Deps) listIdentities(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		ids := d.Directory.Snapshot()
		out := make([]candidateView, 0, len(ids))
		for _, id := range ids {
			out = append(out, viewCandidate(models.Candidate{Identity: id}))
		}
		_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"identities": out})
		return
	}
	ranked := d.Resolver.Resolve(query, d.Directory.Snapshot())
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"query":      query,
		"candidates": viewCandidates(ranked.Candidates),
		"confident":  viewCandidates(ranked.Confident),
	})
}

type taskRequest struct {
	Subject        string `json:"subject"`
	Description    string `json:"description"`
	Priority       string `json:"priority"`
	DueDate        string `json:"due_date"`
	AssignedTo     string `json:"assigned_to"`
	WaitSeconds    int    `json:"wait_seconds"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// createTask creates a record, resolving the assignee interactively. An
// unresolved disambiguation within the wait window returns 202 with the
// open resolution.
func (d Deps) createTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Subject == "" {
		utils.JSONError(w, http.StatusBadRequest, "subject required")
		return
	}
	details := models.TaskDetails{
		Subject:     req.Subject,
		Description: req.Description,
		Priority:    watch.NormalizePriority(req.Priority),
		DueDate:     watch.ResolveDueDate(req.DueDate, time.Now()),
		AssignedTo:  req.AssignedTo,
		HasDetails:  true,
	}

	if details.AssignedTo != "" {
		key := registry.CorrelationKey{ChatID: d.AdminChat, Sender: d.AdminSender}
		res := d.Coordinator.Begin(r.Context(), details.AssignedTo, key, d.AutoResolve,
			time.Duration(req.TimeoutSeconds)*time.Second)
		switch res.Outcome {
		case resolve.BeginResolved, resolve.BeginDefaulted:
			details.AssignedTo = res.Candidate.Identity.ContactAddress
		case resolve.BeginNoMatch:
			details.AssignedTo = ""
		case resolve.BeginPrompted:
			if d.Sink != nil {
				_ = d.Sink.Send(r.Context(), key.ChatID, res.Prompt)
			}
			maxWait := time.Duration(req.WaitSeconds) * time.Second
			if maxWait <= 0 {
				maxWait = 30 * time.Second
			}
			reply, status := d.Coordinator.WaitForReply(r.Context(), res.ID, time.Second, maxWait)
			switch status {
			case resolve.WaitResolved:
				if reply.Candidate != nil {
					details.AssignedTo = reply.Candidate.Identity.ContactAddress
				}
			case resolve.WaitCancelled:
				utils.JSONError(w, http.StatusConflict, "assignee selection cancelled")
				return
			default:
				it, _ := d.Registry.Get(res.ID)
				_ = utils.JSONWrite(w, http.StatusAccepted, viewResolution(it))
				return
			}
		}
	}

	result, err := d.Tasks.CreateTask(r.Context(), details)
	if err != nil {
		logger.Error("api_task_create_failed", "subject", details.Subject, "error", err)
		utils.JSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, map[string]string{
		"task_id":  result.TaskID,
		"task_url": result.TaskURL,
	})
}

// listActions returns journal entries since a unix-seconds or RFC3339
// timestamp (default: last 24h).
func (d Deps) listActions(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			since = time.Unix(secs, 0)
		} else if t, err := time.Parse(time.RFC3339, s); err == nil {
			since = t
		} else {
			utils.JSONError(w, http.StatusBadRequest, "invalid since")
			return
		}
	}
	actions, err := store.ListActionsSince(since.UTC().UnixNano())
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if actions == nil {
		actions = []models.Action{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"actions": actions})
}
