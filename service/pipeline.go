package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Relchzen/kopcus-dashboard/model"
)

// Local precondition failures. These are safe no-ops by design: no request is
// sent, no state changes and no notification is emitted. The HTTP layer maps
// them to 404s.
var (
	ErrUnknownClient     = errors.New("client not found")
	ErrUnknownDeal       = errors.New("deal not found")
	ErrUnknownSubmission = errors.New("submission not found")
)

// ErrNoOpenSession is returned by edit-session operations that require an
// open session.
var ErrNoOpenSession = errors.New("no open edit session")

// PipelineStore is the single source of truth for clients, deals and
// submissions in the current session. All mutation goes through its command
// methods; all reads go through its selectors. It mirrors the remote deal
// gateway and reconciles optimistic local mutations against eventual gateway
// responses.
//
// Commands come in two flavors. Pessimistic commands (create, update, delete,
// convert) confirm with the gateway before touching local state. Optimistic
// commands (stage moves, review/spam marking) mutate local state first so the
// UI updates immediately, reconcile with the gateway on a background
// goroutine, and restore a pre-mutation snapshot by single assignment if the
// gateway call fails. Every failure is surfaced through the notifier; none
// leave the store unqueryable.
type PipelineStore struct {
	mu       sync.Mutex
	gateway  Gateway
	notifier Notifier

	clients     []model.Client
	submissions []model.ContactSubmission

	// dealIndex maps dealID to owning clientID so deals nested under clients
	// can be addressed directly without scanning every client.
	dealIndex map[string]string

	activeDealID     string
	activeSubmission *model.ContactSubmission

	isLoading    bool
	isMutating   bool
	isConverting bool
}

func NewPipelineStore(gateway Gateway, notifier Notifier) *PipelineStore {
	return &PipelineStore{
		gateway:     gateway,
		notifier:    notifier,
		clients:     []model.Client{},
		submissions: []model.ContactSubmission{},
		dealIndex:   make(map[string]string),
	}
}

// rebuildDealIndex recomputes the dealID->clientID index from the nested
// structure. Must be called with the lock held whenever clients is replaced
// wholesale.
func (s *PipelineStore) rebuildDealIndex() {
	s.dealIndex = make(map[string]string)
	for i := range s.clients {
		for j := range s.clients[i].Deals {
			s.dealIndex[s.clients[i].Deals[j].ID] = s.clients[i].ID
		}
	}
}

// findDeal returns pointers into the live structures for a deal and its owning
// client. Must be called with the lock held.
func (s *PipelineStore) findDeal(dealID string) (*model.Client, *model.Deal) {
	clientID, ok := s.dealIndex[dealID]
	if !ok {
		return nil, nil
	}
	for i := range s.clients {
		if s.clients[i].ID != clientID {
			continue
		}
		for j := range s.clients[i].Deals {
			if s.clients[i].Deals[j].ID == dealID {
				return &s.clients[i], &s.clients[i].Deals[j]
			}
		}
	}
	return nil, nil
}

// closedChan returns an already-resolved done channel for no-op commands.
func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// LoadClients fetches the full client collection. On any failure the
// collection is reset to an empty list, never left stale or partial, so
// selectors always observe a valid sequence.
func (s *PipelineStore) LoadClients(ctx context.Context) error {
	s.mu.Lock()
	s.isLoading = true
	s.mu.Unlock()

	clients, err := s.gateway.ListClients(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.isLoading = false

	if err != nil {
		s.clients = []model.Client{}
		s.rebuildDealIndex()
		s.notifier.Notify(NotifyError, "Failed to fetch clients")
		slog.Error("load clients failed", "error", err)
		return err
	}

	if clients == nil {
		clients = []model.Client{}
	}
	s.clients = clients
	s.rebuildDealIndex()
	return nil
}

// LoadSubmissions fetches the full submission collection with the same
// empty-on-failure policy as LoadClients.
func (s *PipelineStore) LoadSubmissions(ctx context.Context) error {
	s.mu.Lock()
	s.isLoading = true
	s.mu.Unlock()

	subs, err := s.gateway.ListSubmissions(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.isLoading = false

	if err != nil {
		s.submissions = []model.ContactSubmission{}
		s.notifier.Notify(NotifyError, "Failed to fetch submissions")
		slog.Error("load submissions failed", "error", err)
		return err
	}

	if subs == nil {
		subs = []model.ContactSubmission{}
	}
	s.submissions = subs
	return nil
}

// CreateDeal creates a deal for a known client. Pessimistic: local state is
// only touched once the gateway confirms, so a failure is a safe no-op.
func (s *PipelineStore) CreateDeal(ctx context.Context, req CreateDealRequest) (*model.Deal, error) {
	s.mu.Lock()
	known := false
	for i := range s.clients {
		if s.clients[i].ID == req.ClientID {
			known = true
			break
		}
	}
	if !known {
		s.mu.Unlock()
		return nil, ErrUnknownClient
	}
	s.isMutating = true
	s.mu.Unlock()

	deal, err := s.gateway.CreateDeal(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.isMutating = false

	if err != nil {
		s.notifier.Notify(NotifyError, "Failed to create deal")
		slog.Error("create deal failed", "client_id", req.ClientID, "error", err)
		return nil, err
	}

	for i := range s.clients {
		if s.clients[i].ID == req.ClientID {
			s.clients[i].Deals = append(s.clients[i].Deals, *deal)
			s.dealIndex[deal.ID] = req.ClientID
			break
		}
	}
	s.notifier.Notify(NotifySuccess, "Deal created successfully!")
	return deal, nil
}

// UpdateDeal applies a partial update. Pessimistic: the gateway's response is
// merged into the matching local deal; on failure local state is untouched.
func (s *PipelineStore) UpdateDeal(ctx context.Context, dealID string, patch model.DealPatch) (*model.Deal, error) {
	s.mu.Lock()
	if _, ok := s.dealIndex[dealID]; !ok {
		s.mu.Unlock()
		return nil, ErrUnknownDeal
	}
	s.isMutating = true
	s.mu.Unlock()

	updated, err := s.gateway.UpdateDeal(ctx, dealID, patch)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.isMutating = false

	if err != nil {
		s.notifier.Notify(NotifyError, "Failed to update deal")
		slog.Error("update deal failed", "deal_id", dealID, "error", err)
		return nil, err
	}

	if _, deal := s.findDeal(dealID); deal != nil {
		*deal = *updated
	}
	s.notifier.Notify(NotifySuccess, "Deal updated successfully")
	return updated, nil
}

// UpdateDealStage moves a deal to a new stage. Optimistic: the local stage
// changes before the gateway call is dispatched, so selectors see the move
// immediately; on gateway failure the entire prior client list snapshot is
// restored by a single assignment. The returned channel is closed once the
// background reconciliation has resolved either way.
//
// A move to the deal's current stage and a move of an unknown deal are both
// pure no-ops: no request, no mutation, no notification.
//
// Two in-flight moves on the same deal do not serialize against each other;
// whichever response arrives last wins, and a late failure can undo a move
// that already succeeded visually. Known limitation, accepted by design.
func (s *PipelineStore) UpdateDealStage(dealID string, newStage model.DealStage) <-chan struct{} {
	s.mu.Lock()

	_, deal := s.findDeal(dealID)
	if deal == nil || deal.Stage == newStage {
		s.mu.Unlock()
		return closedChan()
	}

	snapshot := model.CloneClients(s.clients)
	deal.Stage = newStage
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)

		stage := newStage
		_, err := s.gateway.UpdateDeal(context.Background(), dealID, model.DealPatch{Stage: &stage})
		if err != nil {
			s.mu.Lock()
			s.clients = snapshot
			s.rebuildDealIndex()
			s.mu.Unlock()
			s.notifier.Notify(NotifyError, "Failed to move deal")
			slog.Error("stage move rolled back", "deal_id", dealID, "stage", newStage, "error", err)
			return
		}
		s.notifier.Notify(NotifySuccess, "Deal moved successfully")
	}()
	return done
}

// DeleteDeal removes a deal. Pessimistic: deletion is irreversible, so the
// gateway must confirm before local state changes.
func (s *PipelineStore) DeleteDeal(ctx context.Context, dealID string) error {
	s.mu.Lock()
	if _, ok := s.dealIndex[dealID]; !ok {
		s.mu.Unlock()
		return ErrUnknownDeal
	}
	s.isMutating = true
	s.mu.Unlock()

	err := s.gateway.DeleteDeal(ctx, dealID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.isMutating = false

	if err != nil {
		s.notifier.Notify(NotifyError, "Failed to delete deal")
		slog.Error("delete deal failed", "deal_id", dealID, "error", err)
		return err
	}

	if client, _ := s.findDeal(dealID); client != nil {
		deals := client.Deals[:0]
		for _, d := range client.Deals {
			if d.ID != dealID {
				deals = append(deals, d)
			}
		}
		client.Deals = deals
	}
	delete(s.dealIndex, dealID)
	s.notifier.Notify(NotifySuccess, "Deal deleted")
	return nil
}

// DeleteClient removes a client. The gateway cascades to the client's
// contacts and deals; the local view mirrors that cascade.
func (s *PipelineStore) DeleteClient(ctx context.Context, clientID string) error {
	s.mu.Lock()
	known := false
	for i := range s.clients {
		if s.clients[i].ID == clientID {
			known = true
			break
		}
	}
	if !known {
		s.mu.Unlock()
		return ErrUnknownClient
	}
	s.isMutating = true
	s.mu.Unlock()

	err := s.gateway.DeleteClient(ctx, clientID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.isMutating = false

	if err != nil {
		s.notifier.Notify(NotifyError, "Failed to delete client")
		slog.Error("delete client failed", "client_id", clientID, "error", err)
		return err
	}

	clients := s.clients[:0]
	for _, c := range s.clients {
		if c.ID == clientID {
			for _, d := range c.Deals {
				delete(s.dealIndex, d.ID)
			}
			continue
		}
		clients = append(clients, c)
	}
	s.clients = clients
	s.notifier.Notify(NotifySuccess, "Client and related data deleted")
	return nil
}

// ConvertSubmission turns a submission into a client+deal pair. Pessimistic.
// The response's submission replaces the local one in place. The response's
// client is upserted by id, replaced in position if already present and
// appended otherwise, so a retried conversion never duplicates the client.
func (s *PipelineStore) ConvertSubmission(ctx context.Context, submissionID string, req ConvertRequest) error {
	s.mu.Lock()
	known := false
	for i := range s.submissions {
		if s.submissions[i].ID == submissionID {
			known = true
			break
		}
	}
	if !known {
		s.mu.Unlock()
		return ErrUnknownSubmission
	}
	s.isConverting = true
	s.mu.Unlock()

	result, err := s.gateway.ConvertSubmission(ctx, submissionID, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.isConverting = false

	if err != nil {
		s.notifier.Notify(NotifyError, "Conversion failed")
		slog.Error("convert submission failed", "submission_id", submissionID, "error", err)
		return err
	}

	for i := range s.submissions {
		if s.submissions[i].ID == submissionID {
			s.submissions[i] = result.Submission
			break
		}
	}

	existing := -1
	for i := range s.clients {
		if s.clients[i].ID == result.Client.ID {
			existing = i
			break
		}
	}
	if existing == -1 {
		s.clients = append(s.clients, result.Client)
	} else {
		for _, d := range s.clients[existing].Deals {
			delete(s.dealIndex, d.ID)
		}
		s.clients[existing] = result.Client
	}
	for _, d := range result.Client.Deals {
		s.dealIndex[d.ID] = result.Client.ID
	}

	s.notifier.Notify(NotifySuccess, "Client and Deal created successfully!")
	return nil
}

// MarkAsReviewed transitions a submission from NEW to REVIEWED. Optimistic,
// with an idempotent guard: any status other than NEW makes this a pure
// no-op, so repeated calls after the first review do nothing.
func (s *PipelineStore) MarkAsReviewed(submissionID string) <-chan struct{} {
	s.mu.Lock()

	idx := -1
	for i := range s.submissions {
		if s.submissions[i].ID == submissionID {
			idx = i
			break
		}
	}
	if idx == -1 || s.submissions[idx].Status != model.SubmissionNew {
		s.mu.Unlock()
		return closedChan()
	}

	prevSubs := model.CloneSubmissions(s.submissions)
	prevActive := s.cloneActiveSubmission()

	s.submissions[idx].Status = model.SubmissionReviewed
	if s.activeSubmission != nil && s.activeSubmission.ID == submissionID {
		s.activeSubmission.Status = model.SubmissionReviewed
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)

		status := model.SubmissionReviewed
		_, err := s.gateway.UpdateSubmission(context.Background(), submissionID, SubmissionUpdate{Status: &status})
		if err != nil {
			s.mu.Lock()
			s.submissions = prevSubs
			s.activeSubmission = prevActive
			s.mu.Unlock()
			s.notifier.Notify(NotifyError, "Failed to mark as reviewed")
			slog.Error("mark reviewed rolled back", "submission_id", submissionID, "error", err)
		}
	}()
	return done
}

// MarkAsSpam flags a submission as spam, which forces its status to CLOSED.
// Optimistic, unconditional, with the same rollback discipline as
// MarkAsReviewed.
func (s *PipelineStore) MarkAsSpam(submissionID string) <-chan struct{} {
	s.mu.Lock()

	idx := -1
	for i := range s.submissions {
		if s.submissions[i].ID == submissionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return closedChan()
	}

	prevSubs := model.CloneSubmissions(s.submissions)
	prevActive := s.cloneActiveSubmission()

	s.submissions[idx].IsSpam = true
	s.submissions[idx].Status = model.SubmissionClosed
	if s.activeSubmission != nil && s.activeSubmission.ID == submissionID {
		s.activeSubmission.IsSpam = true
		s.activeSubmission.Status = model.SubmissionClosed
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)

		isSpam := true
		status := model.SubmissionClosed
		_, err := s.gateway.UpdateSubmission(context.Background(), submissionID, SubmissionUpdate{
			Status: &status,
			IsSpam: &isSpam,
		})
		if err != nil {
			s.mu.Lock()
			s.submissions = prevSubs
			s.activeSubmission = prevActive
			s.mu.Unlock()
			s.notifier.Notify(NotifyError, "Failed to mark as spam")
			slog.Error("mark spam rolled back", "submission_id", submissionID, "error", err)
			return
		}
		s.notifier.Notify(NotifySuccess, "Marked as spam")
	}()
	return done
}

func (s *PipelineStore) cloneActiveSubmission() *model.ContactSubmission {
	if s.activeSubmission == nil {
		return nil
	}
	cp := *s.activeSubmission
	return &cp
}

// SetActiveSubmission sets or clears the focused submission.
func (s *PipelineStore) SetActiveSubmission(sub *model.ContactSubmission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub == nil {
		s.activeSubmission = nil
		return
	}
	cp := *sub
	s.activeSubmission = &cp
}

// OpenDealDetail points the active-deal focus at a deal. It does not fetch
// anything; the deal is resolved from already-loaded state on read.
func (s *PipelineStore) OpenDealDetail(dealID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeDealID = dealID
}

// CloseDealDetail clears the active-deal focus.
func (s *PipelineStore) CloseDealDetail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeDealID = ""
}

// Selectors. All are synchronous reads of current state; none touch the
// gateway. Returned slices and structs are copies.

// Clients returns a deep copy of the client list.
func (s *PipelineStore) Clients() []model.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneClients(s.clients)
}

// Submissions returns a copy of the submission list.
func (s *PipelineStore) Submissions() []model.ContactSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneSubmissions(s.submissions)
}

// GetClientByID returns the client with the given id, or nil.
func (s *PipelineStore) GetClientByID(id string) *model.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.clients {
		if s.clients[i].ID == id {
			c := s.clients[i].Clone()
			return &c
		}
	}
	return nil
}

// GetSubmissionByID returns the submission with the given id, or nil.
func (s *PipelineStore) GetSubmissionByID(id string) *model.ContactSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.submissions {
		if s.submissions[i].ID == id {
			sub := s.submissions[i]
			return &sub
		}
	}
	return nil
}

// GetDealsByStage flattens all clients' deals and filters by stage, in stable
// client-list order.
func (s *PipelineStore) GetDealsByStage(stage model.DealStage) []model.Deal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Deal
	for i := range s.clients {
		for _, d := range s.clients[i].Deals {
			if d.Stage == stage {
				out = append(out, d)
			}
		}
	}
	return out
}

// GetActiveDeals returns every deal not in the LOST stage.
func (s *PipelineStore) GetActiveDeals() []model.Deal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Deal
	for i := range s.clients {
		for _, d := range s.clients[i].Deals {
			if d.Stage != model.StageLost {
				out = append(out, d)
			}
		}
	}
	return out
}

// GetActiveDeal resolves the active-deal focus against current state. A
// dangling pointer (deal no longer present) means "nothing selected", not an
// error.
func (s *PipelineStore) GetActiveDeal() *model.Deal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeDealID == "" {
		return nil
	}
	clientID, ok := s.dealIndex[s.activeDealID]
	if !ok {
		return nil
	}
	for i := range s.clients {
		if s.clients[i].ID != clientID {
			continue
		}
		for _, d := range s.clients[i].Deals {
			if d.ID == s.activeDealID {
				cp := d
				return &cp
			}
		}
	}
	return nil
}

// GetClientForDeal resolves a deal id to its owning client id through the
// secondary index, or "" when the deal is unknown.
func (s *PipelineStore) GetClientForDeal(dealID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dealIndex[dealID]
}

// GetUnreadCount counts submissions that are NEW and not spam.
func (s *PipelineStore) GetUnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for i := range s.submissions {
		if s.submissions[i].Status == model.SubmissionNew && !s.submissions[i].IsSpam {
			count++
		}
	}
	return count
}

// GetActionRequiredCount counts non-spam submissions still needing attention
// (NEW, REVIEWED or CONTACTED).
func (s *PipelineStore) GetActionRequiredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for i := range s.submissions {
		switch s.submissions[i].Status {
		case model.SubmissionNew, model.SubmissionReviewed, model.SubmissionContacted:
			if !s.submissions[i].IsSpam {
				count++
			}
		}
	}
	return count
}

// Busy reports the store's transient busy flags. These gate concurrent UI
// actions only; they carry no correctness weight.
func (s *PipelineStore) Busy() (loading, mutating, converting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLoading, s.isMutating, s.isConverting
}
