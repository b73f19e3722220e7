package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Relchzen/kopcus-dashboard/model"
)

// fakeGateway is a scripted Gateway. Setting an err field fails the matching
// call; setting release makes UpdateDeal/UpdateSubmission block until the
// channel closes, so tests can observe optimistic state mid-flight.
type fakeGateway struct {
	mu sync.Mutex

	clients     []model.Client
	submissions []model.ContactSubmission

	listClientsErr  error
	listSubsErr     error
	createDealErr   error
	updateDealErr   error
	updateSubErr    error
	deleteDealErr   error
	deleteClientErr error
	convertErr      error

	convertResult *ConvertResult

	release chan struct{}

	// stageScripts overrides updateDealErr/release per target stage, keeping
	// tests with two in-flight moves deterministic regardless of goroutine
	// scheduling.
	stageScripts map[model.DealStage]*stageScript

	updateDealCalls int
	updateSubCalls  int
	convertCalls    int
}

func (g *fakeGateway) wait() {
	g.mu.Lock()
	release := g.release
	g.mu.Unlock()
	if release != nil {
		<-release
	}
}

func (g *fakeGateway) ListClients(ctx context.Context) ([]model.Client, error) {
	if g.listClientsErr != nil {
		return nil, g.listClientsErr
	}
	return g.clients, nil
}

func (g *fakeGateway) ListSubmissions(ctx context.Context) ([]model.ContactSubmission, error) {
	if g.listSubsErr != nil {
		return nil, g.listSubsErr
	}
	return g.submissions, nil
}

func (g *fakeGateway) ConvertSubmission(ctx context.Context, id string, req ConvertRequest) (*ConvertResult, error) {
	g.mu.Lock()
	g.convertCalls++
	g.mu.Unlock()
	if g.convertErr != nil {
		return nil, g.convertErr
	}
	return g.convertResult, nil
}

func (g *fakeGateway) UpdateSubmission(ctx context.Context, id string, req SubmissionUpdate) (*model.ContactSubmission, error) {
	g.mu.Lock()
	g.updateSubCalls++
	g.mu.Unlock()
	g.wait()
	if g.updateSubErr != nil {
		return nil, g.updateSubErr
	}
	return &model.ContactSubmission{ID: id}, nil
}

func (g *fakeGateway) CreateDeal(ctx context.Context, req CreateDealRequest) (*model.Deal, error) {
	if g.createDealErr != nil {
		return nil, g.createDealErr
	}
	stage := req.Stage
	if stage == "" {
		stage = model.StageNew
	}
	return &model.Deal{
		ID:       "server-deal-id",
		ClientID: req.ClientID,
		Title:    req.Title,
		Value:    req.Value,
		Stage:    stage,
	}, nil
}

type stageScript struct {
	release chan struct{}
	err     error
}

func (g *fakeGateway) UpdateDeal(ctx context.Context, id string, patch model.DealPatch) (*model.Deal, error) {
	g.mu.Lock()
	g.updateDealCalls++
	var script *stageScript
	if g.stageScripts != nil && patch.Stage != nil {
		script = g.stageScripts[*patch.Stage]
	}
	g.mu.Unlock()

	if script != nil {
		if script.release != nil {
			<-script.release
		}
		if script.err != nil {
			return nil, script.err
		}
	} else {
		g.wait()
		if g.updateDealErr != nil {
			return nil, g.updateDealErr
		}
	}

	deal := model.Deal{ID: id, Title: "updated"}
	patch.Apply(&deal)
	return &deal, nil
}

func (g *fakeGateway) DeleteDeal(ctx context.Context, id string) error {
	return g.deleteDealErr
}

func (g *fakeGateway) DeleteClient(ctx context.Context, id string) error {
	return g.deleteClientErr
}

func (g *fakeGateway) calls() (updateDeal, updateSub, convert int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.updateDealCalls, g.updateSubCalls, g.convertCalls
}

// recordingNotifier captures notifications for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (n *recordingNotifier) Notify(level NotificationLevel, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, Notification{Level: level, Message: message, Time: time.Now()})
}

func (n *recordingNotifier) count(level NotificationLevel) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, note := range n.notes {
		if note.Level == level {
			c++
		}
	}
	return c
}

func newTestPipeline(gw *fakeGateway) (*PipelineStore, *recordingNotifier) {
	notifier := &recordingNotifier{}
	store := NewPipelineStore(gw, notifier)
	return store, notifier
}

// seed installs state directly and rebuilds the deal index.
func seed(s *PipelineStore, clients []model.Client, subs []model.ContactSubmission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = clients
	s.submissions = subs
	s.rebuildDealIndex()
}

func acmeClients() []model.Client {
	return []model.Client{
		{
			ID:   "c1",
			Name: "Acme",
			Deals: []model.Deal{
				{ID: "d1", ClientID: "c1", Title: "Website", Value: 1000, Stage: model.StageNew},
			},
		},
	}
}

func TestLoadClientsSuccess(t *testing.T) {
	gw := &fakeGateway{clients: acmeClients()}
	store, _ := newTestPipeline(gw)

	if err := store.LoadClients(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	clients := store.Clients()
	if len(clients) != 1 || clients[0].Name != "Acme" {
		t.Errorf("Expected 1 client named Acme, got %+v", clients)
	}
	if store.GetClientForDeal("d1") != "c1" {
		t.Error("Expected deal index to be rebuilt after load")
	}
}

func TestLoadClientsFailureYieldsEmptyNotStale(t *testing.T) {
	gw := &fakeGateway{}
	store, notifier := newTestPipeline(gw)

	// Pre-populate with 3 clients
	seed(store, []model.Client{{ID: "a"}, {ID: "b"}, {ID: "c"}}, nil)

	gw.listClientsErr = errors.New("gateway down")
	if err := store.LoadClients(context.Background()); err == nil {
		t.Fatal("Expected error")
	}

	clients := store.Clients()
	if len(clients) != 0 {
		t.Errorf("Expected empty client list after failed load, got %d entries", len(clients))
	}
	if notifier.count(NotifyError) != 1 {
		t.Error("Expected a failure notification")
	}
}

func TestLoadSubmissionsFailureYieldsEmptyNotStale(t *testing.T) {
	gw := &fakeGateway{}
	store, _ := newTestPipeline(gw)
	seed(store, nil, []model.ContactSubmission{{ID: "s1"}, {ID: "s2"}})

	gw.listSubsErr = errors.New("gateway down")
	if err := store.LoadSubmissions(context.Background()); err == nil {
		t.Fatal("Expected error")
	}

	if len(store.Submissions()) != 0 {
		t.Error("Expected empty submissions after failed load")
	}
}

func TestUpdateDealStageOptimisticCommit(t *testing.T) {
	gw := &fakeGateway{release: make(chan struct{})}
	store, notifier := newTestPipeline(gw)
	seed(store, acmeClients(), nil)

	done := store.UpdateDealStage("d1", model.StageWon)

	// Before the gateway call resolves the move is already visible.
	won := store.GetDealsByStage(model.StageWon)
	if len(won) != 1 || won[0].ID != "d1" {
		t.Fatalf("Expected d1 in WON before resolution, got %+v", won)
	}
	if len(store.GetDealsByStage(model.StageNew)) != 0 {
		t.Error("Expected NEW column to be empty before resolution")
	}

	active := store.GetActiveDeals()
	if len(active) != 1 || active[0].Stage != model.StageWon {
		t.Errorf("Expected active deal with stage WON, got %+v", active)
	}

	close(gw.release)
	<-done

	// Success keeps the optimistic state.
	if got := store.GetDealsByStage(model.StageWon); len(got) != 1 {
		t.Errorf("Expected d1 to remain in WON after success, got %+v", got)
	}
	if notifier.count(NotifySuccess) != 1 {
		t.Error("Expected a success notification")
	}
}

func TestUpdateDealStageRollbackOnFailure(t *testing.T) {
	gw := &fakeGateway{release: make(chan struct{}), updateDealErr: errors.New("boom")}
	store, notifier := newTestPipeline(gw)
	seed(store, acmeClients(), nil)

	done := store.UpdateDealStage("d1", model.StageWon)

	// Optimistic state first
	if len(store.GetDealsByStage(model.StageWon)) != 1 {
		t.Fatal("Expected optimistic move to WON")
	}

	close(gw.release)
	<-done

	// Full reversion, not partial
	newDeals := store.GetDealsByStage(model.StageNew)
	if len(newDeals) != 1 || newDeals[0].ID != "d1" || newDeals[0].Value != 1000 {
		t.Errorf("Expected d1 back in NEW with original fields, got %+v", newDeals)
	}
	if len(store.GetDealsByStage(model.StageWon)) != 0 {
		t.Error("Expected WON column empty after rollback")
	}
	if notifier.count(NotifyError) != 1 {
		t.Error("Expected a failure notification after rollback")
	}
	if store.GetClientForDeal("d1") != "c1" {
		t.Error("Expected deal index intact after rollback")
	}
}

func TestUpdateDealStageSameStageNoOp(t *testing.T) {
	gw := &fakeGateway{}
	store, notifier := newTestPipeline(gw)
	seed(store, acmeClients(), nil)

	before := store.Clients()

	done := store.UpdateDealStage("d1", model.StageNew)
	<-done

	updateDeal, _, _ := gw.calls()
	if updateDeal != 0 {
		t.Errorf("Expected no gateway request for same-stage move, got %d", updateDeal)
	}
	if !reflect.DeepEqual(before, store.Clients()) {
		t.Error("Expected state identical after same-stage move")
	}
	if len(notifier.notes) != 0 {
		t.Error("Expected no notification for a no-op")
	}
}

func TestUpdateDealStageUnknownDealNoOp(t *testing.T) {
	gw := &fakeGateway{}
	store, _ := newTestPipeline(gw)
	seed(store, acmeClients(), nil)

	<-store.UpdateDealStage("missing", model.StageWon)

	updateDeal, _, _ := gw.calls()
	if updateDeal != 0 {
		t.Error("Expected no gateway request for unknown deal")
	}
}

// Two in-flight moves on the same deal do not serialize; the last response
// to arrive wins. Here the first move's failure lands after the second
// move's success and undoes it. Documented limitation.
func TestUpdateDealStageConcurrentMovesLastResponseWins(t *testing.T) {
	firstRelease := make(chan struct{})
	gw := &fakeGateway{
		stageScripts: map[model.DealStage]*stageScript{
			model.StageNegotiation: {release: firstRelease, err: errors.New("boom")},
			model.StageWon:         {},
		},
	}
	store, _ := newTestPipeline(gw)
	seed(store, acmeClients(), nil)

	// First move blocks in flight and will eventually fail.
	firstDone := store.UpdateDealStage("d1", model.StageNegotiation)

	// Second move on top of the first succeeds right away.
	<-store.UpdateDealStage("d1", model.StageWon)

	if got := store.GetDealsByStage(model.StageWon); len(got) != 1 {
		t.Fatalf("Expected second move applied, got %+v", got)
	}

	// The first move's failure lands last: its snapshot (stage NEW) is
	// restored, undoing the already-succeeded second move.
	close(firstRelease)
	<-firstDone

	deals := store.GetDealsByStage(model.StageNew)
	if len(deals) != 1 || deals[0].ID != "d1" {
		t.Errorf("Expected late failure to restore its pre-move snapshot, got %+v", deals)
	}
}

func TestCreateDealUnknownClientIsSafeNoOp(t *testing.T) {
	gw := &fakeGateway{}
	store, notifier := newTestPipeline(gw)
	seed(store, acmeClients(), nil)

	_, err := store.CreateDeal(context.Background(), CreateDealRequest{ClientID: "nope", Title: "x"})
	if !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("Expected ErrUnknownClient, got %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Error("Expected no notification for a precondition no-op")
	}
}

func TestCreateDealAppendsServerDeal(t *testing.T) {
	gw := &fakeGateway{}
	store, _ := newTestPipeline(gw)
	seed(store, acmeClients(), nil)

	deal, err := store.CreateDeal(context.Background(), CreateDealRequest{
		ClientID: "c1", Title: "Rebrand", Value: 500,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if deal.ID != "server-deal-id" {
		t.Errorf("Expected server-assigned id, got %s", deal.ID)
	}

	client := store.GetClientByID("c1")
	if len(client.Deals) != 2 {
		t.Errorf("Expected 2 deals on client, got %d", len(client.Deals))
	}
	if store.GetClientForDeal("server-deal-id") != "c1" {
		t.Error("Expected new deal indexed to its client")
	}
}

func TestCreateDealFailureLeavesStateUntouched(t *testing.T) {
	gw := &fakeGateway{createDealErr: errors.New("boom")}
	store, notifier := newTestPipeline(gw)
	seed(store, acmeClients(), nil)

	if _, err := store.CreateDeal(context.Background(), CreateDealRequest{ClientID: "c1", Title: "x"}); err == nil {
		t.Fatal("Expected error")
	}
	if len(store.GetClientByID("c1").Deals) != 1 {
		t.Error("Expected no local mutation on failed create")
	}
	if notifier.count(NotifyError) != 1 {
		t.Error("Expected a failure notification")
	}
}

func TestUpdateDealMergesGatewayResponse(t *testing.T) {
	gw := &fakeGateway{}
	store, _ := newTestPipeline(gw)
	seed(store, acmeClients(), nil)

	title := "Bigger website"
	value := 2500.0
	deal, err := store.UpdateDeal(context.Background(), "d1", model.DealPatch{Title: &title, Value: &value})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if deal.Title != "Bigger website" {
		t.Errorf("Expected updated title, got %s", deal.Title)
	}

	client := store.GetClientByID("c1")
	if client.Deals[0].Title != "Bigger website" || client.Deals[0].Value != 2500 {
		t.Errorf("Expected gateway response merged locally, got %+v", client.Deals[0])
	}
}

func TestUpdateDealUnknownDeal(t *testing.T) {
	gw := &fakeGateway{}
	store, _ := newTestPipeline(gw)
	seed(store, acmeClients(), nil)

	if _, err := store.UpdateDeal(context.Background(), "missing", model.DealPatch{}); !errors.Is(err, ErrUnknownDeal) {
		t.Errorf("Expected ErrUnknownDeal, got %v", err)
	}
	if updateDeal, _, _ := gw.calls(); updateDeal != 0 {
		t.Error("Expected no gateway call for unknown deal")
	}
}

func TestDeleteDealRequiresConfirmation(t *testing.T) {
	gw := &fakeGateway{deleteDealErr: errors.New("boom")}
	store, _ := newTestPipeline(gw)
	seed(store, acmeClients(), nil)

	if err := store.DeleteDeal(context.Background(), "d1"); err == nil {
		t.Fatal("Expected error")
	}
	if len(store.GetClientByID("c1").Deals) != 1 {
		t.Error("Expected deal kept when gateway delete failed")
	}

	gw.deleteDealErr = nil
	if err := store.DeleteDeal(context.Background(), "d1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(store.GetClientByID("c1").Deals) != 0 {
		t.Error("Expected deal removed after confirmed delete")
	}
	if store.GetClientForDeal("d1") != "" {
		t.Error("Expected deal removed from index")
	}
}

func TestDeleteClientCascades(t *testing.T) {
	gw := &fakeGateway{}
	store, _ := newTestPipeline(gw)
	seed(store, acmeClients(), nil)

	if err := store.DeleteClient(context.Background(), "c1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if store.GetClientByID("c1") != nil {
		t.Error("Expected client removed")
	}
	if store.GetClientForDeal("d1") != "" {
		t.Error("Expected owned deals dropped from index")
	}
}

func TestConvertSubmissionUpsertIdempotence(t *testing.T) {
	gw := &fakeGateway{
		convertResult: &ConvertResult{
			Submission: model.ContactSubmission{ID: "s1", Status: model.SubmissionContacted},
			Client: model.Client{
				ID:   "c9",
				Name: "Converted Co",
				Deals: []model.Deal{
					{ID: "d9", ClientID: "c9", Title: "First project", Stage: model.StageNew},
				},
			},
		},
	}
	store, _ := newTestPipeline(gw)
	seed(store, acmeClients(), []model.ContactSubmission{{ID: "s1", Status: model.SubmissionNew}})

	payload := ConvertRequest{ClientName: "Converted Co", DealTitle: "First project", DealValue: 100}

	if err := store.ConvertSubmission(context.Background(), "s1", payload); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// Retry after a double-click: same client id comes back.
	if err := store.ConvertSubmission(context.Background(), "s1", payload); err != nil {
		t.Fatalf("Unexpected error on retry: %v", err)
	}

	clients := store.Clients()
	count := 0
	position := -1
	for i, c := range clients {
		if c.ID == "c9" {
			count++
			position = i
		}
	}
	if count != 1 {
		t.Fatalf("Expected exactly one c9 entry after retried convert, got %d", count)
	}
	if position != 1 {
		t.Errorf("Expected upsert to preserve array position 1, got %d", position)
	}

	sub := store.GetSubmissionByID("s1")
	if sub.Status != model.SubmissionContacted {
		t.Errorf("Expected submission replaced in place, got status %s", sub.Status)
	}
	if store.GetClientForDeal("d9") != "c9" {
		t.Error("Expected converted deal indexed")
	}
}

func TestConvertSubmissionUnknownIsSafeNoOp(t *testing.T) {
	gw := &fakeGateway{}
	store, _ := newTestPipeline(gw)

	err := store.ConvertSubmission(context.Background(), "missing", ConvertRequest{})
	if !errors.Is(err, ErrUnknownSubmission) {
		t.Fatalf("Expected ErrUnknownSubmission, got %v", err)
	}
	if _, _, converts := gw.calls(); converts != 0 {
		t.Error("Expected no gateway request for unknown submission")
	}
}

func TestMarkAsReviewedOnlyTransitionsFromNew(t *testing.T) {
	gw := &fakeGateway{}
	store, _ := newTestPipeline(gw)
	seed(store, nil, []model.ContactSubmission{{ID: "s1", Status: model.SubmissionNew}})

	<-store.MarkAsReviewed("s1")
	if store.GetSubmissionByID("s1").Status != model.SubmissionReviewed {
		t.Error("Expected status REVIEWED")
	}

	// Repeated call is a no-op once reviewed.
	<-store.MarkAsReviewed("s1")
	if _, updateSub, _ := gw.calls(); updateSub != 1 {
		t.Errorf("Expected exactly 1 gateway request, got %d", updateSub)
	}
}

func TestMarkAsReviewedRollback(t *testing.T) {
	gw := &fakeGateway{updateSubErr: errors.New("boom")}
	store, notifier := newTestPipeline(gw)
	sub := model.ContactSubmission{ID: "s1", Status: model.SubmissionNew}
	seed(store, nil, []model.ContactSubmission{sub})
	store.SetActiveSubmission(&sub)

	<-store.MarkAsReviewed("s1")

	if store.GetSubmissionByID("s1").Status != model.SubmissionNew {
		t.Error("Expected status restored to NEW after rollback")
	}
	if notifier.count(NotifyError) != 1 {
		t.Error("Expected a failure notification")
	}
}

func TestMarkAsSpamOptimistic(t *testing.T) {
	gw := &fakeGateway{release: make(chan struct{})}
	store, _ := newTestPipeline(gw)
	seed(store, nil, []model.ContactSubmission{
		{ID: "s1", Status: model.SubmissionNew},
		{ID: "s2", Status: model.SubmissionNew},
	})

	if store.GetUnreadCount() != 2 {
		t.Fatalf("Expected 2 unread, got %d", store.GetUnreadCount())
	}

	done := store.MarkAsSpam("s1")

	// Immediately visible, before the gateway call resolves.
	sub := store.GetSubmissionByID("s1")
	if !sub.IsSpam || sub.Status != model.SubmissionClosed {
		t.Errorf("Expected isSpam=true status=CLOSED, got %+v", sub)
	}
	if store.GetUnreadCount() != 1 {
		t.Errorf("Expected unread count to drop to 1 immediately, got %d", store.GetUnreadCount())
	}
	if store.GetActionRequiredCount() != 1 {
		t.Errorf("Expected 1 action-required, got %d", store.GetActionRequiredCount())
	}

	close(gw.release)
	<-done
}

func TestActiveDealSingleSelection(t *testing.T) {
	gw := &fakeGateway{}
	store, _ := newTestPipeline(gw)
	clients := acmeClients()
	clients[0].Deals = append(clients[0].Deals, model.Deal{
		ID: "d2", ClientID: "c1", Title: "App", Stage: model.StageNegotiation,
	})
	seed(store, clients, nil)

	store.OpenDealDetail("d1")
	store.OpenDealDetail("d2")

	active := store.GetActiveDeal()
	if active == nil || active.ID != "d2" {
		t.Errorf("Expected active deal d2, got %+v", active)
	}

	store.CloseDealDetail()
	if store.GetActiveDeal() != nil {
		t.Error("Expected no active deal after close")
	}
}

func TestActiveDealDanglingPointerIsNoSelection(t *testing.T) {
	gw := &fakeGateway{}
	store, _ := newTestPipeline(gw)
	seed(store, acmeClients(), nil)

	store.OpenDealDetail("d1")
	if err := store.DeleteDeal(context.Background(), "d1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if store.GetActiveDeal() != nil {
		t.Error("Expected dangling pointer to resolve to nil, not an error")
	}
}

func TestSelectorsOnEmptyStore(t *testing.T) {
	gw := &fakeGateway{}
	store, _ := newTestPipeline(gw)

	if store.GetClientByID("x") != nil {
		t.Error("Expected nil client")
	}
	if store.GetSubmissionByID("x") != nil {
		t.Error("Expected nil submission")
	}
	if len(store.GetDealsByStage(model.StageNew)) != 0 {
		t.Error("Expected no deals")
	}
	if store.GetUnreadCount() != 0 || store.GetActionRequiredCount() != 0 {
		t.Error("Expected zero counts")
	}
	if store.GetActiveDeal() != nil {
		t.Error("Expected no active deal")
	}
}
