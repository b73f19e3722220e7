package service

import (
	"math"

	"github.com/Relchzen/kopcus-dashboard/model"
)

// GestureKind classifies a completed pointer gesture.
type GestureKind string

const (
	// GestureClick is a press-release below the drag threshold: open detail.
	GestureClick GestureKind = "click"
	// GestureDrag is a movement at or beyond the threshold: a stage move.
	GestureDrag GestureKind = "drag"
	// GestureNone is a drag released outside any valid drop target.
	GestureNone GestureKind = "none"
)

// Point is a pointer position in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Gesture is the raw report of one completed pointer interaction on a deal
// card: where the pointer went down and up, and the board column it was
// released over, if any.
type Gesture struct {
	DealID string `json:"dealId"`
	Start  Point  `json:"start"`
	End    Point  `json:"end"`
	// Target is the stage column the pointer was released over; empty when
	// the release happened outside every column.
	Target string `json:"target"`
}

// DragRecognizer classifies gestures by movement distance. It is a pure
// input-classification concern: it knows nothing about the store or what the
// gesture will trigger.
type DragRecognizer struct {
	threshold float64
}

// NewDragRecognizer creates a recognizer with the given minimum drag distance
// in pixels. Distances below the threshold are clicks, so that clicking a
// card to open its detail view is never misread as a zero-distance drag.
func NewDragRecognizer(thresholdPx float64) *DragRecognizer {
	if thresholdPx <= 0 {
		thresholdPx = 8
	}
	return &DragRecognizer{threshold: thresholdPx}
}

// Classify maps a gesture to click, drag or none.
func (r *DragRecognizer) Classify(g Gesture) GestureKind {
	dist := math.Hypot(g.End.X-g.Start.X, g.End.Y-g.Start.Y)
	if dist < r.threshold {
		return GestureClick
	}
	if g.Target == "" {
		return GestureNone
	}
	return GestureDrag
}

// StageCoordinator translates completed drag gestures into at most one stage
// update on the pipeline store per gesture.
type StageCoordinator struct {
	store      *PipelineStore
	recognizer *DragRecognizer
}

func NewStageCoordinator(store *PipelineStore, recognizer *DragRecognizer) *StageCoordinator {
	return &StageCoordinator{store: store, recognizer: recognizer}
}

// HandleGesture processes one completed gesture and returns its
// classification along with a done channel for any dispatched stage update.
//
// A click opens the deal's detail view. A drag resolves the drop target to a
// stage and moves the deal only when that stage differs from the deal's
// current stage, read from the store at drop time rather than from a
// gesture-start snapshot so a mid-drag state change cannot produce a stale
// move. Same-column drops, unresolvable targets and unknown deals are all
// no-ops.
func (c *StageCoordinator) HandleGesture(g Gesture) (GestureKind, <-chan struct{}) {
	kind := c.recognizer.Classify(g)

	switch kind {
	case GestureClick:
		if _, deal := c.resolveDeal(g.DealID); deal != nil {
			c.store.OpenDealDetail(g.DealID)
		}
		return kind, closedChan()

	case GestureDrag:
		newStage := model.DealStage(g.Target)
		if !model.ValidStage(newStage) {
			return GestureNone, closedChan()
		}
		_, deal := c.resolveDeal(g.DealID)
		if deal == nil || deal.Stage == newStage {
			return kind, closedChan()
		}
		return kind, c.store.UpdateDealStage(g.DealID, newStage)

	default:
		return kind, closedChan()
	}
}

func (c *StageCoordinator) resolveDeal(dealID string) (*model.Client, *model.Deal) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	client, deal := c.store.findDeal(dealID)
	if deal == nil {
		return nil, nil
	}
	cc := client.Clone()
	dc := *deal
	return &cc, &dc
}
