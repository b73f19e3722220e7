package model

import (
	"time"
)

// DealStage is the pipeline phase of a deal.
type DealStage string

const (
	StageNew         DealStage = "NEW"
	StageNegotiation DealStage = "NEGOTIATION"
	StageWon         DealStage = "WON"
	StageLost        DealStage = "LOST"
)

// SubmissionStatus is the review state of an inbound contact submission.
type SubmissionStatus string

const (
	SubmissionNew       SubmissionStatus = "NEW"
	SubmissionReviewed  SubmissionStatus = "REVIEWED"
	SubmissionContacted SubmissionStatus = "CONTACTED"
	SubmissionClosed    SubmissionStatus = "CLOSED"
)

// Stages lists all pipeline stages in board order.
var Stages = []DealStage{StageNew, StageNegotiation, StageWon, StageLost}

// ValidStage reports whether s is one of the four pipeline stages.
func ValidStage(s DealStage) bool {
	switch s {
	case StageNew, StageNegotiation, StageWon, StageLost:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known submission status.
func ValidStatus(s SubmissionStatus) bool {
	switch s {
	case SubmissionNew, SubmissionReviewed, SubmissionContacted, SubmissionClosed:
		return true
	}
	return false
}

// Deal is a sales opportunity owned by exactly one client.
type Deal struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"clientId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Value       float64   `json:"value"`
	Stage       DealStage `json:"stage"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Contact belongs to exactly one client; it never exists independently.
type Contact struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Position string `json:"position,omitempty"`
}

// Client owns its contacts and deals by composition. Deleting a client
// cascades to both on the gateway side; the store mirrors that cascade.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Contacts  []Contact `json:"contacts"`
	Deals     []Deal    `json:"deals"`
}

// ContactSubmission is an inbound lead captured by the public site,
// pre-client and pre-deal.
type ContactSubmission struct {
	ID          string           `json:"id"`
	FullName    string           `json:"fullName"`
	Email       string           `json:"email"`
	Phone       string           `json:"phone"`
	Company     string           `json:"company,omitempty"`
	ProjectType string           `json:"projectType"`
	BudgetRange string           `json:"budgetRange"`
	Description string           `json:"description"`
	Status      SubmissionStatus `json:"status"`
	SubmittedAt time.Time        `json:"submittedAt"`
	IsSpam      bool             `json:"isSpam"`
	Notes       string           `json:"notes,omitempty"`
}

// DealPatch carries partial deal updates. Nil fields are left untouched.
type DealPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Value       *float64   `json:"value,omitempty"`
	Stage       *DealStage `json:"stage,omitempty"`
}

// Empty reports whether the patch carries no changes.
func (p *DealPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Value == nil && p.Stage == nil
}

// Apply merges the patch into d.
func (p *DealPatch) Apply(d *Deal) {
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Value != nil {
		d.Value = *p.Value
	}
	if p.Stage != nil {
		d.Stage = *p.Stage
	}
}

// Clone returns a deep copy of the client, including contacts and deals.
func (c *Client) Clone() Client {
	out := *c
	out.Contacts = append([]Contact(nil), c.Contacts...)
	out.Deals = append([]Deal(nil), c.Deals...)
	return out
}

// CloneClients deep-copies a client list. Used for snapshot rollback: the
// copy shares nothing mutable with the original, so restoring it is a
// single assignment.
func CloneClients(clients []Client) []Client {
	if clients == nil {
		return nil
	}
	out := make([]Client, len(clients))
	for i := range clients {
		out[i] = clients[i].Clone()
	}
	return out
}

// CloneSubmissions copies a submission list.
func CloneSubmissions(subs []ContactSubmission) []ContactSubmission {
	if subs == nil {
		return nil
	}
	return append([]ContactSubmission(nil), subs...)
}
