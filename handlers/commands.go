package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"example.com/backstage/services/changeorder/domain"
)

// Command is a request to record one event on a case. Each command checks
// its preconditions against the projected state and yields the payload to
// append.
type Command interface {
	Name() string
	toPayload(state domain.SakState) (domain.Payload, error)
}

// Command structs
type CreateCaseCommand struct {
	Title       string `json:"title"`
	ProjectID   string `json:"project_id"`
	ExternalRef string `json:"external_ref"`
	Description string `json:"description"`
}

type SubmitGroundsCommand struct {
	Category     string     `json:"category"`
	Subcategory  string     `json:"subcategory"`
	Description  string     `json:"description"`
	DiscoveredOn time.Time  `json:"discovered_on"`
	NotifiedOn   *time.Time `json:"notified_on"`
}

type ReviseGroundsCommand struct {
	Category     *string    `json:"category"`
	Subcategory  *string    `json:"subcategory"`
	Description  *string    `json:"description"`
	DiscoveredOn *time.Time `json:"discovered_on"`
}

type WithdrawGroundsCommand struct {
	Reason string `json:"reason"`
}

type ClaimCompensationCommand struct {
	Amount      int64                     `json:"amount"`
	Method      domain.CompensationMethod `json:"method"`
	Description string                    `json:"description"`
}

type ReviseCompensationCommand struct {
	Amount      *int64                     `json:"amount"`
	Method      *domain.CompensationMethod `json:"method"`
	Description *string                    `json:"description"`
}

type WithdrawCompensationCommand struct {
	Reason string `json:"reason"`
}

type ClaimDeadlineCommand struct {
	Days        int    `json:"days"`
	Description string `json:"description"`
}

type ReviseDeadlineCommand struct {
	Days        *int    `json:"days"`
	Description *string `json:"description"`
}

type WithdrawDeadlineCommand struct {
	Reason string `json:"reason"`
}

type RespondCommand struct {
	Grounds      *domain.GroundsResponse      `json:"grounds"`
	Compensation *domain.CompensationResponse `json:"compensation"`
	Deadline     *domain.DeadlineResponse     `json:"deadline"`
	Comment      string                       `json:"comment"`
}

type IssueChangeOrderCommand struct {
	Number      string `json:"number"`
	Amount      *int64 `json:"amount"`
	Days        *int   `json:"days"`
	Description string `json:"description"`
}

type NotifyAccelerationCommand struct {
	EstimatedCost int64  `json:"estimated_cost"`
	Reason        string `json:"reason"`
}

func (CreateCaseCommand) Name() string           { return "create-case" }
func (SubmitGroundsCommand) Name() string        { return "submit-grounds" }
func (ReviseGroundsCommand) Name() string        { return "revise-grounds" }
func (WithdrawGroundsCommand) Name() string      { return "withdraw-grounds" }
func (ClaimCompensationCommand) Name() string    { return "claim-compensation" }
func (ReviseCompensationCommand) Name() string   { return "revise-compensation" }
func (WithdrawCompensationCommand) Name() string { return "withdraw-compensation" }
func (ClaimDeadlineCommand) Name() string        { return "claim-deadline" }
func (ReviseDeadlineCommand) Name() string       { return "revise-deadline" }
func (WithdrawDeadlineCommand) Name() string     { return "withdraw-deadline" }
func (RespondCommand) Name() string              { return "respond" }
func (IssueChangeOrderCommand) Name() string     { return "issue-change-order" }
func (NotifyAccelerationCommand) Name() string   { return "notify-acceleration" }

var commandFactories = map[string]func() Command{
	"create-case":           func() Command { return &CreateCaseCommand{} },
	"submit-grounds":        func() Command { return &SubmitGroundsCommand{} },
	"revise-grounds":        func() Command { return &ReviseGroundsCommand{} },
	"withdraw-grounds":      func() Command { return &WithdrawGroundsCommand{} },
	"claim-compensation":    func() Command { return &ClaimCompensationCommand{} },
	"revise-compensation":   func() Command { return &ReviseCompensationCommand{} },
	"withdraw-compensation": func() Command { return &WithdrawCompensationCommand{} },
	"claim-deadline":        func() Command { return &ClaimDeadlineCommand{} },
	"revise-deadline":       func() Command { return &ReviseDeadlineCommand{} },
	"withdraw-deadline":     func() Command { return &WithdrawDeadlineCommand{} },
	"respond":               func() Command { return &RespondCommand{} },
	"issue-change-order":    func() Command { return &IssueChangeOrderCommand{} },
	"notify-acceleration":   func() Command { return &NotifyAccelerationCommand{} },
}

// DecodeCommand builds the command registered under name from its JSON body
func DecodeCommand(name string, data []byte) (Command, error) {
	factory, ok := commandFactories[name]
	if !ok {
		return nil, domain.NewValidationError("command", "oneof", fmt.Sprintf("unknown command %q", name))
	}

	cmd := factory()
	if len(data) > 0 {
		if err := json.Unmarshal(data, cmd); err != nil {
			return nil, domain.NewValidationError("body", "json", err.Error())
		}
	}
	return cmd, nil
}

// precondition failures are reported as validation errors on the track
func rejected(field, message string) error {
	return domain.NewValidationError(field, "state", message)
}

func requireOpen(s domain.SakState) error {
	if s.Version == 0 {
		return &domain.NotFoundError{CaseID: s.CaseID}
	}
	if s.Status.Closed() {
		return rejected("status", fmt.Sprintf("case is %s", s.Status))
	}
	return nil
}

func requireGrounds(s domain.SakState) error {
	if err := requireOpen(s); err != nil {
		return err
	}
	if !s.Grounds.Active() {
		return rejected("grounds", "grounds have not been submitted")
	}
	return nil
}

func (c CreateCaseCommand) toPayload(s domain.SakState) (domain.Payload, error) {
	if s.Version > 0 {
		return nil, rejected("case_id", "case already exists")
	}
	return domain.CaseCreatedEvent{
		Title:       c.Title,
		ProjectID:   c.ProjectID,
		ExternalRef: c.ExternalRef,
		Description: c.Description,
	}, nil
}

func (c SubmitGroundsCommand) toPayload(s domain.SakState) (domain.Payload, error) {
	if err := requireOpen(s); err != nil {
		return nil, err
	}
	if s.Grounds.Status != domain.TrackNotStarted {
		return nil, rejected("grounds", "grounds already submitted, revise them instead")
	}
	return domain.GroundsSubmittedEvent{
		Category:     c.Category,
		Subcategory:  c.Subcategory,
		Description:  c.Description,
		DiscoveredOn: c.DiscoveredOn,
		NotifiedOn:   c.NotifiedOn,
	}, nil
}

func (c ReviseGroundsCommand) toPayload(s domain.SakState) (domain.Payload, error) {
	if err := requireGrounds(s); err != nil {
		return nil, err
	}
	return domain.GroundsRevisedEvent{
		Category:     c.Category,
		Subcategory:  c.Subcategory,
		Description:  c.Description,
		DiscoveredOn: c.DiscoveredOn,
	}, nil
}

func (c WithdrawGroundsCommand) toPayload(s domain.SakState) (domain.Payload, error) {
	if err := requireGrounds(s); err != nil {
		return nil, err
	}
	return domain.GroundsWithdrawnEvent{Reason: c.Reason}, nil
}

func (c ClaimCompensationCommand) toPayload(s domain.SakState) (domain.Payload, error) {
	if err := requireGrounds(s); err != nil {
		return nil, err
	}
	if s.Compensation.Status != domain.TrackNotStarted {
		return nil, rejected("compensation", "compensation already claimed, revise it instead")
	}
	return domain.CompensationClaimedEvent{
		Amount:      c.Amount,
		Method:      c.Method,
		Description: c.Description,
	}, nil
}

func (c ReviseCompensationCommand) toPayload(s domain.SakState) (domain.Payload, error) {
	if err := requireOpen(s); err != nil {
		return nil, err
	}
	if !s.Compensation.Active() {
		return nil, rejected("compensation", "no active compensation claim")
	}
	return domain.CompensationRevisedEvent{
		Amount:      c.Amount,
		Method:      c.Method,
		Description: c.Description,
	}, nil
}

func (c WithdrawCompensationCommand) toPayload(s domain.SakState) (domain.Payload, error) {
	if err := requireOpen(s); err != nil {
		return nil, err
	}
	if !s.Compensation.Active() {
		return nil, rejected("compensation", "no active compensation claim")
	}
	return domain.CompensationWithdrawnEvent{Reason: c.Reason}, nil
}

func (c ClaimDeadlineCommand) toPayload(s domain.SakState) (domain.Payload, error) {
	if err := requireGrounds(s); err != nil {
		return nil, err
	}
	if s.Deadline.Status != domain.TrackNotStarted {
		return nil, rejected("deadline", "deadline already claimed, revise it instead")
	}
	return domain.DeadlineClaimedEvent{
		Days:        c.Days,
		Description: c.Description,
	}, nil
}

func (c ReviseDeadlineCommand) toPayload(s domain.SakState) (domain.Payload, error) {
	if err := requireOpen(s); err != nil {
		return nil, err
	}
	if !s.Deadline.Active() {
		return nil, rejected("deadline", "no active deadline claim")
	}
	return domain.DeadlineRevisedEvent{
		Days:        c.Days,
		Description: c.Description,
	}, nil
}

func (c WithdrawDeadlineCommand) toPayload(s domain.SakState) (domain.Payload, error) {
	if err := requireOpen(s); err != nil {
		return nil, err
	}
	if !s.Deadline.Active() {
		return nil, rejected("deadline", "no active deadline claim")
	}
	return domain.DeadlineWithdrawnEvent{Reason: c.Reason}, nil
}

// awaitingAnswer reports whether a track can take a response: it has an
// unanswered revision or the last answer asked for clarification
func awaitingAnswer(t domain.TrackState) bool {
	return t.Pending() || t.CurrentResponse() == domain.ResponsePendingClarification
}

func (c RespondCommand) toPayload(s domain.SakState) (domain.Payload, error) {
	if err := requireOpen(s); err != nil {
		return nil, err
	}
	if c.Grounds != nil && !awaitingAnswer(s.Grounds.TrackState) {
		return nil, rejected("grounds", "grounds are not awaiting a response")
	}
	if c.Compensation != nil && !awaitingAnswer(s.Compensation.TrackState) {
		return nil, rejected("compensation", "compensation claim is not awaiting a response")
	}
	if c.Deadline != nil && !awaitingAnswer(s.Deadline.TrackState) {
		return nil, rejected("deadline", "deadline claim is not awaiting a response")
	}
	return domain.CounterpartyRespondedEvent{
		Grounds:      c.Grounds,
		Compensation: c.Compensation,
		Deadline:     c.Deadline,
		Comment:      c.Comment,
	}, nil
}

func (c IssueChangeOrderCommand) toPayload(s domain.SakState) (domain.Payload, error) {
	if err := requireGrounds(s); err != nil {
		return nil, err
	}
	return domain.ChangeOrderIssuedEvent{
		Number:      c.Number,
		Amount:      c.Amount,
		Days:        c.Days,
		Description: c.Description,
	}, nil
}

func (c NotifyAccelerationCommand) toPayload(s domain.SakState) (domain.Payload, error) {
	if err := requireOpen(s); err != nil {
		return nil, err
	}
	if !s.Deadline.CurrentResponse().Rejected() {
		return nil, rejected("deadline", "acceleration requires a rejected deadline claim")
	}
	if s.Acceleration != nil {
		return nil, rejected("acceleration", "acceleration already notified")
	}
	return domain.AccelerationNotifiedEvent{
		EstimatedCost: c.EstimatedCost,
		Reason:        c.Reason,
	}, nil
}
