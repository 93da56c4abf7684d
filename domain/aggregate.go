package domain

// CaseAggregate is a case loaded from its event log together with the
// version it was loaded at. The version is the optimistic-lock token a
// writer presents when appending.
type CaseAggregate struct {
	id      string
	version int
	events  []Event
	State   SakState
}

// LoadCaseAggregate replays the given events into an aggregate
func LoadCaseAggregate(id string, events []Event) (*CaseAggregate, error) {
	state, err := ComputeState(events)
	if err != nil {
		return nil, err
	}
	if state.CaseID == "" {
		state.CaseID = id
	}
	return &CaseAggregate{
		id:      id,
		version: len(events),
		events:  events,
		State:   state,
	}, nil
}

// GetID returns the case ID
func (a *CaseAggregate) GetID() string {
	return a.id
}

// GetVersion returns the number of events the aggregate was built from
func (a *CaseAggregate) GetVersion() int {
	return a.version
}

// GetEvents returns the events the aggregate was built from
func (a *CaseAggregate) GetEvents() []Event {
	return a.events
}

// Exists reports whether the case has any events
func (a *CaseAggregate) Exists() bool {
	return a.version > 0
}

// Apply folds an event that has just been stored into the aggregate
func (a *CaseAggregate) Apply(e Event) error {
	events := make([]Event, len(a.events), len(a.events)+1)
	copy(events, a.events)
	events = append(events, e)

	state, err := ComputeState(events)
	if err != nil {
		return err
	}

	a.events = events
	a.version = len(events)
	a.State = state
	return nil
}
