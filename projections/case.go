package projections

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"

	"example.com/backstage/services/changeorder/domain"
)

// caseDocument is the searchable summary of a case
type caseDocument struct {
	CaseID            string                `json:"case_id"`
	Title             string                `json:"title"`
	ProjectID         string                `json:"project_id,omitempty"`
	ExternalRef       string                `json:"external_ref,omitempty"`
	Status            domain.CaseStatus     `json:"status"`
	CombinedResponse  domain.CombinedStatus `json:"combined_response,omitempty"`
	RequiresRevision  bool                  `json:"requires_revision"`
	GroundsCategory   string                `json:"grounds_category,omitempty"`
	ClaimedAmount     int64                 `json:"claimed_amount"`
	ApprovedAmount    *int64                `json:"approved_amount,omitempty"`
	ClaimedDays       int                   `json:"claimed_days"`
	ApprovedDays      *int                  `json:"approved_days,omitempty"`
	ChangeOrderNumber string                `json:"change_order_number,omitempty"`
	Version           int                   `json:"version"`
	CreatedAt         time.Time             `json:"created_at"`
	LastEventAt       time.Time             `json:"last_event_at"`
}

func newCaseDocument(s domain.SakState) caseDocument {
	doc := caseDocument{
		CaseID:           s.CaseID,
		Title:            s.Title,
		ProjectID:        s.ProjectID,
		ExternalRef:      s.ExternalRef,
		Status:           s.Status,
		CombinedResponse: s.CombinedResponse,
		RequiresRevision: s.RequiresRevision,
		GroundsCategory:  s.Grounds.Category,
		ClaimedAmount:    s.Compensation.ClaimedAmount,
		ApprovedAmount:   s.Compensation.ApprovedAmount,
		ClaimedDays:      s.Deadline.ClaimedDays,
		ApprovedDays:     s.Deadline.ApprovedDays,
		Version:          s.Version,
		CreatedAt:        s.CreatedAt,
		LastEventAt:      s.LastEventAt,
	}
	if s.ChangeOrder != nil {
		doc.ChangeOrderNumber = s.ChangeOrder.Number
	}
	return doc
}

// CaseIndexer keeps case summaries and events searchable in Elasticsearch
type CaseIndexer struct {
	elasticClient *elasticsearch.Client
	prefix        string
}

// NewCaseIndexer creates a new case indexer
func NewCaseIndexer(elasticClient *elasticsearch.Client, prefix string) *CaseIndexer {
	return &CaseIndexer{elasticClient: elasticClient, prefix: prefix}
}

// Notify indexes the case summary after a stored command
func (p *CaseIndexer) Notify(ctx context.Context, state domain.SakState, _ domain.Event) error {
	doc, err := json.Marshal(newCaseDocument(state))
	if err != nil {
		return fmt.Errorf("failed to marshal case: %w", err)
	}

	// External versioning drops a summary older than the indexed one
	return p.index(ctx, CasesIndex, state.CaseID, doc,
		p.elasticClient.Index.WithVersion(state.Version),
		p.elasticClient.Index.WithVersionType("external_gte"),
	)
}

// HandleEvent indexes a stored event
func (p *CaseIndexer) HandleEvent(ctx context.Context, event domain.Event) error {
	doc, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return p.index(ctx, CaseEventsIndex, EventDocumentID(event), doc)
}

func (p *CaseIndexer) index(ctx context.Context, indexName, id string, doc []byte, extra ...func(*esapi.IndexRequest)) error {
	opts := []func(*esapi.IndexRequest){
		p.elasticClient.Index.WithDocumentID(id),
		p.elasticClient.Index.WithRefresh("true"),
		p.elasticClient.Index.WithContext(ctx),
	}
	opts = append(opts, extra...)

	index := FormatIndex(p.prefix, indexName)
	res, err := p.elasticClient.Index(index, bytes.NewReader(doc), opts...)
	if err != nil {
		return fmt.Errorf("failed to index document in Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	// A version conflict means a newer summary is already indexed
	if res.StatusCode == 409 && indexName == CasesIndex {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("failed to index document in Elasticsearch: %s", res.String())
	}

	return nil
}

// EventDocumentID is the document id of an event: case id and position
func EventDocumentID(event domain.Event) string {
	return event.CaseID + "-" + strconv.Itoa(event.Position)
}
