package models

import (
	"encoding/json"
	"slices"
	"strconv"
)

// TriggerType identifies the kind of CRM event that can start a workflow.
type TriggerType string

const (
	TriggerTypeContactCreated   TriggerType = "contact_created"
	TriggerTypeFormSubmission   TriggerType = "form_submission"
	TriggerTypeEmailOpened      TriggerType = "email_opened"
	TriggerTypeEmailClicked     TriggerType = "email_clicked"
	TriggerTypeEmailReplied     TriggerType = "email_replied"
	TriggerTypeMeetingBooked    TriggerType = "meeting_booked"
	TriggerTypeDealStageChanged TriggerType = "deal_stage_changed"
	TriggerTypeScoreThreshold   TriggerType = "score_threshold"
	TriggerTypeTagAdded         TriggerType = "tag_added"
	TriggerTypeManual           TriggerType = "manual"
	TriggerTypeScheduled        TriggerType = "scheduled"
	TriggerTypeAPICall          TriggerType = "api_call"
)

var triggerTypes = []TriggerType{
	TriggerTypeContactCreated,
	TriggerTypeFormSubmission,
	TriggerTypeEmailOpened,
	TriggerTypeEmailClicked,
	TriggerTypeEmailReplied,
	TriggerTypeMeetingBooked,
	TriggerTypeDealStageChanged,
	TriggerTypeScoreThreshold,
	TriggerTypeTagAdded,
	TriggerTypeManual,
	TriggerTypeScheduled,
	TriggerTypeAPICall,
}

// TriggerTypes returns every supported trigger type in declaration order.
func TriggerTypes() []TriggerType {
	return slices.Clone(triggerTypes)
}

func (t TriggerType) IsValid() bool {
	return slices.Contains(triggerTypes, t)
}

// WorkflowTrigger decides which inbound events start a workflow.
type WorkflowTrigger struct {
	ID          string          `json:"id"`
	TriggerType TriggerType     `json:"trigger_type"         validate:"required"`
	Filters     map[string]any  `json:"filters,omitempty"`
	Conditions  []StepCondition `json:"conditions,omitempty" validate:"dive"`

	// Schedule is a standard 5-field cron expression, only used by scheduled triggers.
	Schedule string `json:"schedule,omitempty"`
}

// TriggerEvent is an inbound event emitted by the CRM.
type TriggerEvent struct {
	Type TriggerType    `json:"type" validate:"required"`
	Data map[string]any `json:"data"`
}

// SubjectIDs extracts contact_id and company_id from the event data. Numeric
// ids are rendered in decimal; other kinds of value are ignored.
func (e TriggerEvent) SubjectIDs() (contactID, companyID string) {
	return subjectID(e.Data["contact_id"]), subjectID(e.Data["company_id"])
}

func subjectID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(id), 'f', -1, 32)
	case int:
		return strconv.Itoa(id)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case int64:
		return strconv.FormatInt(id, 10)
	case uint:
		return strconv.FormatUint(uint64(id), 10)
	case uint64:
		return strconv.FormatUint(id, 10)
	default:
		return ""
	}
}

// AsMap renders the event the way it is stored in an execution context.
func (e TriggerEvent) AsMap() map[string]any {
	data := CopyMap(e.Data)
	if data == nil {
		data = map[string]any{}
	}

	return map[string]any{
		"type": string(e.Type),
		"data": data,
	}
}
