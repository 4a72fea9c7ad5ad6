package bunstore

import (
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/xraph/loom"
	"github.com/xraph/loom/event"
	"github.com/xraph/loom/hook"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/payload"
	"github.com/xraph/loom/queue"
	"github.com/xraph/loom/run"
	"github.com/xraph/loom/step"
	"github.com/xraph/loom/stream"
)

// ── Run model ─────────────────────────────────────────────────────

type runModel struct {
	bun.BaseModel `bun:"table:workflow_runs"`

	ID               string `bun:"id,pk"`
	WorkflowName     string `bun:"workflow_name,notnull"`
	DeploymentID     string `bun:"deployment_id,notnull,default:''"`
	Status           string `bun:"status,notnull,default:'pending'"`
	InputType        string `bun:"input_type,notnull,default:''"`
	InputData        string `bun:"input_data,notnull,default:''"`
	OutputType       string `bun:"output_type,notnull,default:''"`
	OutputData       string `bun:"output_data,notnull,default:''"`
	ExecutionContext string `bun:"execution_context,notnull,default:''"`
	ErrorMessage     string `bun:"error_message,notnull,default:''"`
	ErrorCode        string `bun:"error_code,notnull,default:''"`
	StartedAt        *int64 `bun:"started_at"`
	CompletedAt      *int64 `bun:"completed_at"`
	CreatedAt        int64  `bun:"created_at,notnull"`
	UpdatedAt        int64  `bun:"updated_at,notnull"`
}

func toRunModel(r *run.Run) *runModel {
	inputType, inputData := r.Input.Columns()
	outputType, outputData := r.Output.Columns()
	return &runModel{
		ID:               r.ID.String(),
		WorkflowName:     r.WorkflowName,
		DeploymentID:     r.DeploymentID,
		Status:           string(r.Status),
		InputType:        inputType,
		InputData:        inputData,
		OutputType:       outputType,
		OutputData:       outputData,
		ExecutionContext: string(r.ExecutionContext),
		ErrorMessage:     r.ErrorMessage,
		ErrorCode:        r.ErrorCode,
		StartedAt:        toMsPtr(r.StartedAt),
		CompletedAt:      toMsPtr(r.CompletedAt),
		CreatedAt:        toMs(r.CreatedAt),
		UpdatedAt:        toMs(r.UpdatedAt),
	}
}

func fromRunModel(m *runModel) (*run.Run, error) {
	parsedID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: parse run id %q: %w", m.ID, err)
	}

	input, err := payload.FromColumns(m.InputType, m.InputData)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: run %s input reference: %w", m.ID, err)
	}
	output, err := payload.FromColumns(m.OutputType, m.OutputData)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: run %s output reference: %w", m.ID, err)
	}

	r := &run.Run{
		Entity: loom.Entity{
			CreatedAt: fromMs(m.CreatedAt),
			UpdatedAt: fromMs(m.UpdatedAt),
		},
		ID:           parsedID,
		WorkflowName: m.WorkflowName,
		DeploymentID: m.DeploymentID,
		Status:       run.Status(m.Status),
		Input:        input,
		Output:       output,
		ErrorMessage: m.ErrorMessage,
		ErrorCode:    m.ErrorCode,
		StartedAt:    fromMsPtr(m.StartedAt),
		CompletedAt:  fromMsPtr(m.CompletedAt),
	}
	if m.ExecutionContext != "" {
		r.ExecutionContext = json.RawMessage(m.ExecutionContext)
	}
	return r, nil
}

// ── Step model ────────────────────────────────────────────────────

type stepModel struct {
	bun.BaseModel `bun:"table:workflow_steps"`

	ID           string `bun:"id,pk"`
	RunID        string `bun:"run_id,notnull"`
	Name         string `bun:"name,notnull"`
	Status       string `bun:"status,notnull,default:'pending'"`
	InputType    string `bun:"input_type,notnull,default:''"`
	InputData    string `bun:"input_data,notnull,default:''"`
	OutputType   string `bun:"output_type,notnull,default:''"`
	OutputData   string `bun:"output_data,notnull,default:''"`
	Attempt      int    `bun:"attempt,notnull,default:1"`
	ErrorMessage string `bun:"error_message,notnull,default:''"`
	ErrorCode    string `bun:"error_code,notnull,default:''"`
	StartedAt    *int64 `bun:"started_at"`
	CompletedAt  *int64 `bun:"completed_at"`
	CreatedAt    int64  `bun:"created_at,notnull"`
	UpdatedAt    int64  `bun:"updated_at,notnull"`
}

func toStepModel(st *step.Step) *stepModel {
	inputType, inputData := st.Input.Columns()
	outputType, outputData := st.Output.Columns()
	return &stepModel{
		ID:           st.ID.String(),
		RunID:        st.RunID.String(),
		Name:         st.Name,
		Status:       string(st.Status),
		InputType:    inputType,
		InputData:    inputData,
		OutputType:   outputType,
		OutputData:   outputData,
		Attempt:      st.Attempt,
		ErrorMessage: st.ErrorMessage,
		ErrorCode:    st.ErrorCode,
		StartedAt:    toMsPtr(st.StartedAt),
		CompletedAt:  toMsPtr(st.CompletedAt),
		CreatedAt:    toMs(st.CreatedAt),
		UpdatedAt:    toMs(st.UpdatedAt),
	}
}

func fromStepModel(m *stepModel) (*step.Step, error) {
	parsedID, err := id.ParseStepID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: parse step id %q: %w", m.ID, err)
	}
	parsedRunID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: parse run id %q: %w", m.RunID, err)
	}

	input, err := payload.FromColumns(m.InputType, m.InputData)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: step %s input reference: %w", m.ID, err)
	}
	output, err := payload.FromColumns(m.OutputType, m.OutputData)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: step %s output reference: %w", m.ID, err)
	}

	return &step.Step{
		Entity: loom.Entity{
			CreatedAt: fromMs(m.CreatedAt),
			UpdatedAt: fromMs(m.UpdatedAt),
		},
		ID:           parsedID,
		RunID:        parsedRunID,
		Name:         m.Name,
		Status:       step.Status(m.Status),
		Input:        input,
		Output:       output,
		Attempt:      m.Attempt,
		ErrorMessage: m.ErrorMessage,
		ErrorCode:    m.ErrorCode,
		StartedAt:    fromMsPtr(m.StartedAt),
		CompletedAt:  fromMsPtr(m.CompletedAt),
	}, nil
}

// ── Event model ───────────────────────────────────────────────────

type eventModel struct {
	bun.BaseModel `bun:"table:workflow_events"`

	ID            string `bun:"id,pk"`
	RunID         string `bun:"run_id,notnull"`
	EventType     string `bun:"event_type,notnull"`
	CorrelationID string `bun:"correlation_id,notnull,default:''"`
	PayloadType   string `bun:"payload_type,notnull,default:''"`
	PayloadData   string `bun:"payload_data,notnull,default:''"`
	CreatedAt     int64  `bun:"created_at,notnull"`
}

func toEventModel(evt *event.Event) *eventModel {
	payloadType, payloadData := evt.Payload.Columns()
	return &eventModel{
		ID:            evt.ID.String(),
		RunID:         evt.RunID.String(),
		EventType:     evt.Type,
		CorrelationID: evt.CorrelationID,
		PayloadType:   payloadType,
		PayloadData:   payloadData,
		CreatedAt:     toMs(evt.CreatedAt),
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	parsedID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: parse event id %q: %w", m.ID, err)
	}
	parsedRunID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: parse run id %q: %w", m.RunID, err)
	}

	p, err := payload.FromColumns(m.PayloadType, m.PayloadData)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: event %s payload reference: %w", m.ID, err)
	}

	return &event.Event{
		ID:            parsedID,
		RunID:         parsedRunID,
		Type:          m.EventType,
		CorrelationID: m.CorrelationID,
		Payload:       p,
		CreatedAt:     fromMs(m.CreatedAt),
	}, nil
}

// ── Hook model ────────────────────────────────────────────────────

type hookModel struct {
	bun.BaseModel `bun:"table:workflow_hooks"`

	ID          string            `bun:"id,pk"`
	RunID       string            `bun:"run_id,notnull"`
	Token       string            `bun:"token,notnull"`
	OwnerID     string            `bun:"owner_id,notnull,default:''"`
	ProjectID   string            `bun:"project_id,notnull,default:''"`
	Environment string            `bun:"environment,notnull,default:''"`
	Metadata    map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt   int64             `bun:"created_at,notnull"`
	UpdatedAt   int64             `bun:"updated_at,notnull"`
}

func toHookModel(h *hook.Hook) *hookModel {
	return &hookModel{
		ID:          h.ID.String(),
		RunID:       h.RunID.String(),
		Token:       h.Token,
		OwnerID:     h.OwnerID,
		ProjectID:   h.ProjectID,
		Environment: h.Environment,
		Metadata:    h.Metadata,
		CreatedAt:   toMs(h.CreatedAt),
		UpdatedAt:   toMs(h.UpdatedAt),
	}
}

func fromHookModel(m *hookModel) (*hook.Hook, error) {
	parsedID, err := id.ParseHookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: parse hook id %q: %w", m.ID, err)
	}
	parsedRunID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: parse run id %q: %w", m.RunID, err)
	}

	return &hook.Hook{
		Entity: loom.Entity{
			CreatedAt: fromMs(m.CreatedAt),
			UpdatedAt: fromMs(m.UpdatedAt),
		},
		ID:          parsedID,
		RunID:       parsedRunID,
		Token:       m.Token,
		OwnerID:     m.OwnerID,
		ProjectID:   m.ProjectID,
		Environment: m.Environment,
		Metadata:    m.Metadata,
	}, nil
}

// ── Message model ─────────────────────────────────────────────────

type messageModel struct {
	bun.BaseModel `bun:"table:queue_messages"`

	ID             string  `bun:"id,pk"`
	QueueName      string  `bun:"queue_name,notnull"`
	IdempotencyKey *string `bun:"idempotency_key"`
	Payload        string  `bun:"payload,notnull,default:''"`
	DeploymentID   string  `bun:"deployment_id,notnull,default:''"`
	ProcessedAt    *int64  `bun:"processed_at"`
	CreatedAt      int64   `bun:"created_at,notnull"`
	UpdatedAt      int64   `bun:"updated_at,notnull"`
}

func toMessageModel(msg *queue.Message) *messageModel {
	m := &messageModel{
		ID:           msg.ID.String(),
		QueueName:    msg.QueueName,
		Payload:      string(msg.Payload),
		DeploymentID: msg.DeploymentID,
		ProcessedAt:  toMsPtr(msg.ProcessedAt),
		CreatedAt:    toMs(msg.CreatedAt),
		UpdatedAt:    toMs(msg.UpdatedAt),
	}
	// Keyless rows store NULL so the partial unique index skips them.
	if msg.IdempotencyKey != "" {
		m.IdempotencyKey = &msg.IdempotencyKey
	}
	return m
}

func fromMessageModel(m *messageModel) (*queue.Message, error) {
	parsedID, err := id.ParseMessageID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: parse message id %q: %w", m.ID, err)
	}

	msg := &queue.Message{
		Entity: loom.Entity{
			CreatedAt: fromMs(m.CreatedAt),
			UpdatedAt: fromMs(m.UpdatedAt),
		},
		ID:           parsedID,
		QueueName:    m.QueueName,
		DeploymentID: m.DeploymentID,
		ProcessedAt:  fromMsPtr(m.ProcessedAt),
	}
	if m.IdempotencyKey != nil {
		msg.IdempotencyKey = *m.IdempotencyKey
	}
	if m.Payload != "" {
		msg.Payload = json.RawMessage(m.Payload)
	}
	return msg, nil
}

// ── Stream model ──────────────────────────────────────────────────

type streamModel struct {
	bun.BaseModel `bun:"table:streams"`

	Name      string `bun:"name,pk"`
	Closed    bool   `bun:"closed,notnull,default:false"`
	Size      int64  `bun:"size,notnull,default:0"`
	CreatedAt int64  `bun:"created_at,notnull"`
	UpdatedAt int64  `bun:"updated_at,notnull"`
}

func toStreamModel(st *stream.Stream) *streamModel {
	return &streamModel{
		Name:      st.Name,
		Closed:    st.Closed,
		Size:      st.Size,
		CreatedAt: toMs(st.CreatedAt),
		UpdatedAt: toMs(st.UpdatedAt),
	}
}

func fromStreamModel(m *streamModel) *stream.Stream {
	return &stream.Stream{
		Entity: loom.Entity{
			CreatedAt: fromMs(m.CreatedAt),
			UpdatedAt: fromMs(m.UpdatedAt),
		},
		Name:   m.Name,
		Closed: m.Closed,
		Size:   m.Size,
	}
}
