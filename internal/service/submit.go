package service

import (
	"bitwise74/captcha-gateway/internal/access"
	"bitwise74/captcha-gateway/internal/model"
	"bitwise74/captcha-gateway/internal/solver"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Evaluator interface {
	Evaluate(ctx context.Context, visitorID, appVersion string) (access.Decision, error)
}

type TaskSolver interface {
	CreateTask(ctx context.Context, apiKey string, task json.RawMessage) (*solver.Reply, error)
}

type TaskCreator interface {
	Create(ctx context.Context, task *model.Task) error
}

type Submission struct {
	VisitorID string
	Version   string
	Source    string
	AppID     string
	Task      json.RawMessage
}

// SubmitResult holds either the gate denial or the solver reply together with
// the persisted record
type SubmitResult struct {
	Denied *access.Decision
	Reply  *solver.Reply
	Record *model.Task
}

type Submitter struct {
	gate     Evaluator
	solver   TaskSolver
	tasks    TaskCreator
	archiver Archiver
}

// NewSubmitter creates a Submitter. archiver may be nil
func NewSubmitter(gate Evaluator, s TaskSolver, tasks TaskCreator, archiver Archiver) *Submitter {
	return &Submitter{
		gate:     gate,
		solver:   s,
		tasks:    tasks,
		archiver: archiver,
	}
}

// Submit runs the gate, forwards the task upstream and records the outcome.
// The record is written once the outcome is known. A transport failure still
// leaves a failed record behind and is returned wrapping solver.ErrTransport
func (s *Submitter) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	decision, err := s.gate.Evaluate(ctx, sub.VisitorID, sub.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate access, %w", err)
	}

	if !decision.Allowed {
		return &SubmitResult{Denied: &decision}, nil
	}

	record := &model.Task{
		VisitorID: sub.VisitorID,
		Source:    sub.Source,
		AppID:     sub.AppID,
		Version:   sub.Version,
		Task:      []byte(sub.Task),
	}

	// The solver may already be working on the task when the client goes
	// away, so the call is bounded by the client timeout only
	reply, err := s.solver.CreateTask(context.WithoutCancel(ctx), decision.UpstreamKey, sub.Task)
	if err != nil {
		if !errors.Is(err, solver.ErrTransport) {
			return nil, err
		}

		detail, _ := json.Marshal(map[string]string{"error": err.Error()})
		record.Status = model.TaskFailed
		record.Result = detail

		if cerr := s.tasks.Create(context.WithoutCancel(ctx), record); cerr != nil {
			zap.L().Error("Failed to record failed task", zap.Error(cerr), zap.String("visitor_id", sub.VisitorID))
		}

		return nil, err
	}

	record.Result = []byte(reply.Raw)
	record.Status = model.TaskFailed
	if reply.OK() {
		record.Status = model.TaskCompleted
	}

	if err := s.tasks.Create(context.WithoutCancel(ctx), record); err != nil {
		return nil, err
	}

	if record.Status == model.TaskCompleted && s.archiver != nil {
		go s.archive(record)
	}

	return &SubmitResult{Reply: reply, Record: record}, nil
}

func (s *Submitter) archive(t *model.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.archiver.Archive(ctx, t); err != nil {
		zap.L().Warn("Failed to archive task", zap.Error(err), zap.Uint("task_id", t.ID))
	}
}
