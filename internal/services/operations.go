package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-autoops/internal/api"
	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// Operations is the slice of engine.Core the gRPC service exposes.
type Operations interface {
	RecordMetric(sample models.MetricSample) error
	PredictMetric(ctx context.Context, key string, horizon time.Duration) (models.Forecast, *models.MaintenanceTask, error)
	DetectThreat(ctx context.Context, sample models.MetricSample) (*models.Threat, error)
	ResolveThreat(ctx context.Context, id, note string) (models.Threat, error)
	MarkFalsePositive(ctx context.Context, id, note string) (models.Threat, error)
	ListThreats(ctx context.Context, filter models.ThreatFilter) ([]models.Threat, error)
	CreateResponsePlan(ctx context.Context, threatID string, actions []models.Action) (models.ResponsePlan, error)
	ExecuteResponsePlan(ctx context.Context, threatID string) (models.ResponsePlan, error)
	RunOnce(ctx context.Context, id string) (models.HealthCheck, error)
	HealthChecks() []models.HealthCheck
	EnablePolicy(ctx context.Context, id string) error
	DisablePolicy(ctx context.Context, id string) error
	ScheduleMaintenanceTask(ctx context.Context, task models.MaintenanceTask) (models.MaintenanceTask, error)
	ExecuteMaintenanceTask(ctx context.Context, id string) (models.MaintenanceTask, error)
}

// OperationsService implements api.OperationsServer on top of the core.
type OperationsService struct {
	logger *slog.Logger
	ops    Operations
}

// NewOperationsService constructs the gRPC facade.
func NewOperationsService(logger *slog.Logger, ops Operations) *OperationsService {
	return &OperationsService{
		logger: utils.LoggerOrDefault(logger),
		ops:    ops,
	}
}

var _ api.OperationsServer = (*OperationsService)(nil)

// RecordMetric appends a sample to the baseline.
func (s *OperationsService) RecordMetric(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sample, err := decodeSample(in)
	if err != nil {
		return nil, err
	}
	if err := s.ops.RecordMetric(sample); err != nil {
		return nil, s.toStatus(api.MethodRecordMetric, err)
	}
	return encode(map[string]any{"recorded": true, "key": sample.Key})
}

// PredictMetric forecasts a key and reports any predictive task it scheduled.
func (s *OperationsService) PredictMetric(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.PredictRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}
	horizon, err := api.ToHorizon(req.Horizon)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	forecast, task, err := s.ops.PredictMetric(ctx, req.Key, horizon)
	if err != nil {
		return nil, s.toStatus(api.MethodPredictMetric, err)
	}
	resp := map[string]any{"forecast": forecast}
	if task != nil {
		resp["task"] = task
	}
	return encode(resp)
}

// DetectThreat evaluates a sample; the response carries the threat when one was raised.
func (s *OperationsService) DetectThreat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sample, err := decodeSample(in)
	if err != nil {
		return nil, err
	}
	threat, err := s.ops.DetectThreat(ctx, sample)
	if err != nil {
		return nil, s.toStatus(api.MethodDetectThreat, err)
	}

	if threat == nil {
		return encode(map[string]any{"detected": false})
	}
	return encode(map[string]any{"detected": true, "threat": threat})
}

// ResolveThreat closes a threat.
func (s *OperationsService) ResolveThreat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeThreat(in)
	if err != nil {
		return nil, err
	}
	threat, err := s.ops.ResolveThreat(ctx, req.ThreatID, req.Note)
	if err != nil {
		return nil, s.toStatus(api.MethodResolveThreat, err)
	}
	return encode(threat)
}

// MarkFalsePositive closes a threat as a false positive.
func (s *OperationsService) MarkFalsePositive(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeThreat(in)
	if err != nil {
		return nil, err
	}
	threat, err := s.ops.MarkFalsePositive(ctx, req.ThreatID, req.Note)
	if err != nil {
		return nil, s.toStatus(api.MethodMarkFalsePositive, err)
	}
	return encode(threat)
}

// ListThreats returns threats matching the filter.
func (s *OperationsService) ListThreats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ListThreatsRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	filter, err := api.ToThreatFilter(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	threats, err := s.ops.ListThreats(ctx, filter)
	if err != nil {
		return nil, s.toStatus(api.MethodListThreats, err)
	}
	return encode(map[string]any{"threats": threats})
}

// CreateResponsePlan creates the plan for a threat.
func (s *OperationsService) CreateResponsePlan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.PlanRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ThreatID == "" {
		return nil, status.Error(codes.InvalidArgument, "threatId is required")
	}
	for _, action := range req.Actions {
		if action.Kind == "" {
			return nil, status.Error(codes.InvalidArgument, "every action needs a kind")
		}
	}
	plan, err := s.ops.CreateResponsePlan(ctx, req.ThreatID, req.Actions)
	if err != nil {
		return nil, s.toStatus(api.MethodCreateResponsePlan, err)
	}
	return encode(plan)
}

// ExecuteResponsePlan runs the plan for a threat.
func (s *OperationsService) ExecuteResponsePlan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeThreat(in)
	if err != nil {
		return nil, err
	}
	plan, err := s.ops.ExecuteResponsePlan(ctx, req.ThreatID)
	if err != nil {
		return nil, s.toStatus(api.MethodExecuteResponsePlan, err)
	}
	return encode(plan)
}

// RunHealthCheck probes one check immediately.
func (s *OperationsService) RunHealthCheck(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.CheckRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.CheckID == "" {
		return nil, status.Error(codes.InvalidArgument, "checkId is required")
	}
	check, err := s.ops.RunOnce(ctx, req.CheckID)
	if err != nil {
		return nil, s.toStatus(api.MethodRunHealthCheck, err)
	}
	return encode(check)
}

// ListHealthChecks returns every registered check.
func (s *OperationsService) ListHealthChecks(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(map[string]any{"checks": s.ops.HealthChecks()})
}

// EnablePolicy turns a self-healing policy on.
func (s *OperationsService) EnablePolicy(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.togglePolicy(ctx, in, api.MethodEnablePolicy, s.ops.EnablePolicy, true)
}

// DisablePolicy turns a self-healing policy off.
func (s *OperationsService) DisablePolicy(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.togglePolicy(ctx, in, api.MethodDisablePolicy, s.ops.DisablePolicy, false)
}

func (s *OperationsService) togglePolicy(ctx context.Context, in *structpb.Struct, method string, fn func(context.Context, string) error, enabled bool) (*structpb.Struct, error) {
	var req api.PolicyRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.PolicyID == "" {
		return nil, status.Error(codes.InvalidArgument, "policyId is required")
	}
	if err := fn(ctx, req.PolicyID); err != nil {
		return nil, s.toStatus(method, err)
	}
	return encode(map[string]any{"policyId": req.PolicyID, "enabled": enabled})
}

// ScheduleMaintenanceTask records a maintenance task.
func (s *OperationsService) ScheduleMaintenanceTask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.TaskRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	task, err := api.ToTask(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	scheduled, err := s.ops.ScheduleMaintenanceTask(ctx, task)
	if err != nil {
		return nil, s.toStatus(api.MethodScheduleMaintenanceTask, err)
	}
	return encode(scheduled)
}

// ExecuteMaintenanceTask runs a task now.
func (s *OperationsService) ExecuteMaintenanceTask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.TaskIDRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.TaskID == "" {
		return nil, status.Error(codes.InvalidArgument, "taskId is required")
	}
	task, err := s.ops.ExecuteMaintenanceTask(ctx, req.TaskID)
	if err != nil {
		return nil, s.toStatus(api.MethodExecuteMaintenanceTask, err)
	}
	return encode(task)
}

func decodeSample(in *structpb.Struct) (models.MetricSample, error) {
	var req api.MetricRequest
	if err := api.Decode(in, &req); err != nil {
		return models.MetricSample{}, status.Error(codes.InvalidArgument, err.Error())
	}
	sample, err := api.ToSample(req)
	if err != nil {
		return models.MetricSample{}, status.Error(codes.InvalidArgument, err.Error())
	}
	return sample, nil
}

func decodeThreat(in *structpb.Struct) (api.ThreatRequest, error) {
	var req api.ThreatRequest
	if err := api.Decode(in, &req); err != nil {
		return req, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ThreatID == "" {
		return req, status.Error(codes.InvalidArgument, "threatId is required")
	}
	return req, nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := api.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus maps domain errors onto gRPC codes. Unclassified errors are logged and
// reported as Internal.
func (s *OperationsService) toStatus(method string, err error) error {
	switch {
	case errors.Is(err, utils.ErrUnknownEntity):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, utils.ErrInvalidTransition), errors.Is(err, utils.ErrInsufficientData):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, utils.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, utils.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.Error("operation failed", slog.String("method", method), slog.Any("error", err))
		return status.Error(codes.Internal, method+" failed")
	}
}
