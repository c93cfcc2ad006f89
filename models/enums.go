package models

type QueueStatus string

const (
	QueueStatusPending     QueueStatus = "PENDING"
	QueueStatusInCount     QueueStatus = "IN_COUNT"
	QueueStatusDone        QueueStatus = "DONE"
	QueueStatusReported    QueueStatus = "REPORTED"
	QueueStatusAuditLocked QueueStatus = "AUDIT_LOCKED"
)

type CountType string

const (
	CountTypeCount         CountType = "COUNT"
	CountTypeRecount       CountType = "RECOUNT"
	CountTypeNotFound      CountType = "NOT_FOUND"
	CountTypeProblemReport CountType = "PROBLEM_REPORT"
)

type AnalysisStatus string

const (
	AnalysisStatusOkAuto            AnalysisStatus = "OK_AUTO"
	AnalysisStatusDivergencePending AnalysisStatus = "DIVERGENCE_PENDING"
	AnalysisStatusResolved          AnalysisStatus = "RESOLVED"
)

type DivergenceStatus string

const (
	DivergenceStatusPending  DivergenceStatus = "PENDING"
	DivergenceStatusAccepted DivergenceStatus = "ACCEPTED"
	DivergenceStatusDone     DivergenceStatus = "DONE"
)

type DivergenceSeverity string

const (
	DivergenceSeverityMedium DivergenceSeverity = "MEDIUM"
	DivergenceSeverityHigh   DivergenceSeverity = "HIGH"
)

type Decision string

const (
	DecisionAdjust           Decision = "ADJUST"
	DecisionRecount          Decision = "RECOUNT"
	DecisionFinalizeAnalysis Decision = "FINALIZE_ANALYSIS"
)

type AdjustStatus string

const (
	AdjustStatusPending AdjustStatus = "PENDING"
	AdjustStatusSynced  AdjustStatus = "SYNCED"
	AdjustStatusError   AdjustStatus = "ERROR"
)

type WorkerRole string

const (
	WorkerRoleOperator   WorkerRole = "OPERATOR"
	WorkerRoleSupervisor WorkerRole = "SUPERVISOR"
	WorkerRoleAdmin      WorkerRole = "ADMIN"
)

type JobType string

const (
	JobTypeSnapshotSync    JobType = "SNAPSHOT_SYNC"
	JobTypeAdjustmentFlush JobType = "ADJUSTMENT_FLUSH"
)

type JobStatus string

const (
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusError   JobStatus = "ERROR"
)
