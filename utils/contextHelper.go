package utils

import (
	"context"

	"bitbucket.org/warelogic/counting_backend/appctx"
)

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyWorkerId      = appctx.ContextKeyWorkerId
	ContextKeyWorkerName    = appctx.ContextKeyWorkerName
	ContextKeyWorkerRole    = appctx.ContextKeyWorkerRole
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetWorkerIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyWorkerId)
}

func GetWorkerNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyWorkerName)
}

func GetWorkerRoleFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyWorkerRole)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetWorkerIdInContext(ctx context.Context, workerId int) context.Context {
	return appctx.Set(ctx, ContextKeyWorkerId, workerId)
}

func SetWorkerNameInContext(ctx context.Context, name string) context.Context {
	return appctx.Set(ctx, ContextKeyWorkerName, name)
}

func SetWorkerRoleInContext(ctx context.Context, role string) context.Context {
	return appctx.Set(ctx, ContextKeyWorkerRole, role)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
