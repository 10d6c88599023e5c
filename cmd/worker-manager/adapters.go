package main

import (
	"blitz-workers/internal/common/logger"
	"blitz-workers/internal/pipeline"

	aq "blitz-workers/internal/workers/ai-conversation/answer-question"
	cg "blitz-workers/internal/workers/ai-conversation/clarification-gate"
	ews "blitz-workers/internal/workers/ai-conversation/enrich-web-search"
	ehq "blitz-workers/internal/workers/ai-conversation/execute-historical-query"
	fld "blitz-workers/internal/workers/ai-conversation/fetch-live-data"
	phq "blitz-workers/internal/workers/ai-conversation/plan-historical-query"
	pld "blitz-workers/internal/workers/ai-conversation/plan-live-data"
	sr "blitz-workers/internal/workers/ai-conversation/synthesize-response"
	pt "blitz-workers/internal/workers/communication/post-tweet"
)

// Logger adapters for packages that declare their own Logger interface.

type clarificationGateLoggerAdapter struct {
	logger.Logger
}

func (a *clarificationGateLoggerAdapter) With(fields map[string]interface{}) cg.Logger {
	return &clarificationGateLoggerAdapter{a.Logger.With(fields)}
}

type planLiveDataLoggerAdapter struct {
	logger.Logger
}

func (a *planLiveDataLoggerAdapter) With(fields map[string]interface{}) pld.Logger {
	return &planLiveDataLoggerAdapter{a.Logger.With(fields)}
}

type fetchLiveDataLoggerAdapter struct {
	logger.Logger
}

func (a *fetchLiveDataLoggerAdapter) With(fields map[string]interface{}) fld.Logger {
	return &fetchLiveDataLoggerAdapter{a.Logger.With(fields)}
}

type enrichWebSearchLoggerAdapter struct {
	logger.Logger
}

func (a *enrichWebSearchLoggerAdapter) With(fields map[string]interface{}) ews.Logger {
	return &enrichWebSearchLoggerAdapter{a.Logger.With(fields)}
}

type planHistoricalQueryLoggerAdapter struct {
	logger.Logger
}

func (a *planHistoricalQueryLoggerAdapter) With(fields map[string]interface{}) phq.Logger {
	return &planHistoricalQueryLoggerAdapter{a.Logger.With(fields)}
}

type executeHistoricalQueryLoggerAdapter struct {
	logger.Logger
}

func (a *executeHistoricalQueryLoggerAdapter) With(fields map[string]interface{}) ehq.Logger {
	return &executeHistoricalQueryLoggerAdapter{a.Logger.With(fields)}
}

type synthesizeResponseLoggerAdapter struct {
	logger.Logger
}

func (a *synthesizeResponseLoggerAdapter) With(fields map[string]interface{}) sr.Logger {
	return &synthesizeResponseLoggerAdapter{a.Logger.With(fields)}
}

type answerQuestionLoggerAdapter struct {
	logger.Logger
}

func (a *answerQuestionLoggerAdapter) With(fields map[string]interface{}) aq.Logger {
	return &answerQuestionLoggerAdapter{a.Logger.With(fields)}
}

type postTweetLoggerAdapter struct {
	logger.Logger
}

func (a *postTweetLoggerAdapter) With(fields map[string]interface{}) pt.Logger {
	return &postTweetLoggerAdapter{a.Logger.With(fields)}
}

type pipelineLoggerAdapter struct {
	logger.Logger
}

func (a *pipelineLoggerAdapter) With(fields map[string]interface{}) pipeline.Logger {
	return &pipelineLoggerAdapter{a.Logger.With(fields)}
}
