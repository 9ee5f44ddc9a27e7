package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/models"
	"github.com/nandth/model-router-ai/repositories"
)

const requestLogColumns = `id, request_id, timestamp, client_ip, prompt_chars, prompt_words, prompt_preview,
	features, score, hard_trigger_reasons, route_mode, path, initial_tier, final_tier,
	initial_model, final_model, escalated, stage_a_confidence, stage_a_should_escalate,
	stage_a_reasons, stage_a_parse_error, tokens_stage_a, tokens_stage_b, total_tokens,
	tokens_saved, cost, latency_ms, success, error_message`

// RequestLogRepository implements repositories.RequestLogRepository
type RequestLogRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRequestLogRepository creates a new request log repository
func NewRequestLogRepository(db *DB, logger *zap.Logger) repositories.RequestLogRepository {
	return &RequestLogRepository{
		db:     db,
		logger: logger,
	}
}

// Insert stores one request log record
func (r *RequestLogRepository) Insert(ctx context.Context, log *models.RequestLog) error {
	reasons, err := encodeStrings(log.HardTriggerReasons)
	if err != nil {
		return fmt.Errorf("failed to encode hard trigger reasons: %w", err)
	}
	var stageAReasons interface{}
	if log.StageAReasons != nil {
		if stageAReasons, err = encodeStrings(log.StageAReasons); err != nil {
			return fmt.Errorf("failed to encode stage A reasons: %w", err)
		}
	}
	var features interface{}
	if len(log.Features) > 0 {
		features = string(log.Features)
	}

	query := r.db.Rebind(`
		INSERT INTO request_logs (` + requestLogColumns + `) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		)
	`)

	_, err = r.db.ExecContext(ctx, query,
		log.ID.String(),
		log.RequestID,
		log.Timestamp,
		nullString(log.ClientIP),
		log.PromptChars,
		log.PromptWords,
		log.PromptPreview,
		features,
		log.Score,
		reasons,
		log.RouteMode,
		string(log.Path),
		log.InitialTier,
		log.FinalTier,
		log.InitialModel,
		log.FinalModel,
		log.Escalated,
		log.StageAConfidence,
		log.StageAShouldEscalate,
		stageAReasons,
		log.StageAParseError,
		log.TokensStageA,
		log.TokensStageB,
		log.TotalTokens,
		log.TokensSaved,
		log.Cost,
		log.LatencyMs,
		log.Success,
		log.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert request log: %w", err)
	}

	r.logger.Debug("request log inserted",
		zap.String("id", log.ID.String()),
		zap.String("request_id", log.RequestID))
	return nil
}

// List returns the most recent records first
func (r *RequestLogRepository) List(ctx context.Context, limit, offset int) ([]*models.RequestLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := r.db.Rebind(`
		SELECT ` + requestLogColumns + `
		FROM request_logs
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`)

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list request logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.RequestLog, 0, limit)
	for rows.Next() {
		log, err := scanRequestLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate request logs: %w", err)
	}
	return logs, nil
}

// Stats aggregates all records
func (r *RequestLogRepository) Stats(ctx context.Context) (*models.RequestStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN escalated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(cost), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(tokens_saved), 0),
			COALESCE(AVG(latency_ms), 0)
		FROM request_logs
	`

	stats := &models.RequestStats{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalRequests,
		&stats.SuccessfulCount,
		&stats.EscalatedCount,
		&stats.TotalCost,
		&stats.TotalTokens,
		&stats.TotalTokensSaved,
		&stats.AverageLatencyMs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate request logs: %w", err)
	}

	stats.FailedCount = stats.TotalRequests - stats.SuccessfulCount
	stats.ComputeRates()
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequestLog(row rowScanner) (*models.RequestLog, error) {
	var (
		log                                    models.RequestLog
		clientIP, errorMessage                 sql.NullString
		features, triggerReasons, stageReasons []byte
		path                                   string
		confidence                             sql.NullFloat64
		shouldEscalate                         sql.NullBool
	)

	err := row.Scan(
		&log.ID,
		&log.RequestID,
		&log.Timestamp,
		&clientIP,
		&log.PromptChars,
		&log.PromptWords,
		&log.PromptPreview,
		&features,
		&log.Score,
		&triggerReasons,
		&log.RouteMode,
		&path,
		&log.InitialTier,
		&log.FinalTier,
		&log.InitialModel,
		&log.FinalModel,
		&log.Escalated,
		&confidence,
		&shouldEscalate,
		&stageReasons,
		&log.StageAParseError,
		&log.TokensStageA,
		&log.TokensStageB,
		&log.TotalTokens,
		&log.TokensSaved,
		&log.Cost,
		&log.LatencyMs,
		&log.Success,
		&errorMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan request log: %w", err)
	}

	log.ClientIP = clientIP.String
	log.Path = models.RoutePath(path)
	if len(features) > 0 {
		log.Features = json.RawMessage(features)
	}
	if log.HardTriggerReasons, err = decodeStrings(triggerReasons); err != nil {
		return nil, fmt.Errorf("failed to decode hard trigger reasons: %w", err)
	}
	if log.HardTriggerReasons == nil {
		log.HardTriggerReasons = []string{}
	}
	if log.StageAReasons, err = decodeStrings(stageReasons); err != nil {
		return nil, fmt.Errorf("failed to decode stage A reasons: %w", err)
	}
	if confidence.Valid {
		log.StageAConfidence = &confidence.Float64
	}
	if shouldEscalate.Valid {
		log.StageAShouldEscalate = &shouldEscalate.Bool
	}
	if errorMessage.Valid {
		log.ErrorMessage = &errorMessage.String
	}
	return &log, nil
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	return string(b), err
}

func decodeStrings(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
