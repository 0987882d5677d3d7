package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type ToolCall struct {
	ID         int64
	RequestID  string
	Route      string
	Step       int64
	CallID     string
	Tool       string
	Input      string
	Output     string
	IsError    bool
	DurationMs int64
	CreatedAt  string
}

type InsertToolCallParams struct {
	RequestID  string
	Route      string
	Step       int64
	CallID     string
	Tool       string
	Input      string
	Output     string
	IsError    bool
	DurationMs int64
}

const insertToolCall = `INSERT INTO tool_calls (request_id, route, step, call_id, tool, input, output, is_error, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertToolCall(ctx context.Context, arg InsertToolCallParams) error {
	_, err := q.db.ExecContext(ctx, insertToolCall,
		arg.RequestID,
		arg.Route,
		arg.Step,
		arg.CallID,
		arg.Tool,
		arg.Input,
		arg.Output,
		arg.IsError,
		arg.DurationMs,
	)
	return err
}

const toolCallColumns = `id, request_id, route, step, call_id, tool, input, output, is_error, duration_ms, created_at`

const getToolCallsByRequest = `SELECT ` + toolCallColumns + ` FROM tool_calls
WHERE request_id = ?
ORDER BY step, id`

func (q *Queries) GetToolCallsByRequest(ctx context.Context, requestID string) ([]ToolCall, error) {
	rows, err := q.db.QueryContext(ctx, getToolCallsByRequest, requestID)
	if err != nil {
		return nil, err
	}
	return scanToolCalls(rows)
}

const listRecentToolCalls = `SELECT ` + toolCallColumns + ` FROM tool_calls
ORDER BY id DESC
LIMIT ?`

func (q *Queries) ListRecentToolCalls(ctx context.Context, limit int64) ([]ToolCall, error) {
	rows, err := q.db.QueryContext(ctx, listRecentToolCalls, limit)
	if err != nil {
		return nil, err
	}
	return scanToolCalls(rows)
}

func scanToolCalls(rows *sql.Rows) ([]ToolCall, error) {
	defer rows.Close()
	var items []ToolCall
	for rows.Next() {
		var i ToolCall
		if err := rows.Scan(
			&i.ID,
			&i.RequestID,
			&i.Route,
			&i.Step,
			&i.CallID,
			&i.Tool,
			&i.Input,
			&i.Output,
			&i.IsError,
			&i.DurationMs,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
