package events

import (
	"context"
	"database/sql"
	"time"

	"stageline/internal/domain"
)

// Writer appends execution events to the run history.
type Writer struct {
	DB *sql.DB
}

// TimeLayout matches the run log so history and log timestamps compare equal.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt domain.ExecutionEvent) error {
	ts := evt.TS
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO events(run_id,ts,phase,task,agent,status) VALUES (?,?,?,?,?,?)`,
		evt.RunID, ts.UTC().Format(TimeLayout), string(evt.Phase), evt.Task, nullable(evt.Agent), nullable(evt.Status))
	return err
}

// AppendDirect appends outside a caller transaction.
func (w Writer) AppendDirect(ctx context.Context, evt domain.ExecutionEvent) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
