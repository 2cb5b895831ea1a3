package sqlgraph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/remote"
)

// RunReadOnlyTransaction implements remote.Client. All fetches of fn see
// one consistent snapshot.
func (s *Store) RunReadOnlyTransaction(ctx context.Context, name string, fn func(ctx context.Context, tx remote.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read-only transaction %q: %w", name, err)
	}
	// Rollback is the normal end of a read-only transaction.
	defer sqlTx.Rollback()

	txID := remote.NewTransactionID()
	s.logger.Debug("read-only transaction started", "tx", txID, "name", name)

	tx := &readTx{tx: sqlTx}
	err = fn(ctx, tx)

	tx.mu.Lock()
	tx.closed = true
	tx.mu.Unlock()

	s.logger.Debug("read-only transaction finished", "tx", txID, "name", name, "error", err)
	return err
}

// readTx serializes fetches: one sql.Tx owns a single connection.
type readTx struct {
	mu     sync.Mutex
	tx     *sql.Tx
	closed bool
}

var errTxClosed = errors.New("sqlgraph: transaction closed")

func (t *readTx) FetchResourceIfExists(ctx context.Context, id ir.ResourceID, includeFields bool) (*ir.ResourceData, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errTxClosed
	}

	rd, err := scanResource(t.tx.QueryRowContext(ctx, `
		SELECT id, original_id, kind, type_name, type_version, data, error_id,
		       inputs_locked, outputs_locked, ready, final
		FROM resources
		WHERE id = ?
	`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query resource %s: %w", id, err)
	}

	if includeFields {
		if rd.Fields, err = t.readFields(ctx, id); err != nil {
			return nil, err
		}
	}
	return rd, nil
}

func (t *readTx) readFields(ctx context.Context, id ir.ResourceID) ([]ir.FieldData, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT name, type, value_id, error_id
		FROM fields
		WHERE resource_id = ?
		ORDER BY position ASC
	`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("query fields of %s: %w", id, err)
	}
	defer rows.Close()

	var fields []ir.FieldData
	for rows.Next() {
		var (
			fd           ir.FieldData
			typ          string
			value, errID int64
		)
		if err := rows.Scan(&fd.Name, &typ, &value, &errID); err != nil {
			return nil, fmt.Errorf("scan field of %s: %w", id, err)
		}
		fd.Type = ir.FieldType(typ)
		fd.Value = ir.ResourceID(value)
		fd.Error = ir.ResourceID(errID)
		fields = append(fields, fd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fields of %s: %w", id, err)
	}
	return fields, nil
}

func (t *readTx) FetchKeyValuesIfExists(ctx context.Context, id ir.ResourceID) ([]ir.KeyValue, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, false, errTxClosed
	}

	var exists int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM resources WHERE id = ?`, int64(id)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query resource %s: %w", id, err)
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT key, value
		FROM kvs
		WHERE resource_id = ?
		ORDER BY key COLLATE BINARY ASC
	`, int64(id))
	if err != nil {
		return nil, false, fmt.Errorf("query key values of %s: %w", id, err)
	}
	defer rows.Close()

	var kvs []ir.KeyValue
	for rows.Next() {
		var kv ir.KeyValue
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, false, fmt.Errorf("scan key value of %s: %w", id, err)
		}
		kvs = append(kvs, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate key values of %s: %w", id, err)
	}
	return kvs, true, nil
}

func scanResource(row *sql.Row) (*ir.ResourceData, error) {
	var (
		rd                     ir.ResourceData
		id, original, errID    int64
		kind                   string
		inputs, outputs, ready bool
		final                  bool
	)
	err := row.Scan(&id, &original, &kind, &rd.Type.Name, &rd.Type.Version, &rd.Data, &errID,
		&inputs, &outputs, &ready, &final)
	if err != nil {
		return nil, err
	}
	rd.ID = ir.ResourceID(id)
	rd.OriginalResourceID = ir.ResourceID(original)
	rd.Kind = ir.ResourceKind(kind)
	rd.Error = ir.ResourceID(errID)
	rd.InputsLocked = inputs
	rd.OutputsLocked = outputs
	rd.ResourceReady = ready
	rd.Final = final
	return &rd, nil
}

// Stats counts the stored rows.
type Stats struct {
	Resources int
	Fields    int
	KeyValues int
}

// Stats returns row counts of the graph tables.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM resources),
			(SELECT COUNT(*) FROM fields),
			(SELECT COUNT(*) FROM kvs)
	`).Scan(&st.Resources, &st.Fields, &st.KeyValues)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}
