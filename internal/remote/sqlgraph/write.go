package sqlgraph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/resgraph/internal/ir"
)

// PutResource creates or replaces a resource, its fields and its kv set in
// one transaction.
func (s *Store) PutResource(ctx context.Context, rd ir.ExtendedResourceData) error {
	if rd.ID.IsNull() {
		return fmt.Errorf("put resource: null id")
	}
	for _, fd := range rd.Fields {
		if !ir.ValidFieldTypes[fd.Type] {
			return fmt.Errorf("put resource %s: field %q has invalid type %q", rd.ID, fd.Name, fd.Type)
		}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Replacing the row cascades to fields and kvs.
		if _, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, int64(rd.ID)); err != nil {
			return fmt.Errorf("put resource %s: %w", rd.ID, err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO resources
			(id, original_id, kind, type_name, type_version, data, error_id,
			 inputs_locked, outputs_locked, ready, final)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			int64(rd.ID),
			int64(rd.OriginalResourceID),
			string(rd.Kind),
			rd.Type.Name,
			rd.Type.Version,
			rd.Data,
			int64(rd.Error),
			rd.InputsLocked,
			rd.OutputsLocked,
			rd.ResourceReady,
			rd.Final,
		)
		if err != nil {
			return fmt.Errorf("put resource %s: %w", rd.ID, err)
		}

		for i, fd := range rd.Fields {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO fields (resource_id, position, name, type, value_id, error_id)
				VALUES (?, ?, ?, ?, ?, ?)
			`, int64(rd.ID), i, fd.Name, string(fd.Type), int64(fd.Value), int64(fd.Error))
			if err != nil {
				return fmt.Errorf("put field %q of %s: %w", fd.Name, rd.ID, err)
			}
		}

		for _, kv := range rd.KV {
			value := kv.Value
			if value == nil {
				value = []byte{}
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO kvs (resource_id, key, value) VALUES (?, ?, ?)
			`, int64(rd.ID), kv.Key, value)
			if err != nil {
				return fmt.Errorf("put key %q of %s: %w", kv.Key, rd.ID, err)
			}
		}
		return nil
	})
}

// DeleteResource removes a resource with its fields and kv set. Deleting a
// missing resource is not an error.
func (s *Store) DeleteResource(ctx context.Context, id ir.ResourceID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, int64(id)); err != nil {
		return fmt.Errorf("delete resource %s: %w", id, err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
