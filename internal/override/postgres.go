package override

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/errors"
)

// Schema creates the override and audit tables
const Schema = `
CREATE TABLE IF NOT EXISTS substation_name_override (
	source_dataset_id text        NOT NULL,
	simplified_name   text        NOT NULL,
	canonical_id      text        NOT NULL,
	updated_by        text        NOT NULL DEFAULT '',
	updated_at        timestamptz NOT NULL DEFAULT now(),
	note              text        NOT NULL DEFAULT '',
	PRIMARY KEY (source_dataset_id, simplified_name)
);

CREATE TABLE IF NOT EXISTS substation_name_override_audit (
	audit_id          bigserial   PRIMARY KEY,
	source_dataset_id text        NOT NULL,
	simplified_name   text        NOT NULL,
	action            text        NOT NULL,
	old_canonical_id  text,
	new_canonical_id  text,
	changed_by        text        NOT NULL DEFAULT '',
	changed_at        timestamptz NOT NULL DEFAULT now(),
	note              text        NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_override_audit_key
	ON substation_name_override_audit (source_dataset_id, simplified_name);
`

// AuditRecord is one row of override history
type AuditRecord struct {
	AuditID        int64            `json:"audit_id" db:"audit_id"`
	Source         dataset.SourceID `json:"source_dataset_id" db:"source_dataset_id"`
	SimplifiedName string           `json:"simplified_name" db:"simplified_name"`
	Action         string           `json:"action" db:"action"`
	OldCanonicalID *string          `json:"old_canonical_id,omitempty" db:"old_canonical_id"`
	NewCanonicalID *string          `json:"new_canonical_id,omitempty" db:"new_canonical_id"`
	ChangedBy      string           `json:"changed_by" db:"changed_by"`
	ChangedAt      time.Time        `json:"changed_at" db:"changed_at"`
	Note           string           `json:"note" db:"note"`
}

// PostgresStore keeps overrides in PostgreSQL. Each write runs in one
// transaction together with its audit row.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open connection
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they do not exist
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create override tables: %w", err)
	}
	return nil
}

// Lookup returns the entry for a key
func (p *PostgresStore) Lookup(ctx context.Context, source dataset.SourceID, simplifiedName string) (Entry, bool, error) {
	var e Entry
	err := p.db.GetContext(ctx, &e, `
		SELECT source_dataset_id, simplified_name, canonical_id, updated_by, updated_at, note
		FROM substation_name_override
		WHERE source_dataset_id = $1 AND simplified_name = $2
	`, source, simplifiedName)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to look up override: %w", err)
	}
	return e, true, nil
}

// Entries returns all entries for a source sorted by simplified name
func (p *PostgresStore) Entries(ctx context.Context, source dataset.SourceID) ([]Entry, error) {
	entries := []Entry{}
	err := p.db.SelectContext(ctx, &entries, `
		SELECT source_dataset_id, simplified_name, canonical_id, updated_by, updated_at, note
		FROM substation_name_override
		WHERE source_dataset_id = $1
		ORDER BY simplified_name
	`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	return entries, nil
}

// Sources lists sources with entries
func (p *PostgresStore) Sources(ctx context.Context) ([]dataset.SourceID, error) {
	var sources []dataset.SourceID
	err := p.db.SelectContext(ctx, &sources, `
		SELECT DISTINCT source_dataset_id FROM substation_name_override ORDER BY source_dataset_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list override sources: %w", err)
	}
	return sources, nil
}

// Upsert writes an entry. Without WithReplace the insert never overwrites:
// ON CONFLICT DO NOTHING, then the existing row is compared inside the same
// transaction, so two racing writers cannot both believe they won.
func (p *PostgresStore) Upsert(ctx context.Context, entry Entry, opts ...WriteOption) error {
	entry, err := validate(entry)
	if err != nil {
		return err
	}
	o := buildOptions(opts)
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = o.now().UTC()
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previous sql.NullString
	err = tx.GetContext(ctx, &previous, `
		SELECT canonical_id FROM substation_name_override
		WHERE source_dataset_id = $1 AND simplified_name = $2
		FOR UPDATE
	`, entry.Source, entry.SimplifiedName)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read current override: %w", err)
	}

	action := "insert"
	if previous.Valid {
		action = "update"
		if previous.String != entry.CanonicalID {
			if !o.replace {
				return &errors.StoreWriteConflictError{
					Source:         string(entry.Source),
					SimplifiedName: entry.SimplifiedName,
					Existing:       previous.String,
					Attempted:      entry.CanonicalID,
				}
			}
			action = "replace"
		}
	}

	if o.replace {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO substation_name_override
				(source_dataset_id, simplified_name, canonical_id, updated_by, updated_at, note)
			VALUES (:source_dataset_id, :simplified_name, :canonical_id, :updated_by, :updated_at, :note)
			ON CONFLICT (source_dataset_id, simplified_name) DO UPDATE SET
				canonical_id = EXCLUDED.canonical_id,
				updated_by   = EXCLUDED.updated_by,
				updated_at   = EXCLUDED.updated_at,
				note         = EXCLUDED.note
		`, entry)
		if err != nil {
			return fmt.Errorf("failed to upsert override: %w", err)
		}
	} else {
		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO substation_name_override
				(source_dataset_id, simplified_name, canonical_id, updated_by, updated_at, note)
			VALUES (:source_dataset_id, :simplified_name, :canonical_id, :updated_by, :updated_at, :note)
			ON CONFLICT (source_dataset_id, simplified_name) DO NOTHING
		`, entry)
		if err != nil {
			return fmt.Errorf("failed to insert override: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			// Row exists (possibly committed by a concurrent writer after our read).
			var current string
			if err := tx.GetContext(ctx, &current, `
				SELECT canonical_id FROM substation_name_override
				WHERE source_dataset_id = $1 AND simplified_name = $2
				FOR UPDATE
			`, entry.Source, entry.SimplifiedName); err != nil {
				return fmt.Errorf("failed to re-read override: %w", err)
			}
			if current != entry.CanonicalID {
				return &errors.StoreWriteConflictError{
					Source:         string(entry.Source),
					SimplifiedName: entry.SimplifiedName,
					Existing:       current,
					Attempted:      entry.CanonicalID,
				}
			}
			if _, err := tx.NamedExecContext(ctx, `
				UPDATE substation_name_override
				SET updated_by = :updated_by, updated_at = :updated_at, note = :note
				WHERE source_dataset_id = :source_dataset_id AND simplified_name = :simplified_name
			`, entry); err != nil {
				return fmt.Errorf("failed to refresh override: %w", err)
			}
			action = "update"
		}
	}

	if err := p.audit(ctx, tx, entry.Source, entry.SimplifiedName, action, previous, entry.CanonicalID, entry.UpdatedBy, entry.Note); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete removes an entry and records who removed it
func (p *PostgresStore) Delete(ctx context.Context, source dataset.SourceID, simplifiedName string) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previous sql.NullString
	err = tx.GetContext(ctx, &previous, `
		DELETE FROM substation_name_override
		WHERE source_dataset_id = $1 AND simplified_name = $2
		RETURNING canonical_id
	`, source, simplifiedName)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError("override", string(source)+"/"+simplifiedName)
	}
	if err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}

	if err := p.audit(ctx, tx, source, simplifiedName, "delete", previous, "", "", ""); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// History returns the audit trail for one key, oldest first
func (p *PostgresStore) History(ctx context.Context, source dataset.SourceID, simplifiedName string) ([]AuditRecord, error) {
	records := []AuditRecord{}
	err := p.db.SelectContext(ctx, &records, `
		SELECT audit_id, source_dataset_id, simplified_name, action,
		       old_canonical_id, new_canonical_id, changed_by, changed_at, note
		FROM substation_name_override_audit
		WHERE source_dataset_id = $1 AND simplified_name = $2
		ORDER BY audit_id
	`, source, simplifiedName)
	if err != nil {
		return nil, fmt.Errorf("failed to read override history: %w", err)
	}
	return records, nil
}

func (p *PostgresStore) audit(ctx context.Context, tx *sqlx.Tx, source dataset.SourceID, name, action string, previous sql.NullString, next, by, note string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO substation_name_override_audit (
			source_dataset_id, simplified_name, action,
			old_canonical_id, new_canonical_id, changed_by, note
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, source, name, action, previous, next, by, note)
	if err != nil {
		return fmt.Errorf("failed to record override audit: %w", err)
	}
	return nil
}

// Close closes the underlying connection
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
