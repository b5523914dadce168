package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PoseBinding overrides the avatar pose shown for a gesture label.
type PoseBinding struct {
	Label     string          `json:"label"`
	Pose      json.RawMessage `json:"pose"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PoseRepository provides CRUD operations for pose bindings.
type PoseRepository struct {
	db *sql.DB
}

// Poses returns the pose binding repository for this store.
func (s *Store) Poses() *PoseRepository {
	return &PoseRepository{db: s.db}
}

// Upsert inserts or replaces the binding for b.Label.
func (r *PoseRepository) Upsert(b *PoseBinding) error {
	b.UpdatedAt = time.Now()

	pose := b.Pose
	if pose == nil {
		pose = json.RawMessage("{}")
	}

	_, err := r.db.Exec(
		`INSERT INTO pose_bindings (label, pose, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(label) DO UPDATE SET pose = excluded.pose, updated_at = excluded.updated_at`,
		b.Label, string(pose), b.UpdatedAt,
	)
	return err
}

// Get retrieves the binding for label.
func (r *PoseRepository) Get(label string) (*PoseBinding, error) {
	b := &PoseBinding{}
	var pose string

	err := r.db.QueryRow(
		`SELECT label, pose, updated_at FROM pose_bindings WHERE label = ?`,
		label,
	).Scan(&b.Label, &pose, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	b.Pose = json.RawMessage(pose)
	return b, nil
}

// List retrieves all bindings ordered by label.
func (r *PoseRepository) List() ([]*PoseBinding, error) {
	rows, err := r.db.Query(`SELECT label, pose, updated_at FROM pose_bindings ORDER BY label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bindings []*PoseBinding
	for rows.Next() {
		b := &PoseBinding{}
		var pose string
		if err := rows.Scan(&b.Label, &pose, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.Pose = json.RawMessage(pose)
		bindings = append(bindings, b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bindings, nil
}

// Delete removes the binding for label.
func (r *PoseRepository) Delete(label string) error {
	result, err := r.db.Exec(`DELETE FROM pose_bindings WHERE label = ?`, label)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
