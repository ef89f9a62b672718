package repo

import (
	"context"
	"database/sql"
	"errors"

	"choreline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertGroup(ctx context.Context, g domain.Group) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO groups(id,name,created_at) VALUES (?,?,?)`,
		g.ID, g.Name, g.CreatedAt)
	return err
}

func (r Repo) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	var g domain.Group
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM groups WHERE id=?`, id).
		Scan(&g.ID, &g.Name, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

func (r Repo) ListGroups(ctx context.Context) ([]domain.Group, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM groups ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) InsertMember(ctx context.Context, m domain.Member) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO members(id,group_id,name,role,timezone,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.GroupID, m.Name, m.Role, nullable(m.Timezone), m.CreatedAt)
	return err
}

func (r Repo) GetMember(ctx context.Context, id string) (domain.Member, error) {
	var m domain.Member
	var tz sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,group_id,name,role,timezone,created_at FROM members WHERE id=?`, id).
		Scan(&m.ID, &m.GroupID, &m.Name, &m.Role, &tz, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if tz.Valid {
		m.Timezone = tz.String
	}
	return m, err
}

func (r Repo) ListMembers(ctx context.Context, groupID string) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,group_id,name,role,timezone,created_at FROM members WHERE group_id=? ORDER BY created_at ASC, id ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		var tz sql.NullString
		if err := rows.Scan(&m.ID, &m.GroupID, &m.Name, &m.Role, &tz, &m.CreatedAt); err != nil {
			return nil, err
		}
		if tz.Valid {
			m.Timezone = tz.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// GroupMemberIDs returns every member of the group, editors included.
// Auto-assignment draws from this pool.
func (r Repo) GroupMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	return r.memberIDs(ctx, `SELECT id FROM members WHERE group_id=? ORDER BY id ASC`, groupID)
}

// NonEditorMemberIDs returns members lacking group-edit privileges.
// Broadcast assignment targets exactly this set.
func (r Repo) NonEditorMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	return r.memberIDs(ctx, `SELECT id FROM members WHERE group_id=? AND role != 'editor' ORDER BY id ASC`, groupID)
}

func (r Repo) memberIDs(ctx context.Context, query, groupID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
