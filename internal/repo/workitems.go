package repo

import (
	"context"
	"database/sql"
	"strings"

	"choreline/internal/domain"
)

const itemColumns = `id,group_id,assignee_id,assigned_by,title,COALESCE(description,''),reward,requires_image,requires_approval,due_date,completed_at,deleted_at,created_by,created_at`

func (r Repo) InsertWorkItem(ctx context.Context, tx *sql.Tx, item domain.WorkItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_items(id,group_id,assignee_id,assigned_by,title,description,reward,requires_image,requires_approval,due_date,completed_at,deleted_at,created_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		item.ID, item.GroupID, nullableStringPtr(item.AssigneeID), nullable(item.AssignedBy),
		item.Title, nullable(item.Description), item.Reward,
		boolToInt(item.RequiresImage), boolToInt(item.RequiresApproval),
		nullableStringPtr(item.DueDate), nullableStringPtr(item.CompletedAt), nullableStringPtr(item.DeletedAt),
		item.CreatedBy, item.CreatedAt)
	return err
}

func (r Repo) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id=?`, id)
	item, err := scanWorkItem(row.Scan)
	if err == sql.ErrNoRows {
		return item, ErrNotFound
	}
	return item, err
}

func (r Repo) ListWorkItemsByGroup(ctx context.Context, groupID string) ([]domain.WorkItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE group_id=? ORDER BY created_at DESC, id DESC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func scanWorkItem(scan func(dest ...any) error) (domain.WorkItem, error) {
	var item domain.WorkItem
	var assignee, assignedBy, due, completed, deleted sql.NullString
	var reqImage, reqApproval int
	err := scan(&item.ID, &item.GroupID, &assignee, &assignedBy, &item.Title, &item.Description, &item.Reward,
		&reqImage, &reqApproval, &due, &completed, &deleted, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return item, err
	}
	item.RequiresImage = reqImage != 0
	item.RequiresApproval = reqApproval != 0
	if assignee.Valid {
		item.AssigneeID = &assignee.String
	}
	if assignedBy.Valid {
		item.AssignedBy = assignedBy.String
	}
	if due.Valid {
		item.DueDate = &due.String
	}
	if completed.Valid {
		item.CompletedAt = &completed.String
	}
	if deleted.Valid {
		item.DeletedAt = &deleted.String
	}
	return item, nil
}

// SoftDeleteWorkItem stamps deleted_at without touching the row otherwise.
// Already-deleted items are left alone.
func (r Repo) SoftDeleteWorkItem(ctx context.Context, tx *sql.Tx, id, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE work_items SET deleted_at=? WHERE id=? AND deleted_at IS NULL`, now, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) CompleteWorkItem(ctx context.Context, id, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE work_items SET completed_at=? WHERE id=? AND deleted_at IS NULL`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) AttachItemTags(ctx context.Context, tx *sql.Tx, itemID string, tagNames []string) error {
	for _, name := range tagNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO work_item_tags(item_id,tag_name) VALUES (?,?)`, itemID, name); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) WorkItemTagNames(ctx context.Context, itemID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT tag_name FROM work_item_tags WHERE item_id=? ORDER BY tag_name ASC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
