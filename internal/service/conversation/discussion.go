package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"incidentdesk/internal/directory"
	"incidentdesk/internal/models"
	"incidentdesk/internal/storage"
)

const discussionColumns = `id, admin_id, counterpart_role, counterpart_id, status, last_message_at, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDiscussion(row rowScanner, d *models.Discussion) error {
	return row.Scan(&d.ID, &d.AdminID, &d.Counterpart.Role, &d.Counterpart.ID, &d.Status, &d.LastMessageAt, &d.CreatedAt)
}

// FindOrCreateDiscussion returns the discussion between adminID and counterpart,
// creating it when this is their first contact.
func (s *Service) FindOrCreateDiscussion(ctx context.Context, adminID int64, counterpart models.Ref) (*models.Discussion, error) {
	d, _, err := s.findOrCreate(ctx, s.db, adminID, counterpart)
	return d, err
}

func (s *Service) findOrCreate(ctx context.Context, q queryer, adminID int64, counterpart models.Ref) (*models.Discussion, bool, error) {
	if adminID <= 0 {
		return nil, false, fmt.Errorf("%w: admin id is required", ErrValidation)
	}
	if !counterpart.Role.IsCounterpart() || counterpart.ID <= 0 {
		return nil, false, fmt.Errorf("%w: counterpart must be an operator or a technician", ErrValidation)
	}

	d, err := s.findPair(ctx, q, adminID, counterpart)
	if err == nil {
		return d, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	d, err = s.insertDiscussion(ctx, q, adminID, counterpart)
	if err == nil {
		return d, true, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, false, err
	}

	// Another request created the pair between our read and our insert.
	s.log.Debug().Int64("admin_id", adminID).Stringer("counterpart", counterpart).Msg("discussion created concurrently, reusing")
	d, err = s.findPair(ctx, q, adminID, counterpart)
	if err != nil {
		return nil, false, fmt.Errorf("reload discussion after conflict: %w", err)
	}
	return d, false, nil
}

func (s *Service) findPair(ctx context.Context, q queryer, adminID int64, counterpart models.Ref) (*models.Discussion, error) {
	var d models.Discussion
	err := scanDiscussion(q.QueryRowContext(ctx,
		`SELECT `+discussionColumns+` FROM discussions WHERE admin_id = ? AND counterpart_role = ? AND counterpart_id = ?`,
		adminID, counterpart.Role, counterpart.ID,
	), &d)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find discussion: %w", err)
	}
	return &d, nil
}

func (s *Service) insertDiscussion(ctx context.Context, q queryer, adminID int64, counterpart models.Ref) (*models.Discussion, error) {
	now := s.now()
	res, err := q.ExecContext(ctx,
		`INSERT INTO discussions (admin_id, counterpart_role, counterpart_id, status, last_message_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		adminID, counterpart.Role, counterpart.ID, models.DiscussionActive, now, now,
	)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: discussion %d/%s already exists", ErrConflict, adminID, counterpart)
		}
		return nil, fmt.Errorf("create discussion: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("discussion id: %w", err)
	}
	return &models.Discussion{
		ID:            id,
		AdminID:       adminID,
		Counterpart:   counterpart,
		Status:        models.DiscussionActive,
		LastMessageAt: now,
		CreatedAt:     now,
	}, nil
}

// loadForCaller fetches a discussion and checks that caller takes part in it.
// A missing discussion is reported before any access decision.
func (s *Service) loadForCaller(ctx context.Context, caller models.Ref, discussionID int64) (*models.Discussion, error) {
	if !caller.Valid() {
		return nil, fmt.Errorf("%w: caller identity is required", ErrValidation)
	}
	if discussionID <= 0 {
		return nil, fmt.Errorf("%w: discussion %d", ErrNotFound, discussionID)
	}
	var d models.Discussion
	err := scanDiscussion(s.db.QueryRowContext(ctx,
		`SELECT `+discussionColumns+` FROM discussions WHERE id = ?`, discussionID,
	), &d)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: discussion %d", ErrNotFound, discussionID)
		}
		return nil, fmt.Errorf("get discussion: %w", err)
	}
	if !d.Involves(caller) {
		return nil, fmt.Errorf("%w: %s is not part of discussion %d", ErrForbidden, caller, discussionID)
	}
	return &d, nil
}

// ListDiscussions returns the caller's discussions of one family, most recently
// active first. Admins pick the family (operator or technician); operators and
// technicians always see their own.
func (s *Service) ListDiscussions(ctx context.Context, caller models.Ref, family models.Role, search string) ([]models.DiscussionSummary, error) {
	if !caller.Valid() {
		return nil, fmt.Errorf("%w: caller identity is required", ErrValidation)
	}

	var (
		where string
		args  = []interface{}{caller.Role, models.MessageDelivered}
	)
	if caller.Role == models.RoleAdmin {
		if !family.IsCounterpart() {
			return nil, fmt.Errorf("%w: discussion family must be operator or technician", ErrValidation)
		}
		where = `d.admin_id = ? AND d.counterpart_role = ?`
		args = append(args, caller.ID, family)
	} else {
		if family != "" && family != caller.Role {
			return nil, fmt.Errorf("%w: %s cannot list %s discussions", ErrValidation, caller.Role, family)
		}
		where = `d.counterpart_role = ? AND d.counterpart_id = ?`
		args = append(args, caller.Role, caller.ID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.admin_id, d.counterpart_role, d.counterpart_id, d.status, d.last_message_at, d.created_at,
			(SELECT COUNT(*) FROM messages m WHERE m.discussion_id = d.id AND m.sender_type <> ? AND m.status = ?)
		FROM discussions d
		WHERE `+where+`
		ORDER BY d.last_message_at DESC, d.id DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list discussions: %w", err)
	}
	type listed struct {
		d      models.Discussion
		unread int
	}
	var found []listed
	for rows.Next() {
		var l listed
		if err := rows.Scan(&l.d.ID, &l.d.AdminID, &l.d.Counterpart.Role, &l.d.Counterpart.ID, &l.d.Status,
			&l.d.LastMessageAt, &l.d.CreatedAt, &l.unread); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan discussion: %w", err)
		}
		found = append(found, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list discussions: %w", err)
	}
	rows.Close()

	term := strings.ToLower(strings.TrimSpace(search))
	summaries := make([]models.DiscussionSummary, 0, len(found))
	for _, l := range found {
		other, err := s.participant(ctx, l.d.OtherParty(caller))
		if err != nil {
			return nil, err
		}
		if term != "" && !strings.Contains(strings.ToLower(other.DisplayName()), term) {
			continue
		}
		last, err := s.lastMessage(ctx, l.d.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, models.DiscussionSummary{
			ID:            l.d.ID,
			Status:        l.d.Status,
			CreatedAt:     l.d.CreatedAt,
			LastMessageAt: l.d.LastMessageAt,
			Counterpart:   other,
			LastMessage:   last,
			UnreadCount:   l.unread,
		})
	}
	return summaries, nil
}

func (s *Service) lastMessage(ctx context.Context, discussionID int64) (*models.MessagePreview, error) {
	var m models.MessagePreview
	err := s.db.QueryRowContext(ctx,
		`SELECT id, content, created_at, sender_type FROM messages WHERE discussion_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		discussionID,
	).Scan(&m.ID, &m.Content, &m.CreatedAt, &m.SenderType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last message: %w", err)
	}
	return &m, nil
}

// GetDiscussion returns the discussion with the party facing caller and the
// number of that party's messages still marked delivered.
func (s *Service) GetDiscussion(ctx context.Context, caller models.Ref, discussionID int64) (*models.DiscussionDetail, error) {
	d, err := s.loadForCaller(ctx, caller, discussionID)
	if err != nil {
		return nil, err
	}
	unread, err := s.unreadCount(ctx, d.ID, caller.Role)
	if err != nil {
		return nil, err
	}
	other, err := s.participant(ctx, d.OtherParty(caller))
	if err != nil {
		return nil, err
	}
	return &models.DiscussionDetail{Discussion: *d, Counterpart: other, UnreadCount: unread}, nil
}

// unreadCount counts messages from the other side of viewer that are delivered but not read.
// Messages still in the sent state are not counted.
func (s *Service) unreadCount(ctx context.Context, discussionID int64, viewer models.Role) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE discussion_id = ? AND sender_type <> ? AND status = ?`,
		discussionID, viewer, models.MessageDelivered,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// participant resolves ref, falling back to a bare identity when the directory
// no longer knows it.
func (s *Service) participant(ctx context.Context, ref models.Ref) (*models.Participant, error) {
	return s.resolve(ctx, ref, nil)
}

// resolve is participant that also records directory hits in found.
func (s *Service) resolve(ctx context.Context, ref models.Ref, found map[models.Ref]*models.Participant) (*models.Participant, error) {
	p, err := s.dir.FindByID(ctx, ref.Role, ref.ID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return &models.Participant{ID: ref.ID, Role: ref.Role}, nil
		}
		return nil, fmt.Errorf("lookup %s: %w", ref, err)
	}
	if found != nil {
		found[ref] = p
	}
	return p, nil
}
