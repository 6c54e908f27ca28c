package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"incidentdesk/internal/directory"
	"incidentdesk/internal/models"
)

// SendRequest carries one outgoing message. RecipientRole may be left empty
// by operators and technicians, whose only possible recipient is an admin.
type SendRequest struct {
	Sender        models.Ref
	RecipientID   int64
	RecipientRole models.Role
	Content       string
}

type SendResult struct {
	Message    models.Message
	Discussion models.Discussion
	// Created is set when this message opened the discussion.
	Created bool
}

func (r SendRequest) recipient() (models.Ref, error) {
	role := r.RecipientRole
	if r.Sender.Role == models.RoleAdmin {
		if !role.IsCounterpart() {
			return models.Ref{}, fmt.Errorf("%w: admins write to operators or technicians", ErrValidation)
		}
	} else {
		if role == "" {
			role = models.RoleAdmin
		}
		if role != models.RoleAdmin {
			return models.Ref{}, fmt.Errorf("%w: %s can only write to an admin", ErrValidation, r.Sender.Role)
		}
	}
	return models.Ref{Role: role, ID: r.RecipientID}, nil
}

// SendMessage stores a message, creating the discussion on first contact.
// The discussion, the message and the activity timestamp are written in one transaction.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content cannot be empty", ErrValidation)
	}
	if !req.Sender.Valid() {
		return nil, fmt.Errorf("%w: sender identity is required", ErrValidation)
	}
	if req.RecipientID <= 0 {
		return nil, fmt.Errorf("%w: recipient_id is required", ErrValidation)
	}
	recipient, err := req.recipient()
	if err != nil {
		return nil, err
	}
	if err := s.mustExist(ctx, recipient, "recipient"); err != nil {
		return nil, err
	}
	if err := s.mustExist(ctx, req.Sender, "sender"); err != nil {
		return nil, err
	}

	adminID, counterpart := req.Sender.ID, recipient
	if req.Sender.Role != models.RoleAdmin {
		adminID, counterpart = recipient.ID, req.Sender
	}

	tx, err := s.db.BeginTx(ctx, s.txOpts)
	if err != nil {
		return nil, fmt.Errorf("begin send: %w", err)
	}
	defer tx.Rollback()

	d, created, err := s.findOrCreate(ctx, tx, adminID, counterpart)
	if err != nil {
		return nil, err
	}

	now := s.now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (discussion_id, content, sender_type, sender_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, req.Content, req.Sender.Role, req.Sender.ID, models.MessageSent, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE discussions SET last_message_at = ? WHERE id = ?`, now, d.ID,
	); err != nil {
		return nil, fmt.Errorf("touch discussion: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit send: %w", err)
	}
	d.LastMessageAt = now

	s.log.Debug().Int64("discussion_id", d.ID).Int64("message_id", id).Stringer("sender", req.Sender).Bool("created", created).Msg("message stored")
	return &SendResult{
		Message: models.Message{
			ID:           id,
			DiscussionID: d.ID,
			Content:      req.Content,
			SenderType:   req.Sender.Role,
			SenderID:     req.Sender.ID,
			Status:       models.MessageSent,
			CreatedAt:    now,
		},
		Discussion: *d,
		Created:    created,
	}, nil
}

func (s *Service) mustExist(ctx context.Context, ref models.Ref, what string) error {
	if _, err := s.dir.FindByID(ctx, ref.Role, ref.ID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return fmt.Errorf("%w: %s %s", ErrNotFound, what, ref)
		}
		return fmt.Errorf("lookup %s: %w", what, err)
	}
	return nil
}

// ListMessages returns the discussion history, oldest first. With markRead the
// other party's delivered messages become read once they have been fetched;
// the returned statuses are those seen before marking.
func (s *Service) ListMessages(ctx context.Context, caller models.Ref, discussionID int64, markRead bool) (*models.Thread, error) {
	d, err := s.loadForCaller(ctx, caller, discussionID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, discussion_id, content, sender_type, sender_id, status, created_at
		FROM messages WHERE discussion_id = ? ORDER BY created_at ASC, id ASC`,
		d.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	messages := make([]models.ThreadMessage, 0)
	for rows.Next() {
		var m models.ThreadMessage
		if err := rows.Scan(&m.ID, &m.DiscussionID, &m.Content, &m.SenderType, &m.SenderID, &m.Status, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list messages: %w", err)
	}
	rows.Close()

	known := make(map[models.Ref]*models.Participant, 2)
	admin, err := s.resolve(ctx, d.Admin(), known)
	if err != nil {
		return nil, err
	}
	member, err := s.resolve(ctx, d.Counterpart, known)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if p, ok := known[messages[i].SenderRef()]; ok {
			messages[i].Sender = &models.SenderInfo{ID: p.ID, Name: p.DisplayName(), Role: p.Role}
		}
	}

	if markRead {
		n, err := s.advance(ctx, d.ID, caller.Role, models.MessageDelivered, models.MessageRead)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			s.log.Debug().Int64("discussion_id", d.ID).Int64("count", n).Msg("messages marked read")
		}
	}

	return &models.Thread{Discussion: *d, Admin: admin, Member: member, Messages: messages}, nil
}

// MarkDelivered moves the other party's sent messages to delivered and
// returns how many changed.
func (s *Service) MarkDelivered(ctx context.Context, caller models.Ref, discussionID int64) (int64, error) {
	d, err := s.loadForCaller(ctx, caller, discussionID)
	if err != nil {
		return 0, err
	}
	return s.advance(ctx, d.ID, caller.Role, models.MessageSent, models.MessageDelivered)
}

func (s *Service) advance(ctx context.Context, discussionID int64, viewer models.Role, from, to models.MessageStatus) (int64, error) {
	if !from.CanAdvanceTo(to) {
		return 0, fmt.Errorf("%w: cannot move messages from %s to %s", ErrValidation, from, to)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, updated_at = ? WHERE discussion_id = ? AND sender_type <> ? AND status = ?`,
		to, s.now(), discussionID, viewer, from,
	)
	if err != nil {
		return 0, fmt.Errorf("mark %s: %w", to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark %s: %w", to, err)
	}
	return n, nil
}
