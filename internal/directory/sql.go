package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"incidentdesk/internal/models"
)

// SQLDirectory reads participants from the admins, operators and technicians tables.
type SQLDirectory struct {
	db *sql.DB
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// FindByID dispatches on role to the matching table.
func (d *SQLDirectory) FindByID(ctx context.Context, role models.Role, id int64) (*models.Participant, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	p := &models.Participant{ID: id, Role: role}
	var err error
	switch role {
	case models.RoleAdmin:
		err = d.db.QueryRowContext(ctx,
			`SELECT first_name, last_name, email, phone FROM admins WHERE id = ?`, id,
		).Scan(&p.FirstName, &p.LastName, &p.Email, &p.Phone)
	case models.RoleTechnician:
		var available bool
		err = d.db.QueryRowContext(ctx,
			`SELECT first_name, last_name, email, phone, available, avatar FROM technicians WHERE id = ?`, id,
		).Scan(&p.FirstName, &p.LastName, &p.Email, &p.Phone, &available, &p.Avatar)
		p.Available = &available
	case models.RoleOperator:
		err = d.db.QueryRowContext(ctx,
			`SELECT name, email, phone, disabled FROM operators WHERE id = ?`, id,
		).Scan(&p.Name, &p.Email, &p.Phone, &p.Disabled)
	default:
		return nil, fmt.Errorf("lookup participant: unknown role %q", role)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup %s %d: %w", role, id, err)
	}
	if p.Name == "" {
		p.Name = p.DisplayName()
	}
	return p, nil
}

// Upsert inserts or replaces the participant row, keeping its id.
func (d *SQLDirectory) Upsert(ctx context.Context, p *models.Participant) error {
	if p == nil || p.ID <= 0 {
		return errors.New("participant id is required")
	}
	var (
		query string
		args  []interface{}
	)
	switch p.Role {
	case models.RoleAdmin:
		query = `INSERT INTO admins (id, first_name, last_name, email, phone) VALUES (?, ?, ?, ?, ?)`
		args = []interface{}{p.ID, p.FirstName, p.LastName, p.Email, p.Phone}
	case models.RoleTechnician:
		available := p.Available != nil && *p.Available
		query = `INSERT INTO technicians (id, first_name, last_name, email, phone, available, avatar) VALUES (?, ?, ?, ?, ?, ?, ?)`
		args = []interface{}{p.ID, p.FirstName, p.LastName, p.Email, p.Phone, available, p.Avatar}
	case models.RoleOperator:
		query = `INSERT INTO operators (id, name, email, phone, disabled) VALUES (?, ?, ?, ?, ?)`
		args = []interface{}{p.ID, strings.TrimSpace(p.Name), p.Email, p.Phone, p.Disabled}
	default:
		return fmt.Errorf("upsert participant: unknown role %q", p.Role)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+tableFor(p.Role)+` WHERE id = ?`, p.ID); err != nil {
		return fmt.Errorf("replace %s %d: %w", p.Role, p.ID, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s %d: %w", p.Role, p.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func tableFor(role models.Role) string {
	switch role {
	case models.RoleAdmin:
		return "admins"
	case models.RoleTechnician:
		return "technicians"
	default:
		return "operators"
	}
}
