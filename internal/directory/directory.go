// Package directory resolves participants of the back office by role and id.
package directory

import (
	"context"
	"errors"

	"incidentdesk/internal/models"
)

//go:generate mockgen -destination=mocks/mock_directory.go -package=mocks incidentdesk/internal/directory Directory

// ErrNotFound is returned when no participant exists for the role and id.
var ErrNotFound = errors.New("participant not found")

// Directory looks up display identities.
type Directory interface {
	FindByID(ctx context.Context, role models.Role, id int64) (*models.Participant, error)
}
