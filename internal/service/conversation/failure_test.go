package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang/mock/gomock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incidentdesk/internal/directory"
	"incidentdesk/internal/directory/mocks"
	"incidentdesk/internal/models"
)

var discussionCols = []string{"id", "admin_id", "counterpart_role", "counterpart_id", "status", "last_message_at", "created_at"}

func knownParticipants(ctrl *gomock.Controller) *mocks.MockDirectory {
	dir := mocks.NewMockDirectory(ctrl)
	dir.EXPECT().FindByID(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, role models.Role, id int64) (*models.Participant, error) {
			return &models.Participant{ID: id, Role: role, Name: "p"}, nil
		}).AnyTimes()
	return dir
}

func TestSendMessageRecoversFromCreateConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fixed := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	svc := NewService(db, knownParticipants(gomock.NewController(t)), WithClock(func() time.Time { return fixed }))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM discussions WHERE admin_id = \?`).
		WithArgs(int64(1), "technician", int64(7)).
		WillReturnRows(sqlmock.NewRows(discussionCols))
	mock.ExpectExec(`INSERT INTO discussions`).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})
	mock.ExpectQuery(`SELECT .* FROM discussions WHERE admin_id = \?`).
		WithArgs(int64(1), "technician", int64(7)).
		WillReturnRows(sqlmock.NewRows(discussionCols).AddRow(42, 1, "technician", 7, "active", fixed, fixed))
	mock.ExpectExec(`INSERT INTO messages`).
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec(`UPDATE discussions SET last_message_at = \?`).
		WithArgs(fixed, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := svc.SendMessage(context.Background(), SendRequest{
		Sender:        models.Ref{Role: models.RoleAdmin, ID: 1},
		RecipientID:   7,
		RecipientRole: models.RoleTechnician,
		Content:       "Bonjour",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Discussion.ID)
	assert.False(t, res.Created)
	assert.Equal(t, int64(5), res.Message.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendMessageRollsBackWhenTouchFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fixed := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	svc := NewService(db, knownParticipants(gomock.NewController(t)), WithClock(func() time.Time { return fixed }))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM discussions WHERE admin_id = \?`).
		WillReturnRows(sqlmock.NewRows(discussionCols).AddRow(9, 1, "operator", 3, "active", fixed, fixed))
	mock.ExpectExec(`INSERT INTO messages`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE discussions SET last_message_at = \?`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = svc.SendMessage(context.Background(), SendRequest{
		Sender:      models.Ref{Role: models.RoleOperator, ID: 3},
		RecipientID: 1,
		Content:     "Incident 12",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "touch discussion")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendMessageDirectoryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	dir.EXPECT().FindByID(gomock.Any(), models.RoleTechnician, int64(7)).
		Return(nil, errors.New("directory unavailable"))

	svc := NewService(db, dir)
	_, err = svc.SendMessage(context.Background(), SendRequest{
		Sender:        models.Ref{Role: models.RoleAdmin, ID: 1},
		RecipientID:   7,
		RecipientRole: models.RoleTechnician,
		Content:       "Bonjour",
	})
	require.Error(t, err)
	for _, sentinel := range []error{ErrValidation, ErrNotFound, ErrForbidden, ErrConflict} {
		assert.NotErrorIs(t, err, sentinel)
	}
	// Nothing reached the database.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDiscussionFallsBackForUnknownCounterpart(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fixed := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	dir.EXPECT().FindByID(gomock.Any(), models.RoleTechnician, int64(7)).Return(nil, directory.ErrNotFound)

	svc := NewService(db, dir)
	mock.ExpectQuery(`SELECT .* FROM discussions WHERE id = \?`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(discussionCols).AddRow(4, 1, "technician", 7, "active", fixed, fixed))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM messages`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	detail, err := svc.GetDiscussion(context.Background(), models.Ref{Role: models.RoleAdmin, ID: 1}, 4)
	require.NoError(t, err)
	assert.Equal(t, models.Ref{Role: models.RoleTechnician, ID: 7}, detail.Counterpart.Ref())
	assert.Empty(t, detail.Counterpart.DisplayName())
	assert.NoError(t, mock.ExpectationsWereMet())
}
