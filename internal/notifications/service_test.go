package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medtrack/medtrack-backend/pkg/db/dbtest"
	"github.com/medtrack/medtrack-backend/pkg/db/models"
	"github.com/medtrack/medtrack-backend/pkg/enums"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
	"github.com/medtrack/medtrack-backend/pkg/events"
	"github.com/medtrack/medtrack-backend/pkg/events/eventstest"
	"github.com/medtrack/medtrack-backend/pkg/logger"
	"github.com/medtrack/medtrack-backend/pkg/serviceclient"
)

type stubProfiles struct {
	result serviceclient.Result[serviceclient.Student]
	calls  int
}

func (s *stubProfiles) Student(context.Context, uuid.UUID) serviceclient.Result[serviceclient.Student] {
	s.calls++
	return s.result
}

type pushed struct {
	userID  uuid.UUID
	message PushMessage
}

type recordingPusher struct {
	mu     sync.Mutex
	pushed []pushed
	err    error
}

func (p *recordingPusher) Push(_ context.Context, userID uuid.UUID, message PushMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.pushed = append(p.pushed, pushed{userID: userID, message: message})
	return nil
}

type fixture struct {
	svc      *Service
	router   *events.Router
	profiles *stubProfiles
	pusher   *recordingPusher
	rows     func() []models.Notification
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	client := dbtest.Open(t, &models.Notification{})
	profiles := &stubProfiles{result: serviceclient.NotFound[serviceclient.Student]()}
	pusher := &recordingPusher{}

	svc, err := NewService(NewRepository(client.DB()), profiles, pusher, logger.Nop())
	require.NoError(t, err)
	router, err := events.NewRouter(logger.Nop())
	require.NoError(t, err)
	require.NoError(t, svc.Register(router))

	return fixture{
		svc:      svc,
		router:   router,
		profiles: profiles,
		pusher:   pusher,
		rows: func() []models.Notification {
			var rows []models.Notification
			require.NoError(t, client.DB().Order("created_at").Find(&rows).Error)
			return rows
		},
	}
}

func TestStudentCreatedIsStoredAndPushed(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	env := eventstest.Envelope(enums.EventStudentCreated, events.StudentCreatedEvent{
		StudentID: uuid.New(),
		UserID:    userID,
		FirstName: "Yassine",
		LastName:  "Alaoui",
	})

	require.NoError(t, f.router.Route(context.Background(), env))
	require.NoError(t, f.router.Route(context.Background(), env))

	rows := f.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, enums.NotificationStatusSent, rows[0].Status)
	assert.Equal(t, 1, rows[0].Attempts)
	assert.NotNil(t, rows[0].SentAt)
	require.NotNil(t, rows[0].UserID)
	assert.Equal(t, userID, *rows[0].UserID)

	var metadata map[string]string
	require.NoError(t, json.Unmarshal(rows[0].Metadata, &metadata))
	assert.Equal(t, env.EventID, metadata["event_id"])

	require.Len(t, f.pusher.pushed, 1)
	assert.Equal(t, userID, f.pusher.pushed[0].userID)
	assert.Equal(t, "notification_created", f.pusher.pushed[0].message.Type)
	assert.Equal(t, rows[0].ID, f.pusher.pushed[0].message.Data.ID)
	assert.Equal(t, "system", f.pusher.pushed[0].message.Data.Type)
}

func TestApplicationAcceptedResolvesStudentUser(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	studentID := uuid.New()
	f.profiles.result = serviceclient.Found(serviceclient.Student{ID: studentID, UserID: userID})

	env := eventstest.Envelope(enums.EventApplicationAccepted, events.ApplicationEvent{
		ApplicationID: uuid.New(),
		StudentID:     studentID,
		OfferID:       uuid.New(),
		OfferTitle:    "Emergency medicine",
	})
	require.NoError(t, f.router.Route(context.Background(), env))

	rows := f.rows()
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].UserID)
	assert.Equal(t, userID, *rows[0].UserID)
	assert.False(t, rows[0].Degraded)
	assert.Equal(t, "Congratulations! Your application for 'Emergency medicine' has been accepted!", rows[0].Content)
	require.Len(t, f.pusher.pushed, 1)
}

func TestUnresolvedStudentDegradesThenRecovers(t *testing.T) {
	f := newFixture(t)
	studentID := uuid.New()
	f.profiles.result = serviceclient.Unavailable[serviceclient.Student](errors.New("profile service down"))

	env := eventstest.Envelope(enums.EventAffectationCreated, events.AffectationEvent{
		AffectationID: uuid.New(),
		StudentID:     studentID,
		OfferID:       uuid.New(),
	})
	require.NoError(t, f.router.Route(context.Background(), env))

	rows := f.rows()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Degraded)
	assert.Nil(t, rows[0].UserID)
	assert.Equal(t, enums.NotificationStatusPending, rows[0].Status)
	assert.Empty(t, f.pusher.pushed)

	userID := uuid.New()
	f.profiles.result = serviceclient.Found(serviceclient.Student{ID: studentID, UserID: userID})
	require.NoError(t, f.router.Route(context.Background(), env))

	rows = f.rows()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Degraded)
	require.NotNil(t, rows[0].UserID)
	assert.Equal(t, userID, *rows[0].UserID)
	assert.Equal(t, enums.NotificationStatusSent, rows[0].Status)
	require.Len(t, f.pusher.pushed, 1)
}

func TestPushFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.pusher.err = errors.New("redis unavailable")
	env := eventstest.Envelope(enums.EventEncadrantCreated, events.EncadrantCreatedEvent{
		EncadrantID: uuid.New(),
		UserID:      uuid.New(),
		LastName:    "Haddad",
	})

	err := f.router.Route(context.Background(), env)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.False(t, events.IsNonRetryable(err))

	rows := f.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, enums.NotificationStatusFailed, rows[0].Status)
	assert.Equal(t, 1, rows[0].Attempts)
	require.NotNil(t, rows[0].LastError)
	assert.Contains(t, *rows[0].LastError, "redis unavailable")

	f.pusher.err = nil
	require.NoError(t, f.router.Route(context.Background(), env))

	rows = f.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, enums.NotificationStatusSent, rows[0].Status)
	assert.Equal(t, 2, rows[0].Attempts)
	assert.Nil(t, rows[0].LastError)
	assert.Equal(t, "Hello Dr. Haddad! Your encadrant profile has been created. You can now supervise students during their internships.", rows[0].Content)
}

func TestOfferPublishedIsBroadcast(t *testing.T) {
	f := newFixture(t)
	env := eventstest.Envelope(enums.EventOfferPublished, events.OfferEvent{OfferID: uuid.New(), Title: "Radiology"})

	require.NoError(t, f.router.Route(context.Background(), env))

	rows := f.rows()
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].UserID)
	assert.Equal(t, enums.NotificationStatusSent, rows[0].Status)
	assert.Empty(t, f.pusher.pushed)
	assert.Zero(t, f.profiles.calls)
}

func TestOfferCreatedWithoutCreatorStoresNothing(t *testing.T) {
	f := newFixture(t)
	env := eventstest.Envelope(enums.EventOfferCreated, events.OfferEvent{OfferID: uuid.New(), Title: "Radiology"})

	require.NoError(t, f.router.Route(context.Background(), env))
	assert.Empty(t, f.rows())
}

func TestUnhandledTypesAreUnsupported(t *testing.T) {
	f := newFixture(t)
	env := eventstest.Envelope(enums.EventStudentUpdated, events.StudentUpdatedEvent{StudentID: uuid.New()})

	err := f.router.Route(context.Background(), env)
	assert.ErrorIs(t, err, events.ErrUnsupportedEventType)
	assert.Empty(t, f.rows())
}

func TestInvalidPayloadIsNonRetryable(t *testing.T) {
	f := newFixture(t)
	env := eventstest.Envelope(enums.EventApplicationSubmitted, map[string]string{"offer_id": uuid.NewString()})

	err := f.router.Route(context.Background(), env)
	require.Error(t, err)
	assert.True(t, events.IsNonRetryable(err))
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(nil, &stubProfiles{}, &recordingPusher{}, logger.Nop())
	assert.Error(t, err)
	_, err = NewService(NewRepository(nil), nil, &recordingPusher{}, logger.Nop())
	assert.Error(t, err)
	_, err = NewService(NewRepository(nil), &stubProfiles{}, nil, logger.Nop())
	assert.Error(t, err)
}

func TestRetryStuckDeliversRecoveredRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	studentID := uuid.New()
	degraded := eventstest.Envelope(enums.EventApplicationRejected, events.ApplicationEvent{
		ApplicationID: uuid.New(),
		StudentID:     studentID,
		OfferID:       uuid.New(),
	})
	require.NoError(t, f.router.Route(ctx, degraded))

	f.pusher.err = errors.New("redis unavailable")
	failed := eventstest.Envelope(enums.EventStudentCreated, events.StudentCreatedEvent{StudentID: uuid.New(), UserID: uuid.New()})
	require.Error(t, f.router.Route(ctx, failed))

	offer := eventstest.Envelope(enums.EventOfferPublished, events.OfferEvent{OfferID: uuid.New(), Title: "Surgery"})
	require.NoError(t, f.router.Route(ctx, offer))

	f.pusher.err = nil
	userID := uuid.New()
	f.profiles.result = serviceclient.Found(serviceclient.Student{ID: studentID, UserID: userID})

	delivered, err := f.svc.RetryStuck(ctx, time.Now().Add(time.Minute), 5, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	for _, row := range f.rows() {
		assert.Equal(t, enums.NotificationStatusSent, row.Status, row.Title)
	}
	require.Len(t, f.pusher.pushed, 2)
}

func TestRetryStuckSkipsExhaustedAndUnresolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pusher.err = errors.New("redis unavailable")
	failed := eventstest.Envelope(enums.EventStudentCreated, events.StudentCreatedEvent{StudentID: uuid.New(), UserID: uuid.New()})
	require.Error(t, f.router.Route(ctx, failed))

	unresolved := eventstest.Envelope(enums.EventAffectationDeleted, events.AffectationEvent{
		AffectationID: uuid.New(),
		StudentID:     uuid.New(),
		OfferID:       uuid.New(),
	})
	require.NoError(t, f.router.Route(ctx, unresolved))

	delivered, err := f.svc.RetryStuck(ctx, time.Now().Add(time.Minute), 1, 10)
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Empty(t, f.pusher.pushed)

	f.pusher.err = errors.New("still down")
	delivered, err = f.svc.RetryStuck(ctx, time.Now().Add(time.Minute), 5, 10)
	require.Error(t, err)
	assert.Zero(t, delivered)
}
