package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/examalpha/examshell/internal/protocol"
	"github.com/examalpha/examshell/internal/store"
	"github.com/examalpha/examshell/internal/testutil"
	"github.com/examalpha/examshell/internal/validator"
)

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) Validate(ctx context.Context, base string) (validator.ValidateResponse, error) {
	args := m.Called(ctx, base)
	return args.Get(0).(validator.ValidateResponse), args.Error(1)
}

func (m *mockValidator) Password(ctx context.Context, base string) (string, error) {
	args := m.Called(ctx, base)
	return args.String(0), args.Error(1)
}

type serviceFixture struct {
	svc       *Service
	validator *mockValidator
	hub       *Hub
	settings  *store.Settings
	attempts  *store.ExitAttempts
	builder   *testutil.Builder
	clock     *testutil.FakeClock
}

func newServiceFixture(t *testing.T, audit bool) *serviceFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	f := &serviceFixture{
		validator: &mockValidator{},
		hub:       NewHub(),
		settings:  store.NewSettings(db),
		attempts:  store.NewExitAttempts(db),
		builder:   testutil.NewBuilder(t, db),
		clock:     testutil.NewFakeClock(),
	}
	t.Cleanup(f.hub.Close)
	cfg := ServiceConfig{
		Settings:  f.settings,
		Validator: f.validator,
		Events:    f.hub,
		Clock:     f.clock,
	}
	if audit {
		cfg.Attempts = f.attempts
	}
	f.svc = NewService(cfg)
	return f
}

func (f *serviceFixture) recent(t *testing.T) []store.ExitAttempt {
	t.Helper()
	out, err := f.attempts.Recent(context.Background(), 10)
	require.NoError(t, err)
	return out
}

func TestService_ServerURL(t *testing.T) {
	f := newServiceFixture(t, false)
	ctx := context.Background()

	got, err := f.svc.ServerURL(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	f.builder.WithServerURL("https://exam.example").Build()
	got, err = f.svc.ServerURL(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "https://exam.example", *got)
}

func TestService_SetServer_Success(t *testing.T) {
	f := newServiceFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := f.hub.Subscribe(ctx)

	f.validator.On("Validate", mock.Anything, "https://exam.example").
		Return(validator.ValidateResponse{Status: true, IPAddr: "https://admin.exam.example"}, nil).Once()

	require.NoError(t, f.svc.SetServer(ctx, "https://exam.example"))

	stored, err := f.settings.Get(ctx, store.KeyServerURL)
	require.NoError(t, err)
	require.Equal(t, "https://exam.example", stored)

	select {
	case ev := <-events:
		require.Equal(t, protocol.EventURL, ev.Payload.Name)
		require.JSONEq(t, `"https://admin.exam.example"`, string(ev.Payload.Data))
	case <-time.After(time.Second):
		t.Fatal("expected url event")
	}

	select {
	case <-f.svc.kick:
	default:
		t.Fatal("expected a password refresh to be requested")
	}
	f.validator.AssertExpectations(t)
}

func TestService_SetServer_Failures(t *testing.T) {
	tests := []struct {
		name    string
		resp    validator.ValidateResponse
		err     error
		wantMsg string
	}{
		{
			name:    "client error",
			err:     &validator.StatusError{StatusCode: 404},
			wantMsg: MsgRequestIncorrect,
		},
		{
			name:    "server error",
			err:     &validator.StatusError{StatusCode: 503},
			wantMsg: MsgSomethingWrong,
		},
		{
			name:    "network failure",
			err:     errors.New("dial tcp: connection refused"),
			wantMsg: "dial tcp: connection refused",
		},
		{
			name:    "relative redirect",
			resp:    validator.ValidateResponse{Status: true, IPAddr: "admin.exam.example"},
			wantMsg: "Invalid URL: relative URL without a base",
		},
		{
			name: "unparseable redirect",
			resp: validator.ValidateResponse{Status: true, IPAddr: "http://[::1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, false)
			ctx := context.Background()
			f.validator.On("Validate", mock.Anything, "https://exam.example").Return(tt.resp, tt.err).Once()

			err := f.svc.SetServer(ctx, "https://exam.example")

			var rejection *Rejection
			require.ErrorAs(t, err, &rejection)
			if tt.wantMsg != "" {
				require.Equal(t, tt.wantMsg, rejection.Message)
			} else {
				require.Contains(t, rejection.Message, "Invalid URL: ")
			}

			_, err = f.settings.Get(ctx, store.KeyServerURL)
			require.ErrorIs(t, err, store.ErrNotFound, "failed validation must not persist")
		})
	}
}

func TestService_ExitExam(t *testing.T) {
	f := newServiceFixture(t, true)
	f.builder.WithConfiguredHost("https://exam.example", "s3cret").Build()
	ctx := context.Background()

	ok, err := f.svc.ExitExam(ctx, "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.svc.ExitExam(ctx, "s3cret")
	require.NoError(t, err)
	require.True(t, ok)

	attempts := f.recent(t)
	require.Len(t, attempts, 2)
	require.Equal(t, store.OutcomeAuthorized, attempts[0].Outcome)
	require.Equal(t, store.OutcomeDenied, attempts[1].Outcome)
}

func TestService_ExitExam_NoPassword(t *testing.T) {
	f := newServiceFixture(t, true)

	ok, err := f.svc.ExitExam(context.Background(), "anything")
	require.False(t, ok)
	var rejection *Rejection
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, MsgNoPassword, rejection.Message)

	select {
	case <-f.svc.kick:
	default:
		t.Fatal("missing password should request a refresh")
	}

	attempts := f.recent(t)
	require.Len(t, attempts, 1)
	require.Equal(t, store.OutcomeError, attempts[0].Outcome)
	require.Equal(t, MsgNoPassword, attempts[0].Detail)
}

func TestService_ExitExam_AuditDisabled(t *testing.T) {
	f := newServiceFixture(t, false)
	f.builder.WithPassword("s3cret").Build()

	ok, err := f.svc.ExitExam(context.Background(), "s3cret")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, f.recent(t))
}

func TestService_RefreshPassword(t *testing.T) {
	f := newServiceFixture(t, false)
	ctx := context.Background()

	require.ErrorIs(t, f.svc.RefreshPassword(ctx), ErrNotConfigured)

	f.builder.WithConfiguredHost("https://exam.example", "old").Build()

	// Warm the cache with the old password.
	ok, err := f.svc.ExitExam(ctx, "old")
	require.NoError(t, err)
	require.True(t, ok)

	f.validator.On("Password", mock.Anything, "https://exam.example").Return("new", nil).Once()
	require.NoError(t, f.svc.RefreshPassword(ctx))

	stored, err := f.settings.Get(ctx, store.KeyPassword)
	require.NoError(t, err)
	require.Equal(t, "new", stored)

	ok, err = f.svc.ExitExam(ctx, "old")
	require.NoError(t, err)
	require.False(t, ok, "cache must follow the refreshed password")

	f.validator.On("Password", mock.Anything, "https://exam.example").Return("", errors.New("timeout")).Once()
	require.ErrorContains(t, f.svc.RefreshPassword(ctx), "querying password")
}

func TestService_RunRefresher(t *testing.T) {
	f := newServiceFixture(t, false)
	f.builder.WithServerURL("https://exam.example").Build()

	calls := make(chan struct{}, 8)
	f.validator.On("Password", mock.Anything, "https://exam.example").
		Run(func(mock.Arguments) { calls <- struct{}{} }).
		Return("pw", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunRefresher(ctx, time.Minute)
		close(done)
	}()

	waitCall := func(msg string) {
		t.Helper()
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatal(msg)
		}
	}

	waitCall("expected an initial refresh")

	<-f.clock.TimerCreated()
	f.clock.Advance(time.Minute)
	waitCall("expected a refresh after the interval")

	<-f.clock.TimerCreated()
	f.svc.RequestRefresh()
	waitCall("expected a refresh on request")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}
