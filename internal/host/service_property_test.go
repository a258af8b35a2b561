package host

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/examalpha/examshell/internal/store"
	"github.com/examalpha/examshell/internal/validator"
)

// stubValidator accepts every address on the .good domain.
type stubValidator struct{}

func (stubValidator) Validate(_ context.Context, base string) (validator.ValidateResponse, error) {
	if strings.HasSuffix(base, ".good") {
		return validator.ValidateResponse{Status: true, IPAddr: "https://admin" + base[len("https://"):]}, nil
	}
	return validator.ValidateResponse{}, &validator.StatusError{StatusCode: 404}
}

func (stubValidator) Password(context.Context, string) (string, error) {
	return "", errors.New("unused")
}

func TestService_LastAcceptedAddressWins(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		db, err := store.NewDB(":memory:")
		require.NoError(rt, err)
		defer func() { _ = db.Close() }()

		hub := NewHub()
		defer hub.Close()
		svc := NewService(ServiceConfig{
			Settings:  store.NewSettings(db),
			Validator: stubValidator{},
			Events:    hub,
		})
		ctx := context.Background()

		var want *string
		addrs := rapid.SliceOf(rapid.SampledFrom([]string{
			"https://a.good", "https://b.good", "https://c.bad", "https://d.bad",
		})).Draw(rt, "addrs")
		for _, addr := range addrs {
			if svc.SetServer(ctx, addr) == nil {
				a := addr
				want = &a
			}
		}

		got, err := svc.ServerURL(ctx)
		require.NoError(rt, err)
		require.Equal(rt, want, got)
	})
}
