package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/infra/memory"
	"github.com/boddenberg/finance-tracker-api/internal/service"
)

func newAuthService(secret string) *service.AuthService {
	return service.NewAuthService(memory.NewStore(), secret, time.Hour, uuid.NewString, zap.NewNop()).
		WithHashCost(bcrypt.MinCost)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newAuthService("secret")
	ctx := context.Background()

	reg, err := svc.Register(ctx, &domain.RegisterRequest{Name: "Ana", Email: " Ana@Example.com ", Password: "segredo"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.Token == "" || reg.ExpiresIn != 3600 || reg.User.Email != "ana@example.com" {
		t.Errorf("unexpected register response %+v", reg)
	}

	login, err := svc.Login(ctx, &domain.LoginRequest{Email: "ana@example.com", Password: "segredo"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.ValidateAccessToken(login.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != reg.User.ID || claims.Email != "ana@example.com" {
		t.Errorf("unexpected claims %+v", claims)
	}

	me, err := svc.Me(ctx, claims.Subject)
	if err != nil || me.Name != "Ana" {
		t.Errorf("me: %+v (%v)", me, err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := newAuthService("secret")
	ctx := context.Background()
	if _, err := svc.Register(ctx, &domain.RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "segredo"}); err != nil {
		t.Fatal(err)
	}

	for _, req := range []*domain.LoginRequest{
		{Email: "ana@example.com", Password: "errada"},
		{Email: "ghost@example.com", Password: "segredo"},
	} {
		_, err := svc.Login(ctx, req)
		var unauthorized *domain.ErrUnauthorized
		if !errors.As(err, &unauthorized) {
			t.Errorf("%s: expected unauthorized, got %v", req.Email, err)
		}
	}
}

func TestRegister_Rejections(t *testing.T) {
	svc := newAuthService("secret")
	ctx := context.Background()
	if _, err := svc.Register(ctx, &domain.RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "segredo"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		req   domain.RegisterRequest
		field string
	}{
		{"missing name", domain.RegisterRequest{Email: "b@example.com", Password: "segredo"}, "name"},
		{"bad email", domain.RegisterRequest{Name: "B", Email: "not-an-email", Password: "segredo"}, "email"},
		{"short password", domain.RegisterRequest{Name: "B", Email: "b@example.com", Password: "123"}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, &tt.req)
			var validation *domain.ErrValidation
			if !errors.As(err, &validation) || validation.Field != tt.field {
				t.Errorf("expected validation on %s, got %v", tt.field, err)
			}
		})
	}

	_, err := svc.Register(ctx, &domain.RegisterRequest{Name: "Outra", Email: "ANA@example.com", Password: "segredo"})
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Errorf("expected duplicate e-mail conflict, got %v", err)
	}
}

func TestValidateAccessToken_Rejects(t *testing.T) {
	svc := newAuthService("secret")
	other := newAuthService("other-secret")
	ctx := context.Background()

	resp, err := other.Register(ctx, &domain.RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "segredo"})
	if err != nil {
		t.Fatal(err)
	}

	for name, token := range map[string]string{
		"wrong secret": resp.Token,
		"garbage":      "not.a.token",
		"truncated":    resp.Token[:strings.LastIndex(resp.Token, ".")],
	} {
		if _, err := svc.ValidateAccessToken(token); err == nil {
			t.Errorf("%s: expected rejection", name)
		}
	}
}
