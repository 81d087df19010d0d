package brokererr

import (
	"errors"
	"testing"
)

func TestErrorsIsMatchesSentinelAcrossWrapping(t *testing.T) {
	err := AuthenticationFailed("Authentication failed")
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Error("expected errors.Is to match the authentication-failed sentinel")
	}
	if errors.Is(err, ErrPermissionDenied) {
		t.Error("an authentication-failed error must not match the permission-denied sentinel")
	}
}

func TestNewfCarriesDebugDetailButNotInPublicMessage(t *testing.T) {
	err := Newf(KindInternalFailure, "could not continue authentication", "helper wrote %d bytes", 42)
	if err.PublicMessage != "could not continue authentication" {
		t.Errorf("PublicMessage = %q, want the generic message unchanged", err.PublicMessage)
	}
	if err.DebugDetail == "" {
		t.Error("expected DebugDetail to be populated")
	}
}

func TestEachConstructorSetsExpectedKind(t *testing.T) {
	cases := []struct {
		name string
		err  *AuthError
		want Kind
	}{
		{"AuthenticationFailed", AuthenticationFailed("x"), KindAuthenticationFailed},
		{"PermissionDenied", PermissionDenied("x"), KindPermissionDenied},
		{"InvalidData", InvalidData("x"), KindInvalidData},
		{"InternalFailure", InternalFailure("x"), KindInternalFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Kind != tc.want {
				t.Errorf("Kind = %v, want %v", tc.err.Kind, tc.want)
			}
		})
	}
}

func TestErrNeedsPromptIsDistinctFromFailureSentinels(t *testing.T) {
	if errors.Is(ErrNeedsPrompt, ErrAuthenticationFailed) {
		t.Error("ErrNeedsPrompt must not match any failure sentinel")
	}
}

func TestErrThrottledIsInternalFailure(t *testing.T) {
	if !errors.Is(ErrThrottled, ErrInternalFailure) {
		t.Error("ErrThrottled must unwrap to the internal-failure sentinel")
	}
}
