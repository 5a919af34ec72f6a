package main

import (
	"testing"

	"stockbook/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatalf("expected short auth secret to be rejected")
	}
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", LedgerMaxRetries: 500})
	if err == nil {
		t.Fatalf("expected unbounded retry budget to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", LedgerMaxRetries: 3})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
