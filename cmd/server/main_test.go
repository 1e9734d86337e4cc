package main

import (
	"testing"

	"tokosamanda/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatalf("expected short auth secret to be rejected")
	}
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", BootstrapAdminPassword: "admin"})
	if err == nil {
		t.Fatalf("expected short bootstrap password to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", BootstrapAdminPassword: "k4s1r-gudang"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
