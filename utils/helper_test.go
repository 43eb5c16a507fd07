package utils_test

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stampnote/loyalty_backend/utils"
)

func TestProcessValidationErrorsMapsFieldTags(t *testing.T) {
	type form struct {
		Name  string `validate:"required"`
		Email string `validate:"omitempty,email"`
	}

	err := validator.New().Struct(form{Email: "not-an-email"})
	if err == nil {
		t.Fatal("expected validation failure")
	}

	fields := utils.ProcessValidationErrors(err)
	if fields["Name"] != "required" {
		t.Fatalf("Name tag = %q, want required", fields["Name"])
	}
	if fields["Email"] != "email" {
		t.Fatalf("Email tag = %q, want email", fields["Email"])
	}
}

func TestProcessValidationErrorsIgnoresOtherErrors(t *testing.T) {
	if fields := utils.ProcessValidationErrors(errors.New("boom")); fields != nil {
		t.Fatalf("non-validator error produced fields %v", fields)
	}
}
