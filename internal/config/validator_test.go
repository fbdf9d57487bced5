package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_UserId(t *testing.T) {
	v := NewValidator()
	type req struct {
		UserId string `validate:"omitempty,user_id"`
	}

	assert.NoError(t, v.Struct(req{UserId: "alice_01"}))
	assert.NoError(t, v.Struct(req{}))
	assert.Error(t, v.Struct(req{UserId: "a:b"}))
	assert.Error(t, v.Struct(req{UserId: "a b"}))
}
