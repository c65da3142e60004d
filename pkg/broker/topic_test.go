package broker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medtrack/medtrack-backend/pkg/broker"
)

func TestMatchRoutingKey(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"student.*", "student.created", true},
		{"student.*", "student.updated", true},
		{"student.*", "encadrant.created", false},
		{"student.*", "student", false},
		{"student.*", "student.profile.updated", false},
		{"student.#", "student", true},
		{"student.#", "student.profile.updated", true},
		{"#", "anything.at.all", true},
		{"#.created", "offer.created", true},
		{"#.created", "core.offer.created", true},
		{"#.created", "offer.published", false},
		{"*.created", "offer.created", true},
		{"core.offer.*", "core.offer.published", true},
		{"core.offer.*", "offer.published", false},
		{"application.accepted", "application.accepted", true},
		{"application.accepted", "application.rejected", false},
		{"*.*", "a.b", true},
		{"a.#.z", "a.z", true},
		{"a.#.z", "a.b.c.z", true},
		{"a.#.z", "a.b.c", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, broker.MatchRoutingKey(tc.pattern, tc.key), "%s vs %s", tc.pattern, tc.key)
	}
}

func TestValidatePattern(t *testing.T) {
	for _, ok := range []string{"student.*", "#", "offer.#", "application.accepted", "core.offer.*"} {
		assert.NoError(t, broker.ValidatePattern(ok), ok)
	}
	for _, bad := range []string{"", " ", "student*", "student..created", "student.*x", "a b"} {
		assert.Error(t, broker.ValidatePattern(bad), bad)
	}
}
