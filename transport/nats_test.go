package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gadgetmesh/errors"
)

func TestNewNATSConnValidatesArguments(t *testing.T) {
	cases := []struct {
		name string
		out  string
		in   string
	}{
		{"nil connection", "mesh.out", "mesh.in"},
		{"empty out subject", "", "mesh.in"},
		{"empty in subject", "mesh.out", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewNATSConn(nil, tc.out, tc.in)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}
