package lightning

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEdgeUnknown(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("rpc error: code = Unknown desc = edge not found"), true},
		{errors.New("edge marked as zombie"), true},
		{fmt.Errorf("wrap: %w", ErrChannelUnknown), true},
		{errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsEdgeUnknown(tt.err), "%v", tt.err)
	}
}

func TestParseNodeURL(t *testing.T) {
	pub, host := ParseNodeURL("02abcdef@10.0.0.1:9735")
	assert.Equal(t, "02abcdef", pub)
	assert.Equal(t, "10.0.0.1:9735", host)

	pub, host = ParseNodeURL(" 02abcdef ")
	assert.Equal(t, "02abcdef", pub)
	assert.Empty(t, host)
}

func TestMacaroonCredential(t *testing.T) {
	md, err := macaroonCredential("0201").GetRequestMetadata(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "0201", md["macaroon"])
	assert.True(t, macaroonCredential("").RequireTransportSecurity())
}

func TestNewGRPCClient_MissingCert(t *testing.T) {
	_, err := NewGRPCClient(GRPCConfig{Host: "localhost:10009", TLSCertPath: "/nonexistent/tls.cert", MacaroonHex: "00"})
	assert.Error(t, err)
}
