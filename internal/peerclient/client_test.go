package peerclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validSig = "0x" + strings.Repeat("11", 64) + "01"

func TestRequestSignature_Opening(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, EndpointSignChannelOpening, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(SignatureResponse{Signature: validSig})
	}))
	defer srv.Close()

	sig, err := New(time.Second).RequestSignature(context.Background(), srv.URL+"/",
		SignChannelOpeningRequest{ChannelIndex: 3, ChannelID: 769658110572789761})
	require.NoError(t, err)
	assert.Equal(t, validSig, sig)

	assert.Equal(t, float64(3), got["channelIndex"])
	assert.Equal(t, "769658110572789761", got["channelId"])
}

func TestRequestSignature_Closing(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, EndpointSignChannelClosing, r.URL.Path)
		var req SignChannelClosingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "abcd", req.ClosingTxID)
		w.Write([]byte(`{"signature":"` + validSig + `"}`))
	}))
	defer srv.Close()

	_, err := New(time.Second).RequestSignature(context.Background(), srv.URL,
		SignChannelClosingRequest{ChannelIndex: 1, ClosingTxID: "abcd"})
	require.NoError(t, err)
}

func TestRequestSignature_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
		want error
	}{
		{"empty", `{"signature":""}`, 200, ErrEmptySignature},
		{"missing", `{}`, 200, ErrEmptySignature},
		{"short", `{"signature":"0x1234"}`, 200, nil},
		{"not json", `oops`, 200, nil},
		{"server error", `boom`, 500, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(time.Second).RequestSignature(context.Background(), srv.URL,
				SignChannelClosingRequest{ChannelIndex: 1, ClosingTxID: "ab"})
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestRequestSignature_StatusError(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Channel not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := New(time.Second).RequestSignature(context.Background(), srv.URL,
		SignChannelOpeningRequest{ChannelIndex: 1, ChannelID: 2})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Contains(t, se.Body, "Channel not found")
}

func TestRequestSignature_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	_, err := New(50*time.Millisecond).RequestSignature(context.Background(), srv.URL,
		SignChannelOpeningRequest{ChannelIndex: 1, ChannelID: 2})
	assert.Error(t, err)
}

func TestRequestSignature_InvalidPayload(t *testing.T) {
	_, err := New(time.Second).RequestSignature(context.Background(), "https://127.0.0.1:1", SignChannelOpeningRequest{})
	assert.Error(t, err)

	_, err = New(time.Second).RequestSignature(context.Background(), "https://127.0.0.1:1", SignChannelClosingRequest{ChannelIndex: 1})
	assert.Error(t, err)
}
