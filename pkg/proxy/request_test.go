package proxy

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseChatRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "valid full request",
			body: `{"thread_id":"t1","content":"hello","provider":"ollama","model":"llama-3"}`,
		},
		{
			name: "valid without thread",
			body: `{"content":"hello","model":"llama-3"}`,
		},
		{
			name:    "missing content",
			body:    `{"thread_id":"t1","model":"llama-3"}`,
			wantErr: true,
		},
		{
			name:    "missing model",
			body:    `{"content":"hello"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			body:    `{"content":`,
			wantErr: true,
		},
		{
			name:    "empty body",
			body:    ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/chat", strings.NewReader(tt.body))
			req, err := ParseChatRequest(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseChatRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && req.Content == "" {
				t.Error("Parsed request lost content")
			}
		})
	}
}

func TestParseChatRequest_OversizedBody(t *testing.T) {
	huge := bytes.Repeat([]byte("a"), MaxRequestBodySize+1)
	r := httptest.NewRequest("POST", "/v1/chat", bytes.NewReader(huge))

	if _, err := ParseChatRequest(r); err == nil {
		t.Error("Expected error for oversized body")
	}
}

func TestParseCancelRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"request_id":"r1","subscriber_id":"s1"}`, false},
		{"missing request id", `{"subscriber_id":"s1"}`, true},
		{"missing subscriber id", `{"request_id":"r1"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/cancel", strings.NewReader(tt.body))
			_, err := ParseCancelRequest(r)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCancelRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
