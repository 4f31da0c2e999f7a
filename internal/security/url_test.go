package security

import (
	"net/http"
	"strings"
	"testing"
)

func TestURLValidate(t *testing.T) {
	v := NewURL()

	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{name: "public https", url: "https://example.com/page"},
		{name: "public http with port", url: "http://example.com:8080/"},
		{name: "scheme ftp", url: "ftp://example.com/doc", wantErr: "scheme"},
		{name: "scheme missing", url: "example.com", wantErr: "scheme"},
		{name: "localhost", url: "http://localhost/admin", wantErr: "blocked host"},
		{name: "localhost case insensitive", url: "http://LOCALHOST/", wantErr: "blocked host"},
		{name: "gcp metadata hostname", url: "http://metadata.google.internal/computeMetadata", wantErr: "blocked host"},
		{name: "loopback ip", url: "http://127.0.0.1:8000/", wantErr: "loopback"},
		{name: "mapped loopback", url: "http://[::ffff:127.0.0.1]/", wantErr: "loopback"},
		{name: "private 10", url: "http://10.0.0.5/", wantErr: "private"},
		{name: "private 192.168", url: "http://192.168.1.1/router", wantErr: "private"},
		{name: "private 172.16", url: "http://172.16.0.1/", wantErr: "private"},
		{name: "metadata ip", url: "http://169.254.169.254/latest/meta-data/", wantErr: "link-local"},
		{name: "unspecified", url: "http://0.0.0.0/", wantErr: "unspecified"},
		{name: "hostname passes static check", url: "http://internal.corp/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.url)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate(%q) = %v, want nil", tt.url, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate(%q) = nil, want error containing %q", tt.url, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate(%q) = %v, want error containing %q", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestURLCheckRedirectLimit(t *testing.T) {
	v := NewURL()

	if err := v.CheckRedirect(nil, make([]*http.Request, 10)); err == nil {
		t.Fatal("expected error after 10 redirects")
	}
}
