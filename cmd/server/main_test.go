package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linnemanlabs/aware/internal/postgres"
)

func TestNotifySystemd_Errors(t *testing.T) {
	tests := []struct {
		name   string
		socket func(t *testing.T) string
		want   string
	}{
		{
			name:   "no socket",
			socket: func(*testing.T) string { return "" },
			want:   "NOTIFY_SOCKET not set",
		},
		{
			name: "missing path",
			socket: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "nonexistent.sock")
			},
			want: "dial failed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("NOTIFY_SOCKET", tc.socket(t))

			err := notifySystemd()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want substring %q", err, tc.want)
			}
		})
	}
}

func TestNotifySystemd_SendsReady(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func TestDBContext_AttachesRequestStats(t *testing.T) {
	t.Parallel()

	var sawStats bool
	h := dbContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawStats = postgres.RunDBStatsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if !sawStats {
		t.Error("request context should carry db stats")
	}
}
