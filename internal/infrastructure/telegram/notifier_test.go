package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPublishDigest(t *testing.T) {
	t.Parallel()

	var gotText, gotChat, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotPath = r.URL.Path
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier("token", "42").WithAPIBase(srv.URL + "/")
	if err := n.PublishDigest(context.Background(), "run failed acceptance"); err != nil {
		t.Fatalf("PublishDigest: %v", err)
	}
	if gotPath != "/bottoken/sendMessage" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotChat != "42" || gotText != "run failed acceptance" {
		t.Fatalf("unexpected form chat=%s text=%s", gotChat, gotText)
	}
}

func TestPublishDigestErrors(t *testing.T) {
	t.Parallel()

	if err := NewNotifier("", "").PublishDigest(context.Background(), "x"); err == nil {
		t.Fatalf("expected misconfiguration error")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewNotifier("t", "c").WithAPIBase(srv.URL).PublishDigest(context.Background(), "x"); err == nil {
		t.Fatalf("expected status error")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 5000)
	out := truncate(long, maxMessageLen)
	if utf8.RuneCountInString(out) != maxMessageLen {
		t.Fatalf("unexpected length %d", utf8.RuneCountInString(out))
	}
	if truncate("short", maxMessageLen) != "short" {
		t.Fatalf("short message altered")
	}
}
