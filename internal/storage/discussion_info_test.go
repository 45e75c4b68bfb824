package storage

import (
	"path/filepath"
	"testing"
)

func TestLocalDiscussionInfoRoundTrip(t *testing.T) {
	home := t.TempDir()
	discussionID := "d1"

	in := LocalDiscussionInfo{
		DiscussionID:      discussionID,
		LastReadMessageID: "m42",
		LastOpenedAtMs:    1700000000000,
	}
	if err := SaveLocalDiscussionInfo(home, in); err != nil {
		t.Fatalf("SaveLocalDiscussionInfo returned error: %v", err)
	}

	got, ok, err := LoadLocalDiscussionInfo(home, discussionID)
	if err != nil {
		t.Fatalf("LoadLocalDiscussionInfo returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if got.DiscussionID != discussionID {
		t.Fatalf("expected discussion id to survive, got %q", got.DiscussionID)
	}
	if got.LastReadMessageID != "m42" {
		t.Fatalf("expected last read m42, got %q", got.LastReadMessageID)
	}
	if got.UpdatedAtMs == 0 {
		t.Fatalf("expected UpdatedAtMs to be set")
	}
}

func TestLocalDiscussionInfoMissingIsNotError(t *testing.T) {
	home := t.TempDir()
	_, ok, err := LoadLocalDiscussionInfo(home, "absent")
	if err != nil {
		t.Fatalf("LoadLocalDiscussionInfo returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing entry")
	}
}

func TestUpdateLocalDiscussionInfo(t *testing.T) {
	home := t.TempDir()
	err := UpdateLocalDiscussionInfo(home, "d1", func(info *LocalDiscussionInfo) {
		info.LastReadMessageID = "m7"
	})
	if err != nil {
		t.Fatalf("UpdateLocalDiscussionInfo returned error: %v", err)
	}

	got, ok, err := LoadLocalDiscussionInfo(home, "d1")
	if err != nil || !ok {
		t.Fatalf("LoadLocalDiscussionInfo ok=%v err=%v", ok, err)
	}
	if got.LastReadMessageID != "m7" {
		t.Fatalf("expected last read m7, got %q", got.LastReadMessageID)
	}
}

func TestLocalDiscussionInfoPathIsScoped(t *testing.T) {
	home := t.TempDir()
	path, err := localDiscussionInfoPath(home, "a/b")
	if err != nil {
		t.Fatalf("localDiscussionInfoPath returned error: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != "a_b" {
		t.Fatalf("expected discussion id to be sanitized in path, got %q", path)
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.key")
	if err := SaveAccessToken(path, "tok-123\n"); err != nil {
		t.Fatalf("SaveAccessToken returned error: %v", err)
	}
	got, err := LoadAccessToken(path)
	if err != nil {
		t.Fatalf("LoadAccessToken returned error: %v", err)
	}
	if got != "tok-123" {
		t.Fatalf("expected tok-123, got %q", got)
	}
}
