package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalDiscussionInfo is durable, machine-local discussion metadata persisted
// under the app home directory.
//
// It is never sent to the server; it only helps the client resume where the
// user left off.
type LocalDiscussionInfo struct {
	// DiscussionID is the server-assigned discussion id.
	DiscussionID string `json:"discussionId"`
	// LastReadMessageID is the newest message id the user has seen.
	LastReadMessageID string `json:"lastReadMessageId,omitempty"`
	// LastOpenedAtMs is the wall-clock timestamp of the most recent open.
	LastOpenedAtMs int64 `json:"lastOpenedAtMs,omitempty"`
	// UpdatedAtMs is the wall-clock timestamp of the most recent write.
	UpdatedAtMs int64 `json:"updatedAtMs,omitempty"`
}

// LoadLocalDiscussionInfo reads the LocalDiscussionInfo for a discussion id.
//
// ok is false when no entry exists.
func LoadLocalDiscussionInfo(home string, discussionID string) (info LocalDiscussionInfo, ok bool, err error) {
	path, err := localDiscussionInfoPath(home, discussionID)
	if err != nil {
		return LocalDiscussionInfo{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LocalDiscussionInfo{}, false, nil
		}
		return LocalDiscussionInfo{}, false, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return LocalDiscussionInfo{}, false, err
	}
	return info, true, nil
}

// SaveLocalDiscussionInfo writes the LocalDiscussionInfo entry to disk.
func SaveLocalDiscussionInfo(home string, info LocalDiscussionInfo) error {
	if strings.TrimSpace(info.DiscussionID) == "" {
		return fmt.Errorf("missing discussion id")
	}
	path, err := localDiscussionInfoPath(home, info.DiscussionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	info.UpdatedAtMs = time.Now().UnixMilli()
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// UpdateLocalDiscussionInfo loads, mutates, and persists an entry.
func UpdateLocalDiscussionInfo(home string, discussionID string, update func(*LocalDiscussionInfo)) error {
	if strings.TrimSpace(discussionID) == "" {
		return fmt.Errorf("missing discussion id")
	}
	info := LocalDiscussionInfo{DiscussionID: discussionID}
	if existing, ok, err := LoadLocalDiscussionInfo(home, discussionID); err != nil {
		return err
	} else if ok {
		info = existing
	}
	update(&info)
	info.DiscussionID = discussionID
	return SaveLocalDiscussionInfo(home, info)
}

// localDiscussionInfoPath returns the absolute path for local discussion
// metadata.
func localDiscussionInfoPath(home string, discussionID string) (string, error) {
	if strings.TrimSpace(home) == "" {
		return "", fmt.Errorf("missing home directory")
	}
	discussionID = strings.TrimSpace(discussionID)
	if discussionID == "" {
		return "", fmt.Errorf("missing discussion id")
	}
	// Discussion ids come from the server; keep them out of path semantics.
	discussionID = strings.ReplaceAll(discussionID, string(os.PathSeparator), "_")
	return filepath.Join(home, "discussions", discussionID, "local.json"), nil
}
