package voice

import (
	"fmt"
	"os"
	"path/filepath"
)

// AudioStore persists synthesized audio on disk and hands back the
// reference stored on the message record.
type AudioStore struct {
	dir string
}

func NewAudioStore(dir string) (*AudioStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}
	return &AudioStore{dir: dir}, nil
}

// Save writes the audio and returns its reference. One file per message;
// a retry after a partial failure just overwrites.
func (s *AudioStore) Save(messageID string, audio []byte) (string, error) {
	path := filepath.Join(s.dir, messageID+".mp3")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}
	return path, nil
}
