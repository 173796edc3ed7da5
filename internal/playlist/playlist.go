// Package playlist reads bplist playlists and writes the result manifest of a
// batch.
package playlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
)

// ManifestLayout is the time layout of manifest file names (dd_mm_yy_HHMMSS).
const (
	ManifestLayout = "02_01_06_150405"
	ManifestSuffix = "_pld.json"

	manifestPerm = 0644
)

var ErrInvalidHash = errors.New("invalid song hash")

type Song struct {
	Hash     string `json:"hash"`
	Key      string `json:"key,omitempty"`
	SongName string `json:"songName,omitempty"`
}

// ID returns the identity of the song: its hash trimmed and lowercased. Songs
// are deduplicated and looked up in the ledger by ID.
func (s Song) ID() string {
	return NormalizeHash(s.Hash)
}

// Name returns the hash trimmed but otherwise as the playlist gives it. The
// archive and the unpacked directory are named after it.
func (s Song) Name() string {
	return strings.TrimSpace(s.Hash)
}

// Validate checks that the hash can be used as a single path element.
func (s Song) Validate() error {
	name := s.Name()

	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\:`+"\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidHash, s.Hash)
	}

	return nil
}

type Playlist struct {
	Title  string `json:"playlistTitle"`
	Author string `json:"playlistAuthor"`
	Image  string `json:"image,omitempty"`
	Songs  []Song `json:"songs"`
}

func NormalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// Read decodes the playlist file at path.
func Read(path string) (*Playlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open playlist: %w", err)
	}
	defer f.Close()

	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist %s: %w", path, err)
	}

	return p, nil
}

func Decode(r io.Reader) (*Playlist, error) {
	var p Playlist

	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode playlist: %w", err)
	}

	return &p, nil
}

// Unique returns the songs of p with duplicate IDs removed, keeping the first
// occurrence and the playlist order.
func (p *Playlist) Unique() []Song {
	return lo.UniqBy(p.Songs, Song.ID)
}

// Pending returns the unique songs whose ID is not in done.
func (p *Playlist) Pending(done map[string]struct{}) []Song {
	return lo.Filter(p.Unique(), func(s Song, _ int) bool {
		_, ok := done[s.ID()]

		return !ok
	})
}

// ManifestName returns the manifest file name for a batch finished at now.
func ManifestName(now time.Time) string {
	return now.UTC().Format(ManifestLayout) + ManifestSuffix
}

// Save writes p as the manifest of a batch finished at now into dir and
// returns the written path.
func Save(dir string, p *Playlist, now time.Time) (string, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode playlist: %w", err)
	}

	path := filepath.Join(dir, ManifestName(now))

	if err := os.WriteFile(path, data, manifestPerm); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	return path, nil
}
