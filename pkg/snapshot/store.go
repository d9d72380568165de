/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: store.go
Description: Snapshot store. Persists each captured page state as a numbered triple of
artifacts (PNG screenshot, HTML, JSON metadata) under <root>/<device>/<run id>/<viewport>/
and assigns capture indices that only advance when all three artifacts were written.
*/

package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/web"
	"github.com/sirupsen/logrus"
)

// ErrSnapshotExists is returned instead of overwriting a snapshot already on disk
var ErrSnapshotExists = errors.New("snapshot index already written")

// Store roots all device sessions of a run
type Store struct {
	root    string
	catalog *Catalog
	logger  *logrus.Logger
	now     func() time.Time
}

// NewStore creates a store under root. catalog may be nil.
func NewStore(root string, catalog *Catalog, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{root: root, catalog: catalog, logger: logger, now: time.Now}
}

// Root returns the artifact root directory
func (st *Store) Root() string {
	return st.root
}

// Catalog returns the attached catalog, or nil
func (st *Store) Catalog() *Catalog {
	return st.catalog
}

var unsafePath = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName makes a device identity or state name usable as a path element
func SafeName(s string) string {
	s = unsafePath.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// Session creates the per-device, per-viewport snapshot session
func (st *Store) Session(runID, device, viewport string) (*Session, error) {
	dir := filepath.Join(st.root, SafeName(device), SafeName(runID), SafeName(viewport))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	return &Session{
		store: st,
		key:   RunKey{RunID: runID, Device: device, Viewport: viewport},
		dir:   dir,
	}, nil
}

// Session owns the capture counter for one device at one viewport
type Session struct {
	store *Store
	key   RunKey
	dir   string
	mu    sync.Mutex
	next  int
}

// Key returns the catalog key of the session
func (s *Session) Key() RunKey {
	return s.key
}

// Dir returns the artifact directory of the session
func (s *Session) Dir() string {
	return s.dir
}

// Count returns how many snapshots were committed
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Probe carries values the caller already read from the surface so
// Capture does not query them twice
type Probe struct {
	Structure string
	Flags     *interfaces.IndicatorFlags
}

type metadataDoc struct {
	*interfaces.StateSnapshot
	Device string `json:"device"`
	Files  struct {
		Visual    string `json:"visual"`
		Structure string `json:"structure"`
	} `json:"files"`
}

// Digest hashes a structural capture
func Digest(structure string) string {
	sum := sha256.Sum256([]byte(structure))
	return hex.EncodeToString(sum[:])
}

// Capture reads the surface and persists a snapshot under the next index
func (s *Session) Capture(ctx context.Context, surf web.Surface, state, description string, probe *Probe) (*interfaces.StateSnapshot, error) {
	visual, err := surf.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}

	snap := &interfaces.StateSnapshot{
		Timestamp:   s.store.now(),
		StateName:   SafeName(state),
		Description: description,
		Viewport:    s.key.Viewport,
		Visual:      visual,
	}
	if probe != nil && probe.Structure != "" {
		snap.StructuralDigest = probe.Structure
	} else if snap.StructuralDigest, err = surf.Content(ctx); err != nil {
		return nil, fmt.Errorf("content read failed: %w", err)
	}
	snap.DigestHash = Digest(snap.StructuralDigest)

	if probe != nil && probe.Flags != nil {
		snap.Indicators = *probe.Flags
	} else if snap.Indicators, err = DetectIndicators(ctx, surf); err != nil {
		return nil, fmt.Errorf("indicator read failed: %w", err)
	}
	if snap.URL, err = surf.URL(ctx); err != nil {
		return nil, err
	}
	if snap.Title, err = surf.Title(ctx); err != nil {
		return nil, err
	}
	snap.LoadingText = CaptureLoadingText(ctx, surf)
	snap.ConsoleMessages = surf.ConsoleMessages()

	if err := s.save(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// save writes the artifact triple and commits the index only on success
func (s *Session) save(ctx context.Context, snap *interfaces.StateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.next
	base := filepath.Join(s.dir, fmt.Sprintf("%s.%02d", snap.StateName, idx))
	ref := interfaces.SnapshotRef{
		StateName:    snap.StateName,
		CaptureIndex: idx,
		Visual:       base + ".png",
		Structure:    base + ".html",
		Metadata:     base + "_metadata.json",
	}
	// another session with the same key already committed this index
	if _, err := os.Stat(ref.Metadata); err == nil {
		return fmt.Errorf("%s index %d: %w", snap.StateName, idx, ErrSnapshotExists)
	}
	snap.CaptureIndex = idx

	if err := os.WriteFile(ref.Visual, snap.Visual, 0644); err != nil {
		return fmt.Errorf("write visual: %w", err)
	}
	if err := os.WriteFile(ref.Structure, []byte(snap.StructuralDigest), 0644); err != nil {
		return fmt.Errorf("write structure: %w", err)
	}

	doc := metadataDoc{StateSnapshot: snap, Device: s.key.Device}
	doc.Files.Visual = filepath.Base(ref.Visual)
	doc.Files.Structure = filepath.Base(ref.Structure)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(ref.Metadata, data, 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	snap.Refs = ref
	s.next++

	if s.store.catalog != nil {
		if err := s.store.catalog.RecordSnapshot(ctx, s.key, snap); err != nil {
			s.store.logger.WithError(err).WithField("index", idx).Warn("Failed to index snapshot")
		}
	}
	return nil
}

// WriteArtifact stores a JSON side document such as an extracted rule set
func (s *Session) WriteArtifact(state, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", SafeName(state), SafeName(name)))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// RecordObservation indexes an observation in the catalog, if any
func (s *Session) RecordObservation(ctx context.Context, obs *interfaces.ErrorObservation) {
	if s.store.catalog == nil {
		return
	}
	if err := s.store.catalog.RecordObservation(ctx, s.key, obs); err != nil {
		s.store.logger.WithError(err).Warn("Failed to index observation")
	}
}

// RecordAuthProbes indexes authentication probe results in the catalog, if any
func (s *Session) RecordAuthProbes(ctx context.Context, results []interfaces.AuthProbeResult) {
	if s.store.catalog == nil {
		return
	}
	for i := range results {
		if err := s.store.catalog.RecordAuthProbe(ctx, s.key, &results[i]); err != nil {
			s.store.logger.WithError(err).Warn("Failed to index auth probe")
		}
	}
}
