package policymanager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

const associationsFileName = "device-associations.json"

// Store is the local JSON persistence layer (§4.4): a policy_store/
// directory holding one file per policy id plus a single
// device-associations.json carrying the two inverted indexes. A nil
// *Store (or one constructed with an empty Dir) disables persistence.
type Store struct {
	Dir    string
	Logger *zap.Logger
}

// NewStore builds a Store rooted at dir. An empty dir disables persistence
// entirely (all methods become no-ops / empty-result).
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Dir: dir, Logger: logger}
}

func (s *Store) enabled() bool { return s != nil && s.Dir != "" }

func (s *Store) policyPath(id string) string { return filepath.Join(s.Dir, id) }

func (s *Store) associationsPath() string { return filepath.Join(s.Dir, associationsFileName) }

// SavePolicyRaw writes a policy document body to policy_store/<id>,
// pretty-printed for readability. Failures are logged, not returned: the
// in-memory graph remains authoritative for the running process even if
// the disk mirror falls behind.
func (s *Store) SavePolicyRaw(id string, body []byte) {
	if !s.enabled() {
		return
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		s.Logger.Warn("policy store: mkdir failed", zap.String("dir", s.Dir), zap.Error(err))
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(body)
	}
	if err := os.WriteFile(s.policyPath(id), pretty.Bytes(), 0o644); err != nil {
		s.Logger.Warn("policy store: write failed", zap.String("policy_id", id), zap.Error(err))
	}
}

type associationsFile struct {
	ByPolicy map[string][]string `json:"byPolicy"`
	ByModel  map[string][]string `json:"byModel"`
}

// SaveAssociations writes the two inverted indexes as
// device-associations.json, sorting list entries for a stable diff.
func (s *Store) SaveAssociations(byPolicy, byModel map[string]map[string]struct{}) {
	if !s.enabled() {
		return
	}
	af := associationsFile{
		ByPolicy: setsToSortedLists(byPolicy),
		ByModel:  setsToSortedLists(byModel),
	}
	data, err := json.MarshalIndent(af, "", "  ")
	if err != nil {
		s.Logger.Warn("policy store: marshal associations failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		s.Logger.Warn("policy store: mkdir failed", zap.String("dir", s.Dir), zap.Error(err))
		return
	}
	if err := os.WriteFile(s.associationsPath(), data, 0o644); err != nil {
		s.Logger.Warn("policy store: write associations failed", zap.Error(err))
	}
}

// LoadRawPolicies reads every policy file in the store directory, keyed by
// policy id (the file name). Returns an empty map if the directory or
// store is absent.
func (s *Store) LoadRawPolicies() (map[string][]byte, error) {
	out := make(map[string][]byte)
	if !s.enabled() {
		return out, nil
	}
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy store dir %q: %w", s.Dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == associationsFileName {
			continue
		}
		body, err := os.ReadFile(filepath.Join(s.Dir, entry.Name()))
		if err != nil {
			s.Logger.Warn("policy store: failed to read policy file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		out[entry.Name()] = body
	}
	return out, nil
}

// LoadAssociations reads device-associations.json. A missing file is not
// an error: it returns a zero-valued associationsFile.
func (s *Store) LoadAssociations() (associationsFile, error) {
	if !s.enabled() {
		return associationsFile{}, nil
	}
	data, err := os.ReadFile(s.associationsPath())
	if os.IsNotExist(err) {
		return associationsFile{}, nil
	}
	if err != nil {
		return associationsFile{}, fmt.Errorf("read %s: %w", associationsFileName, err)
	}
	var af associationsFile
	if err := json.Unmarshal(data, &af); err != nil {
		return associationsFile{}, fmt.Errorf("parse %s: %w", associationsFileName, err)
	}
	return af, nil
}

func setsToSortedLists(sets map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(sets))
	for key, set := range sets {
		list := make([]string, 0, len(set))
		for v := range set {
			list = append(list, v)
		}
		sort.Strings(list)
		out[key] = list
	}
	return out
}
