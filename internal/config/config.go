// Package config implements the Config Store (C1): a typed, in-memory
// mirror of the gateway's local-device.ini file that notifies subscribers
// when the on-disk file changes underneath it.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/kloudnuk/bacnet-gateway/internal/apperrors"
	"github.com/kloudnuk/bacnet-gateway/internal/logging"
)

// Subscriber is the single-method capability interface every periodic
// service implements to receive change notifications, mirroring the
// observer pattern the source uses (one notify entry point, no
// inheritance).
type Subscriber interface {
	Notify(section, option string, value interface{})
}

type subscription struct {
	subscriber Subscriber
	// interest is the set of option names (unqualified) this subscriber
	// cares about; empty means "notify on every option in the matching
	// section".
	interest map[string]bool
	section  string
}

// Store is the Config Store: it owns the typed snapshot of the ini file and
// the subscription table.
type Store struct {
	mu          sync.Mutex
	path        string
	values      map[string]map[string]interface{}
	subs        []*subscription
	initialized bool
	log         logging.Logger
}

// RequiredSchema enumerates every section/option the gateway's runtime
// depends on (§3). New fails if any are missing from the file.
var RequiredSchema = map[string][]string{
	"device":           {"objectIdentifier", "objectName", "vendorIdentifier", "tz", "nukid"},
	"network":          {"interface", "maxApduLengthAccepted", "maxSegmentsAccepted"},
	"mongodb":          {"connectionString", "certpath", "dbname"},
	"device-discovery": {"enable", "interval", "timeout"},
	"point-discovery":  {"enable", "interval"},
	"point-polling":    {"enable", "interval"},
}

// New loads path, validates the required schema, and returns a Store with
// initialized already true (the initial snapshot is loaded synchronously,
// not on a later tick).
func New(path string) (*Store, error) {
	s := &Store{
		path:   path,
		values: make(map[string]map[string]interface{}),
		log:    logging.GetLogger().WithField("log", "config"),
	}
	if err := s.reload(); err != nil {
		return nil, apperrors.New(apperrors.KindConfigMissing, "loading "+path, err)
	}
	for section, options := range RequiredSchema {
		for _, option := range options {
			if _, err := s.lookup(section, option); err != nil {
				return nil, err
			}
		}
	}
	s.initialized = true
	return s, nil
}

// Initialized reports whether the first full snapshot has been loaded.
func (s *Store) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Read reloads the file from disk and returns the coerced value for
// section/option, failing with KindConfigMissing if either is absent.
func (s *Store) Read(section, option string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return nil, apperrors.New(apperrors.KindConfigMissing, "reloading "+s.path, err)
	}
	return s.lookupLocked(section, option)
}

func (s *Store) lookup(section, option string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(section, option)
}

func (s *Store) lookupLocked(section, option string) (interface{}, error) {
	opts, ok := s.values[section]
	if !ok {
		return nil, apperrors.New(apperrors.KindConfigMissing, fmt.Sprintf("section %q absent", section), nil)
	}
	v, ok := opts[option]
	if !ok {
		return nil, apperrors.New(apperrors.KindConfigMissing, fmt.Sprintf("option %q.%q absent", section, option), nil)
	}
	return v, nil
}

// Subscribe registers sub for change notifications. interest is the set of
// option names under section it cares about; an empty interest list means
// "every option in section". Duplicates are allowed by design (§4.1);
// unsubscribe removes by identity.
func (s *Store) Subscribe(sub Subscriber, section string, interest ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool, len(interest))
	for _, opt := range interest {
		set[opt] = true
	}
	s.subs = append(s.subs, &subscription{subscriber: sub, interest: set, section: section})
}

// Unsubscribe removes every subscription registered for sub, by identity.
func (s *Store) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.subs[:0]
	for _, entry := range s.subs {
		if entry.subscriber != sub {
			kept = append(kept, entry)
		}
	}
	s.subs = kept
}

// Sync reloads the file, diffs each known option's in-memory value against
// the on-disk value, updates memory, and notifies every subscriber whose
// interest set includes a changed option in its section.
func (s *Store) Sync() error {
	s.mu.Lock()
	fresh, err := s.parse()
	if err != nil {
		s.mu.Unlock()
		return apperrors.New(apperrors.KindConfigMissing, "sync reload", err)
	}

	type change struct{ section, option string; value interface{} }
	var changes []change
	for section, options := range fresh {
		old := s.values[section]
		for option, value := range options {
			if old == nil || !valuesEqual(old[option], value) {
				changes = append(changes, change{section, option, value})
			}
		}
	}
	s.values = fresh
	subs := append([]*subscription(nil), s.subs...)
	s.mu.Unlock()

	for _, c := range changes {
		for _, entry := range subs {
			if entry.section != c.section {
				continue
			}
			if len(entry.interest) > 0 && !entry.interest[c.option] {
				continue
			}
			entry.subscriber.Notify(c.section, c.option, c.value)
		}
	}
	return nil
}

func valuesEqual(a, b interface{}) bool {
	return a == b
}

func (s *Store) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

func (s *Store) reloadLocked() error {
	fresh, err := s.parse()
	if err != nil {
		return err
	}
	s.values = fresh
	return nil
}

// parse reads path and coerces every value using the §3 precedence:
// bool -> int -> float -> string.
func (s *Store) parse() (map[string]map[string]interface{}, error) {
	cfg, err := ini.Load(s.path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]interface{})
	for _, section := range cfg.Sections() {
		name := section.Name()
		if name == ini.DefaultSection && len(section.Keys()) == 0 {
			continue
		}
		options := make(map[string]interface{})
		for _, key := range section.Keys() {
			options[key.Name()] = coerce(key.Value())
		}
		out[name] = options
	}
	return out, nil
}

// coerce applies the typed-value precedence used throughout the gateway:
// literal True/False -> bool; else parseable integer -> int; else
// parseable float -> float64; else the raw string.
func coerce(raw string) interface{} {
	switch raw {
	case "True", "true":
		return true
	case "False", "false":
		return false
	}
	if i, err := strconv.Atoi(raw); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// Sections returns the known section names in sorted order, used by the
// Remote Config Reconciler to build its mirrored document.
func (s *Store) Sections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a deep copy of the full section/option/value map, used
// to seed the cloud-mirrored configuration document.
func (s *Store) Snapshot() map[string]map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]interface{}, len(s.values))
	for section, options := range s.values {
		copied := make(map[string]interface{}, len(options))
		for k, v := range options {
			copied[k] = v
		}
		out[section] = copied
	}
	return out
}

// WriteOption persists a single section/option value to the ini file on
// disk, used by the Remote Config Reconciler to apply a remote edit. It
// does not itself trigger Sync: the Change Watcher observes the write via
// the events file, same as any other on-disk mutation.
func (s *Store) WriteOption(section, option string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := ini.Load(s.path)
	if err != nil {
		return apperrors.New(apperrors.KindConfigMissing, "loading for write", err)
	}
	cfg.Section(section).Key(option).SetValue(fmt.Sprintf("%v", value))
	if err := cfg.SaveTo(s.path); err != nil {
		return apperrors.New(apperrors.KindConfigMissing, "saving "+s.path, err)
	}
	if s.values[section] == nil {
		s.values[section] = make(map[string]interface{})
	}
	s.values[section][option] = value
	return nil
}
