// Package seed loads the monitor file (targets, webhook subscriptions and
// settings) and syncs it into storage.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

// Monitor is a parsed monitor file. A nil section was absent from the file
// and leaves storage untouched; an empty section clears it.
type Monitor struct {
	Targets       []domain.Target
	Subscriptions []domain.WebhookSubscription
	Settings      *domain.Settings
}

type fileFormat struct {
	Targets       []targetEntry       `yaml:"targets"`
	Subscriptions []subscriptionEntry `yaml:"subscriptions"`
	Settings      *settingsEntry      `yaml:"settings"`
}

// targetEntry is either a mapping or a "url|expected" scalar.
type targetEntry struct {
	URL      string `yaml:"url"`
	Expected string `yaml:"expected"`
}

func (t *targetEntry) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		tgt, err := domain.ParseTargetLine(n.Value)
		if err != nil {
			return fmt.Errorf("line %d: target %q: %w", n.Line, n.Value, err)
		}
		t.URL, t.Expected = tgt.URL, tgt.ExpectedContent
		return nil
	}
	type plain targetEntry
	return n.Decode((*plain)(t))
}

type subscriptionEntry struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
	Active *bool    `yaml:"active"`
}

type settingsEntry struct {
	domain.Settings `yaml:",inline"`
	EmailEvents     []string `yaml:"email_events"`
}

// Load reads and validates the monitor file at path.
func Load(path string) (*Monitor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read monitor file: %w", err)
	}
	return Parse(b)
}

// Parse decodes monitor file content. Unknown keys are rejected.
func Parse(b []byte) (*Monitor, error) {
	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse monitor file: %w", err)
	}

	m := &Monitor{}
	if f.Targets != nil {
		m.Targets = make([]domain.Target, 0, len(f.Targets))
		seen := make(map[string]struct{}, len(f.Targets))
		for _, e := range f.Targets {
			canon, err := domain.CanonicalURL(e.URL)
			if err != nil {
				return nil, fmt.Errorf("target %q: %w", e.URL, err)
			}
			if _, dup := seen[canon]; dup {
				continue
			}
			seen[canon] = struct{}{}
			m.Targets = append(m.Targets, domain.Target{URL: canon, ExpectedContent: e.Expected})
		}
	}

	if f.Subscriptions != nil {
		m.Subscriptions = make([]domain.WebhookSubscription, 0, len(f.Subscriptions))
		for i, e := range f.Subscriptions {
			if e.URL == "" {
				return nil, fmt.Errorf("subscription %d: url is required", i+1)
			}
			events := domain.AllEvents()
			if e.Events != nil {
				set, err := domain.ParseEventItems(e.Events)
				if err != nil {
					return nil, fmt.Errorf("subscription %q: %w", e.Name, err)
				}
				events = set
			}
			active := true
			if e.Active != nil {
				active = *e.Active
			}
			name := e.Name
			if name == "" {
				name = e.URL
			}
			m.Subscriptions = append(m.Subscriptions, domain.WebhookSubscription{
				ID:     e.ID,
				Name:   name,
				URL:    e.URL,
				Secret: e.Secret,
				Events: events,
				Active: active,
			})
		}
	}

	if f.Settings != nil {
		s := f.Settings.Settings
		if f.Settings.EmailEvents != nil {
			set, err := domain.ParseEventItems(f.Settings.EmailEvents)
			if err != nil {
				return nil, fmt.Errorf("settings email_events: %w", err)
			}
			s.EmailEvents = set
		}
		s = s.WithDefaults()
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("settings: %w", err)
		}
		m.Settings = &s
	}
	return m, nil
}

// Apply writes every section present in m to w.
func Apply(ctx context.Context, m *Monitor, w repo.ConfigWriter) error {
	if m.Targets != nil {
		if err := w.ReplaceTargets(ctx, m.Targets); err != nil {
			return fmt.Errorf("sync targets: %w", err)
		}
	}
	if m.Subscriptions != nil {
		if err := w.ReplaceSubscriptions(ctx, m.Subscriptions); err != nil {
			return fmt.Errorf("sync subscriptions: %w", err)
		}
	}
	if m.Settings != nil {
		if err := w.SaveSettings(ctx, *m.Settings); err != nil {
			return fmt.Errorf("sync settings: %w", err)
		}
	}
	return nil
}
