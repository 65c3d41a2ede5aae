package domain

import "encoding/json"

// Snapshot section names, in the order they appear on the wire.
const (
	SectionNews       = "news"
	SectionAnimations = "animations"
	SectionBlocks     = "blocks"
	SectionConductor  = "conductor"
	SectionSettings   = "settings"
	SectionTemplates  = "templates"
	SectionJournals   = "journals"
)

var SnapshotSections = []string{
	SectionNews,
	SectionAnimations,
	SectionBlocks,
	SectionConductor,
	SectionSettings,
	SectionTemplates,
	SectionJournals,
}

// ClientSnapshot is an editor's whole local working set. The content
// collections belong to the editing application and are carried opaquely.
type ClientSnapshot struct {
	UserID       string          `json:"userId"`
	News         json.RawMessage `json:"news,omitempty"`
	Animations   json.RawMessage `json:"animations,omitempty"`
	Blocks       json.RawMessage `json:"blocks,omitempty"`
	Conductor    json.RawMessage `json:"conductor,omitempty"`
	Settings     json.RawMessage `json:"settings,omitempty"`
	Templates    json.RawMessage `json:"templates,omitempty"`
	Journals     json.RawMessage `json:"journals,omitempty"`
	Version      int64           `json:"version"`
	CreatedAt    int64           `json:"createdAt,omitempty"`
	LastModified int64           `json:"lastModified"`
	LastSavedBy  string          `json:"lastSavedBy,omitempty"`
}

func (s *ClientSnapshot) Section(name string) json.RawMessage {
	switch name {
	case SectionNews:
		return s.News
	case SectionAnimations:
		return s.Animations
	case SectionBlocks:
		return s.Blocks
	case SectionConductor:
		return s.Conductor
	case SectionSettings:
		return s.Settings
	case SectionTemplates:
		return s.Templates
	case SectionJournals:
		return s.Journals
	}
	return nil
}

// SetSection reports false for unknown section names.
func (s *ClientSnapshot) SetSection(name string, value json.RawMessage) bool {
	switch name {
	case SectionNews:
		s.News = value
	case SectionAnimations:
		s.Animations = value
	case SectionBlocks:
		s.Blocks = value
	case SectionConductor:
		s.Conductor = value
	case SectionSettings:
		s.Settings = value
	case SectionTemplates:
		s.Templates = value
	case SectionJournals:
		s.Journals = value
	default:
		return false
	}
	return true
}

func (s *ClientSnapshot) Clone() *ClientSnapshot {
	c := *s
	for _, name := range SnapshotSections {
		if raw := s.Section(name); raw != nil {
			c.SetSection(name, append(json.RawMessage(nil), raw...))
		}
	}
	return &c
}

// IsEmpty reports whether no section carries data.
func (s *ClientSnapshot) IsEmpty() bool {
	for _, name := range SnapshotSections {
		if len(s.Section(name)) > 0 {
			return false
		}
	}
	return true
}
