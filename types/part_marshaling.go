package types

import (
	"encoding/json"
	"fmt"
)

type partWire struct {
	Type      PartType        `json:"type"`
	Content   *string         `json:"content,omitempty"`
	URL       *string         `json:"url,omitempty"`
	MediaType *string         `json:"mediaType,omitempty"`
	Filename  *string         `json:"filename,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// UnmarshalJSON decodes a part and enforces the per-variant required fields:
// text parts need content, file parts need url, data parts need a data
// object.
func (p *Part) UnmarshalJSON(data []byte) error {
	var wire partWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	if !wire.Type.IsValid() {
		return fmt.Errorf("unknown part type %q", wire.Type)
	}

	out := Part{
		Type:      wire.Type,
		MediaType: wire.MediaType,
		Filename:  wire.Filename,
	}

	switch wire.Type {
	case PartTypeText:
		if wire.Content == nil {
			return fmt.Errorf("text part missing content")
		}
		out.Content = *wire.Content
	case PartTypeFile:
		if wire.URL == nil || *wire.URL == "" {
			return fmt.Errorf("file part missing url")
		}
		out.URL = *wire.URL
	case PartTypeData:
		if len(wire.Data) == 0 {
			return fmt.Errorf("data part missing data object")
		}
		var obj Struct
		if err := json.Unmarshal(wire.Data, &obj); err != nil {
			return fmt.Errorf("data part payload is not an object: %w", err)
		}
		out.Data = obj
		if out.MediaType == nil {
			mediaType := "application/json"
			out.MediaType = &mediaType
		}
	}

	*p = out
	return nil
}

// MarshalJSON emits the wire form for the part's variant, dropping fields
// that belong to the other variants.
func (p Part) MarshalJSON() ([]byte, error) {
	wire := partWire{
		Type:      p.Type,
		MediaType: p.MediaType,
		Filename:  p.Filename,
	}

	switch p.Type {
	case PartTypeText:
		content := p.Content
		wire.Content = &content
	case PartTypeFile:
		url := p.URL
		wire.URL = &url
	case PartTypeData:
		data, err := json.Marshal(p.Data)
		if err != nil {
			return nil, err
		}
		wire.Data = data
	default:
		return nil, fmt.Errorf("unknown part type %q", p.Type)
	}

	return json.Marshal(wire)
}

// UnmarshalParts decodes a JSON array of parts.
func UnmarshalParts(data []byte) ([]Part, error) {
	var rawParts []json.RawMessage
	if err := json.Unmarshal(data, &rawParts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw parts: %w", err)
	}

	parts := make([]Part, len(rawParts))
	for i, rawPart := range rawParts {
		if err := json.Unmarshal(rawPart, &parts[i]); err != nil {
			return nil, fmt.Errorf("failed to unmarshal part at index %d: %w", i, err)
		}
	}

	return parts, nil
}

// ValidateMessage checks the structural invariants of a message: a known
// role and a non-empty parts list.
func ValidateMessage(m Message) error {
	if !m.Role.IsValid() {
		return fmt.Errorf("unknown message role %q", m.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("message has no parts")
	}
	return nil
}

// ValidateArtifact checks the exactly-one-of content/url invariant.
func ValidateArtifact(a Artifact) error {
	if a.ID == "" {
		return fmt.Errorf("artifact missing id")
	}
	hasContent := a.Content != nil
	hasURL := a.URL != nil && *a.URL != ""
	if hasContent == hasURL {
		return fmt.Errorf("artifact %s must carry exactly one of content or url", a.ID)
	}
	return nil
}
