package types

import "time"

// AgentCard is the public descriptor of an agent. It announces the A2A
// endpoint, the accepted authentication schemes, and the agent's
// capabilities and skills. Cards are immutable once published.
type AgentCard struct {
	SchemaVersion     string            `json:"schemaVersion"`
	HumanReadableID   string            `json:"humanReadableId"`
	AgentVersion      string            `json:"agentVersion"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	URL               string            `json:"url"`
	Provider          AgentProvider     `json:"provider"`
	Capabilities      AgentCapabilities `json:"capabilities"`
	AuthSchemes       []AgentAuthScheme `json:"authSchemes"`
	Skills            []AgentSkill      `json:"skills,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	IconURL           *string           `json:"iconUrl,omitempty"`
	PrivacyPolicyURL  *string           `json:"privacyPolicyUrl,omitempty"`
	TermsOfServiceURL *string           `json:"termsOfServiceUrl,omitempty"`
	LastUpdated       *time.Time        `json:"lastUpdated,omitempty"`
}

// AgentProvider identifies the organization operating an agent.
type AgentProvider struct {
	Name           string  `json:"name"`
	URL            *string `json:"url,omitempty"`
	SupportContact *string `json:"supportContact,omitempty"`
}

// AgentCapabilities declares protocol-level capabilities of an agent.
type AgentCapabilities struct {
	A2AVersion                string      `json:"a2aVersion"`
	SupportsPushNotifications *bool       `json:"supportsPushNotifications,omitempty"`
	TeeDetails                *TeeDetails `json:"teeDetails,omitempty"`
}

// TeeDetails describes a trusted execution environment the agent runs in.
type TeeDetails struct {
	Type                string  `json:"type"`
	AttestationEndpoint *string `json:"attestationEndpoint,omitempty"`
	PublicKey           *string `json:"publicKey,omitempty"`
}

// AgentAuthScheme describes one authentication scheme accepted by an agent.
// Scheme oauth2 requires TokenURL; every scheme except none may carry a
// ServiceIdentifier used by the credential store to locate the right secret.
type AgentAuthScheme struct {
	Scheme            AuthSchemeType `json:"scheme"`
	TokenURL          *string        `json:"tokenUrl,omitempty"`
	ServiceIdentifier *string        `json:"serviceIdentifier,omitempty"`
	Description       *string        `json:"description,omitempty"`
}

// AgentSkill describes a distinct capability an agent can perform.
type AgentSkill struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	InputSchema  *Struct `json:"inputSchema,omitempty"`
	OutputSchema *Struct `json:"outputSchema,omitempty"`
}
