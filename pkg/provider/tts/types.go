package tts

// Request is a single synthesis call.
type Request struct {
	// Text is the content to synthesise. Must be non-empty.
	Text string

	// VoiceID is the vendor-specific voice identifier.
	VoiceID string

	// Model selects a vendor model. Empty selects [Info.DefaultModel]. Providers
	// with a fixed model ignore it.
	Model string
}

// Model describes one synthesis model offered by a provider.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Pricing string `json:"pricing,omitempty"`
}

// Info is the immutable description of a provider.
type Info struct {
	// ID is the lookup identifier (e.g. "fishaudio").
	ID string

	// DisplayName is the human-readable vendor name (e.g. "Fish Audio"). It also
	// names downloaded archives.
	DisplayName string

	// ChunkSize is the maximum number of characters sent in one request.
	ChunkSize int

	// APIEndpoint is the vendor API base URL shown in the admin console.
	APIEndpoint string

	// DefaultModel is used when a request does not name one.
	DefaultModel string

	// Models lists the selectable models. May be empty.
	Models []Model

	// FallbackVoices is shown when the live voice list cannot be fetched.
	FallbackVoices []VoiceProfile
}

// HasModel reports whether id is one of the provider's models.
func (i Info) HasModel(id string) bool {
	for _, m := range i.Models {
		if m.ID == id {
			return true
		}
	}
	return false
}

// VoiceProfile describes one voice offered by a provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `json:"provider,omitempty"`

	// Description is free-form vendor text. May be empty.
	Description string `json:"description,omitempty"`

	// Metadata holds provider-specific voice attributes (type, author, languages).
	Metadata map[string]string `json:"metadata,omitempty"`
}
