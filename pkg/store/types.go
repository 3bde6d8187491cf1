package store

import "time"

// Voice is a custom voice registered by an administrator. VoiceID is the
// vendor's identifier; ID is the row key.
type Voice struct {
	ID          string    `json:"id"`
	VoiceID     string    `json:"voice_id"`
	Name        string    `json:"name"`
	Provider    string    `json:"provider"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VoicePatch is a partial voice update. Nil fields are left untouched.
type VoicePatch struct {
	VoiceID     *string `json:"voice_id,omitempty"`
	Name        *string `json:"name,omitempty"`
	Provider    *string `json:"provider,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Apply copies the non-nil fields of p onto v.
func (p VoicePatch) Apply(v *Voice) {
	if p.VoiceID != nil {
		v.VoiceID = *p.VoiceID
	}
	if p.Name != nil {
		v.Name = *p.Name
	}
	if p.Provider != nil {
		v.Provider = *p.Provider
	}
	if p.Description != nil {
		v.Description = *p.Description
	}
}

// ProviderRecord is one row of the provider registry table.
type ProviderRecord struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	APIEndpoint string         `json:"api_endpoint"`
	ChunkSize   int            `json:"chunk_size"`
	IsActive    bool           `json:"is_active"`
	Config      map[string]any `json:"config"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// BuiltinProviders are seeded into the provider table by every backend.
var BuiltinProviders = []ProviderRecord{
	{
		ID:          "elevenlabs-provider-id",
		Name:        "elevenlabs",
		DisplayName: "ElevenLabs",
		APIEndpoint: "https://api.elevenlabs.io/v1",
		ChunkSize:   3000,
		IsActive:    true,
		Config:      map[string]any{"fetchVoicesUrl": "/api/list-elevenlabs-voices"},
	},
	{
		ID:          "fishaudio-provider-id",
		Name:        "fishaudio",
		DisplayName: "Fish Audio",
		APIEndpoint: "https://api.fish.audio/v1",
		ChunkSize:   3000,
		IsActive:    true,
		Config:      map[string]any{"fetchVoicesUrl": "/api/list-fishaudio-voices"},
	},
	{
		ID:          "minimax-provider-id",
		Name:        "minimax",
		DisplayName: "MiniMax",
		APIEndpoint: "https://api.minimaxi.chat/v1",
		ChunkSize:   2500,
		IsActive:    true,
		Config:      map[string]any{"fetchVoicesUrl": "/api/list-minimax-voices"},
	},
}

// User is an account. PasswordHash is a bcrypt hash and never serialised.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// Job is one finished generation run.
type Job struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider_used"`
	Characters   int       `json:"characters_used"`
	Chunks       int       `json:"chunks"`
	FailedChunks int       `json:"failed_chunks"`
	CreatedAt    time.Time `json:"created_at"`
}
