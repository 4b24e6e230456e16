package protocol

import (
	"github.com/mosaictheory-jt/panel-chat/internal/core"
)

// Handshake is the first and only frame the client sends on a stream.
type Handshake struct {
	APIKeys       map[string]string  `json:"api_keys"`
	Temperatures  map[string]float64 `json:"temperatures"`
	PersonaMemory bool               `json:"persona_memory"`
	ChatMode      core.Mode          `json:"chat_mode"`
	NumRounds     int                `json:"num_rounds,omitempty"`
}

// NewHandshake builds the handshake frame. Empty provider keys are not sent,
// and the round count is only included for debates.
func NewHandshake(keys map[string]string, temps map[string]float64, personaMemory bool, mode core.Mode, rounds int) Handshake {
	h := Handshake{
		APIKeys:       make(map[string]string),
		Temperatures:  make(map[string]float64),
		PersonaMemory: personaMemory,
		ChatMode:      mode,
	}
	for provider, key := range keys {
		if key != "" {
			h.APIKeys[provider] = key
		}
	}
	for model, t := range temps {
		h.Temperatures[model] = t
	}
	if mode == core.ModeDebate {
		if rounds < 1 {
			rounds = 1
		}
		h.NumRounds = rounds
	}
	return h
}
