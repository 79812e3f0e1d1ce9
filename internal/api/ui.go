package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// UIConfig is the text the chat page renders.
type UIConfig struct {
	Title         string   `json:"title"`
	StartLabel    string   `json:"start_label"`
	CloseLabel    string   `json:"close_label"`
	CloseHint     string   `json:"close_hint"`
	Placeholder   string   `json:"placeholder"`
	CloseKeywords []string `json:"close_keywords"`
}

// DefaultUIConfig returns the Spanish labels of the support chat.
func DefaultUIConfig(keywords []string) UIConfig {
	return UIConfig{
		Title:         "Chatear con Simur, el agente de Soporte de Etna Educación",
		StartLabel:    "Comenzar a chatear",
		CloseLabel:    "✖",
		CloseHint:     `o escribir "salir" o "exit"`,
		Placeholder:   "Escribe tu mensaje aquí…",
		CloseKeywords: keywords,
	}
}

// ConfigHandler serves UI configuration to the frontend.
type ConfigHandler struct {
	ui UIConfig
}

// NewConfigHandler creates a handler serving ui.
func NewConfigHandler(ui UIConfig) *ConfigHandler {
	return &ConfigHandler{ui: ui}
}

// GetConfig returns the UI configuration.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.ui)
}

// RegisterRoutes registers the config route.
func (h *ConfigHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/config", h.GetConfig)
}
