package rpc

import (
	"kisanbazaar/internal/advisory"
	"kisanbazaar/internal/conversation"
)

type Empty struct{}

type DashboardRequest struct {
	Location string   `json:"location,omitempty"`
	Crops    []string `json:"crops,omitempty"`
}

// InteractRequest is one stateless turn. SessionID resumes an earlier
// session; empty starts a new one.
type InteractRequest struct {
	SessionID string                    `json:"sessionId,omitempty"`
	Kind      string                    `json:"kind,omitempty"`
	User      *conversation.UserContext `json:"user,omitempty"`
	Voice     string                    `json:"voice,omitempty"`
	Text      string                    `json:"text,omitempty"`
	Image     string                    `json:"image,omitempty"`
}

type InteractResponse struct {
	SessionID        string `json:"sessionId"`
	UserText         string `json:"userText"`
	Text             string `json:"text"`
	DetectedLanguage string `json:"detectedLanguage"`
	// Audio is a WAV data URI, empty unless Speech is "delivered".
	Audio          string `json:"audio,omitempty"`
	Speech         string `json:"speech"`
	AdvisoryQueued bool   `json:"advisoryQueued"`
}

type ProfileRequest struct {
	UserInput string `json:"userInput,omitempty"`
	Voice     string `json:"voice,omitempty"`
	Context   string `json:"context,omitempty"`
}

type DiagnoseRequest struct {
	Voice string `json:"voice"`
}

type DiagnoseResponse struct {
	Diagnosis      string `json:"diagnosis"`
	AdvisoryQueued bool   `json:"advisoryQueued"`
}

type TranscribeRequest struct {
	Voice string `json:"voice"`
}

type TranscribeResponse struct {
	Transcript string `json:"transcript"`
}

type ListAdvisoriesRequest struct {
	Limit int `json:"limit,omitempty"`
}

type ListAdvisoriesResponse struct {
	Advisories []advisory.Advisory `json:"advisories"`
}
