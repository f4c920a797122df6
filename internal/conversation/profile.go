package conversation

import (
	"context"
	"strings"
	"sync"

	"kisanbazaar/internal/apperr"
	"kisanbazaar/internal/flow"
)

// ProfileGreeting opens a profile setup dialogue.
const ProfileGreeting = "Welcome! I can help you set up your profile. What is your full name?"

// ProfileFlow runs the profile-assistance flow.
type ProfileFlow interface {
	ProfileAssist(ctx context.Context, in flow.ProfileInput) (flow.ProfileOutput, error)
}

// ProfileReply is the agent's answer to one profile step.
type ProfileReply struct {
	AgentResponse string `json:"agentResponse"`
	Context       string `json:"context,omitempty"`
	Completed     bool   `json:"completed"`
}

// ProfileAssistant walks a user through profile setup, carrying the running
// context string between answers.
type ProfileAssistant struct {
	flow        ProfileFlow
	transcriber Transcriber

	mu        sync.Mutex
	context   string
	completed bool
}

func NewProfileAssistant(f ProfileFlow, t Transcriber) *ProfileAssistant {
	return &ProfileAssistant{flow: f, transcriber: t}
}

// ResumeProfile continues a dialogue from a context string the caller kept.
func ResumeProfile(f ProfileFlow, t Transcriber, running string) *ProfileAssistant {
	return &ProfileAssistant{flow: f, transcriber: t, context: running}
}

// Answer sends one typed answer. A failed step leaves the context unchanged so
// the user can answer again.
func (p *ProfileAssistant) Answer(ctx context.Context, userInput string) (ProfileReply, error) {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return ProfileReply{}, apperr.Errorf(apperr.CallerContract, "conversation.profile", "profile dialogue already completed")
	}
	cur := p.context
	p.mu.Unlock()

	out, err := p.flow.ProfileAssist(ctx, flow.ProfileInput{UserInput: userInput, Context: cur})
	if err != nil {
		return ProfileReply{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.TrimSpace(out.NewContext) != "" {
		p.context = out.NewContext
	}
	p.completed = out.Completed
	return ProfileReply{AgentResponse: out.AgentResponse, Context: p.context, Completed: out.Completed}, nil
}

// AnswerVoice transcribes a spoken answer and sends it.
func (p *ProfileAssistant) AnswerVoice(ctx context.Context, voiceDataURI string) (ProfileReply, error) {
	if p.transcriber == nil {
		return ProfileReply{}, apperr.Errorf(apperr.CallerContract, "conversation.profile", "voice answers need a transcriber")
	}
	text, err := p.transcriber.Transcribe(ctx, voiceDataURI)
	if err != nil {
		return ProfileReply{}, err
	}
	return p.Answer(ctx, text)
}

func (p *ProfileAssistant) Context() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.context
}

func (p *ProfileAssistant) Completed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}
