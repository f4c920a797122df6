package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Reply is one scripted answer.
type Reply struct {
	JSON  string
	Audio Audio
	Err   error
}

// ScriptedClient replays queued replies per flow and records every call.
// When a flow's queue is empty the last reply is repeated; a flow with no
// script at all fails the call.
type ScriptedClient struct {
	mu       sync.Mutex
	json     map[string][]Reply
	speech   []Reply
	calls    map[string]int
	requests []Request
	spoken   []SpeechRequest
}

func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{json: map[string][]Reply{}, calls: map[string]int{}}
}

// OnJSON queues replies for a flow.
func (s *ScriptedClient) OnJSON(flow string, replies ...Reply) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.json[flow] = append(s.json[flow], replies...)
	return s
}

// OnSpeech queues speech replies.
func (s *ScriptedClient) OnSpeech(replies ...Reply) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speech = append(s.speech, replies...)
	return s
}

func (s *ScriptedClient) Name() string { return "Scripted" }
func (s *ScriptedClient) Close() error { return nil }

func (s *ScriptedClient) GenerateJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	s.mu.Lock()
	s.calls[req.Flow]++
	s.requests = append(s.requests, req)
	r, ok := next(s.json, req.Flow)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("scripted: no reply for flow %q", req.Flow)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return json.RawMessage(r.JSON), nil
}

func (s *ScriptedClient) GenerateSpeech(ctx context.Context, req SpeechRequest) (Audio, error) {
	s.mu.Lock()
	s.calls[req.Flow]++
	s.spoken = append(s.spoken, req)
	var r Reply
	ok := len(s.speech) > 0
	if ok {
		r = s.speech[0]
		if len(s.speech) > 1 {
			s.speech = s.speech[1:]
		}
	}
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}
	if !ok {
		return Audio{}, fmt.Errorf("scripted: no speech reply")
	}
	return r.Audio, r.Err
}

func next(m map[string][]Reply, flow string) (Reply, bool) {
	q := m[flow]
	if len(q) == 0 {
		return Reply{}, false
	}
	r := q[0]
	if len(q) > 1 {
		m[flow] = q[1:]
	}
	return r, true
}

// Calls reports how many calls a flow received.
func (s *ScriptedClient) Calls(flow string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[flow]
}

// TotalCalls reports calls across every flow.
func (s *ScriptedClient) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// Requests returns the JSON requests seen so far.
func (s *ScriptedClient) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// SpeechRequests returns the speech requests seen so far.
func (s *ScriptedClient) SpeechRequests() []SpeechRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SpeechRequest(nil), s.spoken...)
}
