package generator

import (
	"context"
	"fmt"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/conversation"
)

var cannedOpenings = map[call.Kind]string{
	call.KindMorning:  "Good morning! What is the one thing you will get done today?",
	call.KindMidday:   "Quick midday check-in. How is the plan holding up so far?",
	call.KindEvening:  "Evening check-in. What went well today?",
	call.KindUrgent:   "I'm calling because something came up. What is going on right now?",
	call.KindFollowup: "Following up on our last call. Did you do what you said you would?",
}

var cannedQuestions = []string{
	"Good. What could get in your way?",
	"And how will you handle that?",
	"What is the very next step?",
	"How will you know you succeeded?",
}

const cannedClosing = "That's it for this call. Go get it done."

// CannedGenerator walks a fixed script. It needs no credentials and serves local
// development and smoke tests.
type CannedGenerator struct{}

func NewCannedGenerator() *CannedGenerator {
	return &CannedGenerator{}
}

func (CannedGenerator) Generate(_ context.Context, req conversation.GenerateRequest) (string, error) {
	if req.Closing {
		return fmt.Sprintf("%s %s", cannedClosing, conversation.EndMarker), nil
	}
	if req.Opening {
		if line, ok := cannedOpenings[req.Kind]; ok {
			return line, nil
		}
		return cannedOpenings[call.KindMorning], nil
	}
	sent := 0
	for _, t := range req.History {
		if t.Speaker == call.SpeakerSystem {
			sent++
		}
	}
	return cannedQuestions[(sent-1+len(cannedQuestions))%len(cannedQuestions)], nil
}
