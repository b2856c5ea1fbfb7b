package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/meetingmod/moderator/pkg/core/meeting"
)

// DefaultMinUtterances is the total utterance count below which the
// participation judge stays silent.
const DefaultMinUtterances = 5

// ParticipationJudge flags speaking-time imbalance from participant counters
// alone. It makes no remote calls.
type ParticipationJudge struct {
	MinUtterances int
}

func (j *ParticipationJudge) Name() string { return "participation" }

func (j *ParticipationJudge) Evaluate(_ context.Context, snap meeting.Snapshot, _ []meeting.TranscriptEntry) (Verdict, error) {
	floor := j.MinUtterances
	if floor <= 0 {
		floor = DefaultMinUtterances
	}
	// Unattributed speech says nothing about who is quiet.
	var people []meeting.Participant
	total := 0
	for _, p := range snap.Participants {
		if strings.EqualFold(p.Name, meeting.UnknownSpeaker) {
			continue
		}
		people = append(people, p)
		total += p.SpeakingCount
	}
	if len(people) < 2 || total < floor {
		return noVerdict(j.Name()), nil
	}

	for _, p := range people {
		if p.SpeakingCount == 0 {
			return Verdict{
				Judge:             j.Name(),
				NeedsIntervention: true,
				Kind:              meeting.KindParticipationImbalance,
				Message:           fmt.Sprintf("Hold on! %s hasn't spoken yet. How do you see it from the %s side?", p.Name, p.Role),
				Confidence:        0.9,
				SuggestedSpeaker:  p.Name,
			}, nil
		}
	}

	least := people[0]
	for _, p := range people[1:] {
		if p.SpeakingCount < least.SpeakingCount {
			least = p
		}
	}
	for _, p := range people {
		if float64(p.SpeakingCount)/float64(total) <= 0.5 {
			continue
		}
		if float64(least.SpeakingCount) < float64(total)*0.1 {
			return Verdict{
				Judge:             j.Name(),
				NeedsIntervention: true,
				Kind:              meeting.KindParticipationImbalance,
				Message:           fmt.Sprintf("Hold on! %s has been doing most of the talking. %s, what's your view?", p.Name, least.Name),
				Confidence:        0.85,
				SuggestedSpeaker:  least.Name,
			}, nil
		}
	}
	return noVerdict(j.Name()), nil
}
