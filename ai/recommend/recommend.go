// Package recommend selects the suggestions shown next to an assistant reply:
// a professional-help referral, in-app features and wellbeing content.
package recommend

import (
	"slices"
	"strings"

	"github.com/GoCodeAlone/mindcare/ai/emotion"
	"github.com/GoCodeAlone/mindcare/ai/facial"
	"github.com/GoCodeAlone/mindcare/ai/risk"
)

// Type classifies a Recommendation.
type Type string

const (
	TypeActivity  Type = "activity"
	TypeVideo     Type = "video"
	TypeBlog      Type = "blog"
	TypeResource  Type = "resource"
	TypeFeature   Type = "feature"
	TypeTherapist Type = "therapist"
)

// ReplyCap is the maximum number of recommendations attached to a reply.
const ReplyCap = 2

// TherapistPriority outranks every other recommendation.
const TherapistPriority = 10

// Recommendation is a suggested action or resource.
type Recommendation struct {
	Type        Type   `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
	Route       string `json:"route,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Action      string `json:"action,omitempty"`
	Priority    int    `json:"priority"`
}

// Input is everything the selector looks at for one reply.
type Input struct {
	Text        string
	Context     string
	Risk        risk.Level
	TextEmotion *emotion.Result
	Facial      *facial.Emotion
}

var professionalIndicators = []string{
	"therapist", "counselor", "doctor", "professional", "help", "support",
	"can't cope", "struggling", "need help", "don't know what to do",
	"suicidal", "harm", "crisis", "emergency",
}

// Therapist is the professional-help referral.
func Therapist() Recommendation {
	return Recommendation{
		Type:        TypeTherapist,
		Title:       "Find Nearby Therapists",
		Description: "Connect with licensed mental health professionals",
		Route:       "/therapists",
		Icon:        "👨‍⚕️",
		Action:      "nearby_search",
		Priority:    TherapistPriority,
	}
}

// NeedsProfessional reports whether text or context mentions wanting or
// needing professional help.
func NeedsProfessional(text, context string) bool {
	t := strings.ToLower(text)
	c := strings.ToLower(context)
	for _, ind := range professionalIndicators {
		if strings.Contains(t, ind) || strings.Contains(c, ind) {
			return true
		}
	}
	return false
}

// Select builds the recommendation list for a reply. The result holds at most
// ReplyCap items ordered by priority, with ties kept in insertion order, so a
// therapist referral is always first when present.
func Select(in Input) []Recommendation {
	var recs []Recommendation

	if NeedsProfessional(in.Text, in.Context) ||
		in.Risk.AtLeast(risk.Medium) ||
		(in.TextEmotion != nil && in.TextEmotion.Risk.AtLeast(risk.Medium)) {
		recs = append(recs, Therapist())
	}

	maxFeatures := 2
	if len(recs) > 0 {
		maxFeatures = 1
	}
	features := Features(in.Text, in.TextEmotion, in.Context)
	if len(features) > maxFeatures {
		features = features[:maxFeatures]
	}
	recs = append(recs, features...)

	if len(recs) < ReplyCap && in.Facial != nil && in.Facial.Emotion != "" {
		if content := Content(in.Facial, in.TextEmotion, 1); len(content) > 0 {
			recs = append(recs, content[0])
		}
	}

	sortByPriority(recs)
	if len(recs) > ReplyCap {
		recs = recs[:ReplyCap]
	}
	return recs
}

// sortByPriority orders by descending priority, keeping insertion order for
// equal priorities.
func sortByPriority(recs []Recommendation) {
	slices.SortStableFunc(recs, func(a, b Recommendation) int {
		return b.Priority - a.Priority
	})
}
