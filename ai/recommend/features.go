package recommend

import (
	"strings"

	"github.com/GoCodeAlone/mindcare/ai/emotion"
)

type feature struct {
	name        string
	description string
	route       string
	icon        string
	priority    int
}

type topic struct {
	name     string
	keywords []string
}

// topics are scanned in this order; the order decides which features win a
// priority tie.
var topics = []topic{
	{"anxiety", []string{"anxious", "anxiety", "worried", "worry", "panic", "nervous", "overwhelmed"}},
	{"stress", []string{"stress", "stressed", "pressure", "overwhelmed", "exams", "work", "deadline"}},
	{"sad", []string{"sad", "depressed", "down", "hopeless", "unhappy", "miserable"}},
	{"sleep", []string{"sleep", "insomnia", "tired", "exhausted", "can't sleep", "restless"}},
	{"lonely", []string{"lonely", "alone", "isolated", "no one", "nobody", "friend"}},
	{"angry", []string{"angry", "mad", "furious", "irritated", "frustrated", "annoyed"}},
}

func breathing(desc string, p int) feature {
	return feature{"Breathing Exercises", desc, "/breathing", "🌬️", p}
}

func music(desc string, p int) feature {
	return feature{"Music & Sound Therapy", desc, "/wellness-games/music-listening", "🎵", p}
}

func meditation(desc string, p int) feature {
	return feature{"Meditation", desc, "/meditation", "🧘", p}
}

func journal(desc string, p int) feature {
	return feature{"Journal", desc, "/journal", "📝", p}
}

func games(desc string, p int) feature {
	return feature{"Wellness Games", desc, "/wellness-games", "🎮", p}
}

func sleepTracker(desc string, p int) feature {
	return feature{"Sleep Tracker", desc, "/sleep", "😴", p}
}

func gratitude(desc string, p int) feature {
	return feature{"Gratitude Practice", desc, "/gratitude", "✨", p}
}

func therapists(desc string, p int) feature {
	return feature{"Find Therapists", desc, "/therapists", "👨‍⚕️", p}
}

var featureTable = map[string][]feature{
	"anxiety": {
		breathing("Practice calming breathing techniques to manage anxiety", 5),
		music("Listen to calming sounds like rain, ocean waves to reduce anxiety", 4),
		meditation("Guided meditation sessions to calm your mind", 4),
		journal("Write down your thoughts and feelings to process anxiety", 3),
	},
	"stress": {
		{"Academic Stress Management", "Track and manage academic stress with personalized routines", "/stress/academic", "📚", 5},
		breathing("Quick breathing exercises to reduce stress", 4),
		games("Interactive games to help manage stress and improve mood", 4),
		sleepTracker("Improve sleep quality with guided relaxation exercises", 3),
	},
	"sad": {
		gratitude("Focus on positive aspects of life with gratitude exercises", 5),
		music("Uplifting sounds to improve mood", 4),
		journal("Express your feelings through writing", 4),
		games("Engaging activities to boost mood", 3),
	},
	"sleep": {
		sleepTracker("Guided exercises for better sleep", 5),
		music("Calming sounds to help you sleep", 4),
		meditation("Evening meditation for relaxation", 4),
	},
	"lonely": {
		therapists("Connect with mental health professionals near you", 5),
		journal("Express your feelings and thoughts", 4),
		gratitude("Focus on connections and positive relationships", 3),
	},
	"angry": {
		breathing("Calm breathing techniques to manage anger", 5),
		meditation("Mindfulness meditation for emotional regulation", 4),
		journal("Write about what's causing your anger", 4),
	},
}

var defaultFeatures = []feature{
	games("Explore interactive wellness activities", 3),
	journal("Track your thoughts and feelings", 3),
	therapists("Connect with mental health professionals", 3),
}

// DetectTopics returns the topics mentioned in text and context, followed by
// the topic implied by the text emotion, if any. Matching is substring based.
func DetectTopics(text string, em *emotion.Result, context string) []string {
	combined := strings.ToLower(text) + " " + strings.ToLower(context)
	var found []string
	for _, t := range topics {
		for _, kw := range t.keywords {
			if strings.Contains(combined, kw) {
				found = append(found, t.name)
				break
			}
		}
	}
	if em != nil {
		switch strings.ToLower(em.Emotion) {
		case "anxiety", "fear":
			found = append(found, "anxiety")
		case "sad", "sadness":
			found = append(found, "sad")
		case "anger", "angry":
			found = append(found, "angry")
		}
	}
	return found
}

// Features returns up to two in-app feature suggestions for the detected
// topics, de-duplicated by route. With no topic the default set is used.
func Features(text string, em *emotion.Result, context string) []Recommendation {
	seen := make(map[string]bool)
	var recs []Recommendation
	for _, name := range DetectTopics(text, em, context) {
		for _, f := range featureTable[name] {
			if seen[f.route] {
				continue
			}
			seen[f.route] = true
			recs = append(recs, f.recommendation())
		}
	}
	if len(recs) == 0 {
		for _, f := range defaultFeatures {
			recs = append(recs, f.recommendation())
		}
	}
	sortByPriority(recs)
	if len(recs) > 2 {
		recs = recs[:2]
	}
	return recs
}

func (f feature) recommendation() Recommendation {
	return Recommendation{
		Type:        TypeFeature,
		Title:       f.name,
		Description: f.description,
		Route:       f.route,
		Icon:        f.icon,
		Priority:    f.priority,
	}
}
