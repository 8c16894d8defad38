package recommend

import (
	"fmt"
	"strings"

	"github.com/GoCodeAlone/mindcare/ai/emotion"
	"github.com/GoCodeAlone/mindcare/ai/facial"
	"github.com/GoCodeAlone/mindcare/ai/risk"
)

// ContentCap is the maximum size of the standalone content list.
const ContentCap = 8

// lowMood is the mood score at or below which content leans on self-care.
const lowMood = 3

type link struct {
	title       string
	url         string
	description string
}

type bucket struct {
	activities []string
	videos     []link
	blogs      []link
}

const (
	ytMeditation = "https://www.youtube.com/watch?v=ZToicYcHIOU"
	ytLighting   = "https://www.youtube.com/watch?v=jfKfPfyJRdk"
	ytMusic      = "https://www.youtube.com/watch?v=4zLfCnGVeL4"
	ytYoga       = "https://www.youtube.com/watch?v=hJbRpHZr_d0"
)

var contentTable = map[string]bucket{
	"sad": {
		activities: []string{"Guided meditation", "Light walk", "Journaling", "Deep breathing"},
		videos: []link{
			{"10 Minute Meditation for Depression & Anxiety", ytMeditation, "Guided meditation to help ease feelings of sadness"},
			{"Calming Mood Lighting - Soft Warm Lights", ytLighting, "Relaxing mood lighting video to create a peaceful atmosphere"},
			{"Mood Boosting Music - Uplifting & Happy", ytMusic, "Calming music to help improve your mood"},
		},
		blogs: []link{
			{"Coping with Depression: 10 Tips", "https://www.healthline.com/health/depression/how-to-fight-depression", "Practical strategies for managing depression"},
			{"Understanding and Managing Sadness", "https://www.verywellmind.com/how-to-deal-with-sadness-3144590", "Learn healthy ways to process and manage sadness"},
		},
	},
	"happy": {
		activities: []string{"Gratitude practice", "Share positivity", "Social connection", "Continue joyful activities"},
		videos: []link{
			{"Warm Mood Lighting - Cozy Atmosphere", ytLighting, "Beautiful warm lighting to maintain your positive mood"},
			{"Morning Gratitude Practice", ytMeditation, "Start your day with gratitude and positivity"},
			{"Happy Mood Playlist - Upbeat Music", ytMusic, "Maintain your positive energy with uplifting music"},
		},
		blogs: []link{
			{"How to Maintain Positive Mental Health", "https://www.healthline.com/health/mental-health/how-to-maintain-positive-mental-health", "Tips for sustaining positive mental wellbeing"},
		},
	},
	"anger": {
		activities: []string{"Physical exercise", "Breathing exercises", "Stress-relief techniques", "Mindful walking"},
		videos: []link{
			{"Anger Management Meditation", ytMeditation, "Meditation techniques to help manage anger"},
			{"5 Minute Breathing Exercise for Anger", ytMusic, "Quick breathing exercises to calm anger"},
			{"Yoga for Anger and Stress Relief", ytYoga, "Yoga poses to release tension and anger"},
		},
		blogs: []link{
			{"Anger Management: Tips and Techniques", "https://www.healthline.com/health/anger-management", "Effective strategies for managing anger"},
			{"Understanding Anger and How to Control It", "https://www.verywellmind.com/anger-management-strategies-4178870", "Learn about anger and healthy coping mechanisms"},
		},
	},
	"fear": {
		activities: []string{"Grounding exercises", "Deep breathing", "Progressive muscle relaxation", "Calming music"},
		videos: []link{
			{"Soothing Mood Lighting for Anxiety", ytLighting, "Calming mood lighting to help reduce anxiety and fear"},
			{"Grounding Techniques for Anxiety", ytMeditation, "Learn grounding exercises to manage fear and anxiety"},
			{"Calming Anxiety with Breathing Exercises", ytMusic, "Breathing techniques to calm fear and anxiety"},
		},
		blogs: []link{
			{"Coping with Anxiety and Fear", "https://www.healthline.com/health/anxiety/how-to-cope-with-anxiety", "Practical tips for managing anxiety and fear"},
			{"Understanding Anxiety Disorders", "https://www.verywellmind.com/anxiety-disorders-4157215", "Learn about anxiety and effective treatment options"},
		},
	},
	"neutral": {
		activities: []string{"Mindfulness meditation", "Gentle walk", "Gratitude practice", "Calming music"},
		videos: []link{
			{"Peaceful Mood Lighting - Ambient Atmosphere", ytLighting, "Gentle mood lighting for a balanced, peaceful environment"},
			{"10 Minute Mindfulness Meditation", ytMeditation, "Practice mindfulness for emotional balance"},
			{"Calming Music for Relaxation", ytMusic, "Peaceful music for relaxation and balance"},
		},
		blogs: []link{
			{"Mindfulness and Mental Health", "https://www.healthline.com/health/mindfulness", "Learn about the benefits of mindfulness practice"},
		},
	},
}

var bucketAliases = map[string]string{
	"sadness": "sad",
	"angry":   "anger",
	"anxiety": "fear",
}

func bucketFor(label string) bucket {
	label = strings.ToLower(label)
	if alias, ok := bucketAliases[label]; ok {
		label = alias
	}
	if b, ok := contentTable[label]; ok {
		return b
	}
	return contentTable["neutral"]
}

// Content returns wellbeing content for a facial emotion, ordered by priority
// and capped at limit (ContentCap when limit <= 0). It returns nil without a
// facial emotion. A crisis resource is added when the text emotion is high
// risk.
func Content(face *facial.Emotion, textEmotion *emotion.Result, limit int) []Recommendation {
	if face == nil || face.Emotion == "" {
		return nil
	}
	if limit <= 0 || limit > ContentCap {
		limit = ContentCap
	}

	b := bucketFor(face.Emotion)
	mood := face.Mood
	if mood == 0 {
		mood = facial.MoodFor("neutral")
	}
	low := mood <= lowMood
	var recs []Recommendation

	for i, a := range head(b.activities, 2) {
		r := Recommendation{Type: TypeActivity, Title: a}
		if low {
			r.Description = fmt.Sprintf("Try %s to help improve your mood", strings.ToLower(a))
			r.Priority = 5 - (i + 1)
		} else {
			r.Description = fmt.Sprintf("Consider %s for emotional wellness", strings.ToLower(a))
			r.Priority = 3
		}
		recs = append(recs, r)
	}

	videoPriority := 3
	if low {
		videoPriority = 4
	}
	for _, v := range head(b.videos, 3) {
		recs = append(recs, Recommendation{Type: TypeVideo, Title: v.title, Description: v.description, URL: v.url, Priority: videoPriority})
	}
	for _, bl := range head(b.blogs, 2) {
		recs = append(recs, Recommendation{Type: TypeBlog, Title: bl.title, Description: bl.description, URL: bl.url, Priority: 3})
	}

	if textEmotion != nil && textEmotion.Risk == risk.High {
		recs = append(recs, Recommendation{
			Type:        TypeResource,
			Title:       "Crisis Support Resources",
			Description: "If you're in immediate distress, please reach out to crisis helplines or trusted support",
			URL:         "https://www.crisistextline.org/",
			Priority:    5,
		})
	}

	sortByPriority(recs)
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
