package conversation

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/GoCodeAlone/mindcare/ai/emotion"
	"github.com/GoCodeAlone/mindcare/ai/facial"
	"github.com/GoCodeAlone/mindcare/memory"
)

// CrisisMessage is appended whenever a turn is classified as high risk.
const CrisisMessage = "I'm really sorry you're feeling this way. Your safety matters. " +
	"If you might be in immediate danger, please contact your local emergency services, " +
	"reach a trusted person nearby, or a licensed professional/helpline in your area."

// Greeting opens every session.
const Greeting = "👋 Hi, I'm here to listen. How have you been feeling lately?"

// signalThreshold is the confidence an emotion signal needs to be described
// to the generator at all.
const signalThreshold = 0.5

// personalPhrases ask about something said earlier in the conversation. They
// switch the reply prompt to context recall.
var personalPhrases = []string{
	"my name", "what's my name", "what is my name", "do you know my name",
	"remember me", "do you remember", "what did i say", "what did i tell you",
}

// routerPersonalPhrases keep a turn away from knowledge lookup.
var routerPersonalPhrases = append(append([]string(nil), personalPhrases...),
	"my age", "my job", "my work", "my family", "my friends",
	"how am i feeling", "what am i feeling", "my mood", "my emotions",
)

var knowledgeKeywords = []string{
	"what is", "explain", "research", "study", "who is", "information",
}

func containsAny(text string, phrases []string) bool {
	t := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// IsPersonalQuery reports whether text asks the assistant to recall something
// from the conversation.
func IsPersonalQuery(text string) bool {
	return containsAny(text, personalPhrases)
}

// WantsKnowledge reports whether text is a general-knowledge question.
// Personal references always win over knowledge keywords.
func WantsKnowledge(text string) bool {
	if containsAny(text, routerPersonalPhrases) {
		return false
	}
	return containsAny(text, knowledgeKeywords)
}

var languageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"bn": "Bengali",
	"gu": "Gujarati",
	"ta": "Tamil",
	"te": "Telugu",
	"ml": "Malayalam",
	"mr": "Marathi",
	"pa": "Punjabi",
}

// LanguageName returns the English display name for a language code,
// falling back to English for anything unrecognised.
func LanguageName(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if name, ok := languageNames[code]; ok {
		return name
	}
	tag, err := language.Parse(code)
	if err != nil || tag == language.Und {
		return "English"
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return "English"
}

func replySystemPrompt(lang string, personal bool) string {
	if personal {
		return fmt.Sprintf("You are a compassionate mental health assistant having a conversation with a user. "+
			"Respond in %s. The user is asking about information from your current conversation. "+
			"Look through the conversation context and provide the information they're asking for. "+
			"If they ask for their name, look for where they mentioned their name in the conversation. "+
			"If they ask what they told you, summarize the key things they shared. "+
			"Be warm and personal, using their name if you found it in the conversation. "+
			"If you can't find the specific information they're asking for, kindly let them know "+
			"you don't have that information from this conversation.", lang)
	}
	return fmt.Sprintf("You are a compassionate, non-judgmental mental health assistant. Respond in %s. "+
		"Keep 2–3 sentences. Validate feelings in plain language, reflect back one key concern, "+
		"and offer one simple coping suggestion. Use the user's name if mentioned in the conversation context. "+
		"Be personal and remember details from the current conversation. "+
		"If emotion analysis is provided, use it to tailor your response to their emotional state. "+
		"You can mention that helpful features and resources are available below, but don't list them in detail. "+
		"Avoid medical diagnoses. If user appears at immediate risk, encourage contacting local emergency "+
		"services or trusted support.", lang)
}

// emotionDigest describes the confident emotion signals in plain language.
// It returns "" when no signal clears the confidence threshold.
func emotionDigest(text *emotion.Result, face *facial.Emotion) string {
	var parts []string
	if text != nil && text.Confidence > signalThreshold {
		parts = append(parts, fmt.Sprintf("text analysis shows %s (confidence: %.2f, risk: %s)",
			text.Emotion, text.Confidence, text.Risk))
	}
	if face != nil && face.Confidence > signalThreshold {
		mood := ""
		if face.Mood != 0 {
			mood = fmt.Sprintf(" (mood level: %d/10)", face.Mood)
		}
		parts = append(parts, fmt.Sprintf("facial expression shows %s (confidence: %.2f%s)",
			face.Emotion, face.Confidence, mood))
	}
	if len(parts) == 0 {
		return ""
	}
	return "\n\nEmotion Analysis: " + strings.Join(parts, " and ") +
		". Use this comprehensive emotional information to provide personalized, targeted support and recommendations."
}

func replyUserContent(input, context string, text *emotion.Result, face *facial.Emotion) string {
	var b strings.Builder
	b.WriteString(input)
	if context != "" {
		b.WriteString("\n\nPrevious conversation context:\n")
		b.WriteString(context)
	}
	b.WriteString(emotionDigest(text, face))
	return b.String()
}

func questionSystemPrompt(lang string) string {
	return fmt.Sprintf("You are a supportive mental health assistant. Ask the next best open-ended QUESTION in %s, "+
		"under 20 words. Be gentle and specific to the user's recent message. "+
		"Use the user's name if mentioned in the conversation. Be personal and reference previous conversation details. "+
		"Do not include guidance or tips here—just a question. "+
		"If the conversation seems complete, ask a brief closing question inviting anything else to share.", lang)
}

// transcript renders every non-empty message as "Role: text".
func transcript(msgs []memory.Message) string {
	kept := make([]memory.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) != "" {
			kept = append(kept, m)
		}
	}
	return memory.FormatContext(kept, 0)
}

func summarySystemPrompt(lang, convo string) string {
	return fmt.Sprintf(`You are summarizing a mental health support session.
Extract user information explicitly mentioned in the conversation.
Fill out the following categories as best as possible.
If the user mentions something indirectly, infer it.
Only say "No information provided" if the user truly gave no clue.

Conversation:
%s

Now create a structured summary in %s:
### Overall Mood
(Describe the mood based on the conversation.)

### Sleep
(Summarize sleep-related issues, e.g. "User reported trouble falling asleep".)

### Appetite
(Summarize appetite-related mentions.)

### Main Stressors
(Identify specific problems or stressors like exams, family issues, health concerns.)

### Protective Factors / Supports
(Any support system or coping strategies mentioned.)

### Risk Level
(Low, Medium, High - based on severity of stress, hopelessness, or harmful thoughts.)`, convo, lang)
}
