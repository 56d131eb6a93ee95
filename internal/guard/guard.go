// Package guard recognizes conversational messages that need no retrieval
// and questions describing emergencies.
package guard

import (
	"slices"
	"strings"
	"unicode"
)

// SafetyNotice is prepended to answers for questions mentioning an emergency.
const SafetyNotice = "This may be an emergency. This assistant summarizes research papers and is not a " +
	"medical professional. Please contact local emergency services or a clinician right away."

// Replies for recognized small talk.
const (
	GreetingReply     = "Hi there! Ask me anything about the papers in the index."
	ThanksReply       = "You're welcome. Let me know if you have another question about the papers."
	FarewellReply     = "Goodbye! Come back any time with more questions."
	HowAreYouReply    = "I'm ready to help. What would you like to know about the papers?"
	CapabilitiesReply = "I answer questions using the abstracts of the indexed research papers. " +
		"Ask about a topic, method or finding and I'll cite the papers my answer draws on."
)

// smallTalkMaxWords bounds the messages considered for small talk at all.
const smallTalkMaxWords = 5

type pattern struct {
	phrases []string
	reply   string
}

var smallTalk = []pattern{
	{[]string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening"}, GreetingReply},
	{[]string{"thanks", "thank you", "thx"}, ThanksReply},
	{[]string{"bye", "goodbye", "see you", "take care"}, FarewellReply},
	{[]string{"how are you", "how s it going", "how are u"}, HowAreYouReply},
	{[]string{"what can you do", "how can you help", "who are you", "what are you", "help", "i need help"}, CapabilitiesReply},
}

// filler words may surround a small-talk phrase. Any other word means the
// message carries a question and goes through retrieval.
var filler = map[string]bool{
	"ok": true, "okay": true, "oh": true, "so": true, "well": true, "and": true,
	"there": true, "all": true, "everyone": true, "again": true, "now": true, "for": true,
	"a": true, "lot": true, "very": true, "much": true, "great": true, "cool": true,
	"then": true, "please": true, "today": true,
}

var redFlags = []string{
	"seizure",
	"blue lips",
	"unconscious",
	"severe chest pain",
	"difficulty breathing",
	"trouble breathing",
	"not responsive",
	"stopped breathing",
	"choking",
	"head injury",
	"severe bleeding",
	"suicidal",
	"ingested poison",
	"allergic reaction",
}

// SmallTalk returns a canned reply when the whole message is a greeting,
// thanks, farewell or question about the assistant itself. A pleasantry
// followed by a real question ("thanks, what is BERT?") does not match.
func SmallTalk(message string) (string, bool) {
	words := normalize(message)
	if len(words) == 0 || len(words) > smallTalkMaxWords {
		return "", false
	}
	for _, p := range smallTalk {
		for _, phrase := range p.phrases {
			if onlyPhrase(words, strings.Fields(phrase)) {
				return p.reply, true
			}
		}
	}
	return "", false
}

// onlyPhrase reports whether words consist of phrase surrounded by filler.
func onlyPhrase(words, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(words); i++ {
		if slices.Equal(words[i:i+len(phrase)], phrase) &&
			allFiller(words[:i]) && allFiller(words[i+len(phrase):]) {
			return true
		}
	}
	return false
}

func allFiller(words []string) bool {
	for _, w := range words {
		if !filler[w] {
			return false
		}
	}
	return true
}

// RedFlag reports whether the message describes an emergency.
func RedFlag(message string) bool {
	text := strings.Join(normalize(message), " ")
	for _, rf := range redFlags {
		if containsWords(text, rf) {
			return true
		}
	}
	return false
}

// normalize lower-cases the message and splits it into words, dropping
// punctuation.
func normalize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasWordPrefix(text, phrase string) bool {
	return text == phrase || strings.HasPrefix(text, phrase+" ")
}

func containsWords(text, phrase string) bool {
	return hasWordPrefix(text, phrase) ||
		strings.HasSuffix(text, " "+phrase) ||
		strings.Contains(text, " "+phrase+" ")
}
