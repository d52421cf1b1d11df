package harness

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
)

// OriginalPostSystemPrompt frames original post generation.
const OriginalPostSystemPrompt = "You are a digital twin participating in social media discussions. " +
	"Your goal is to create authentic, natural posts that reflect your assigned persona and engage meaningfully with the community."

const (
	sentimentInstruction = "Analyze the sentiment of this text. Respond with just one word: positive, negative, or neutral."
	keywordsInstruction  = "Extract 3-5 main keywords from this text. Respond with just the keywords separated by commas."
)

// ReplyPrompt asks persona for a short in-character reply to post.
func ReplyPrompt(persona discourse.Persona, post discourse.Post, pc PostContext) string {
	author := pc.Author
	if author == "" {
		author = "unknown"
	}
	sentiment := pc.Sentiment
	if sentiment == "" {
		sentiment = SentimentNeutral
	}
	keywords := "none"
	if len(pc.Keywords) > 0 {
		keywords = strings.Join(pc.Keywords, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "As %s with the following persona: %s\n\n", persona.Username, persona.Voice)
	fmt.Fprintf(&b, "You are responding to this post:\n\"%s\"\n\n", post.Content)
	b.WriteString("Context:\n")
	fmt.Fprintf(&b, "- Post author: %s\n", author)
	fmt.Fprintf(&b, "- Sentiment: %s\n", sentiment)
	fmt.Fprintf(&b, "- Keywords: %s\n\n", keywords)
	b.WriteString("Generate a natural, contextually appropriate response that stays true to your persona.\n")
	b.WriteString("Keep the response concise (1-2 sentences) and engaging.")
	return b.String()
}

// OriginalPostPrompt asks persona for a new top-level post of roughly length.Target
// characters, grounded on recent community posts.
func OriginalPostPrompt(persona discourse.Persona, recent []discourse.Post, length LengthTarget) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, with the following persona:\n%s\n\n", persona.Username, persona.Voice)
	b.WriteString("Create a new post based on your persona. This should be an original thought, not a reply to anyone specific.\n\n")

	if len(recent) > 0 {
		b.WriteString("Recent posts in the community:\n")
		for i, post := range recent {
			fmt.Fprintf(&b, "%d. @%s: \"%s\"\n", i+1, post.Author.Username, post.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Instructions:\n")
	fmt.Fprintf(&b, "1. Your post should be approximately %d characters long (between %d-%d characters)\n", length.Target, length.Min, length.Max)
	b.WriteString("2. Write as your persona would write naturally\n")
	b.WriteString("3. Don't explicitly reference being an AI or digital twin\n")
	b.WriteString("4. You can reference recent community discussions if relevant\n")
	b.WriteString("5. Your post should feel authentic and natural\n")
	b.WriteString("6. Some posts should be very concise, others more detailed - vary your style\n")
	b.WriteString("7. Use natural language patterns that reflect how real people write social media posts\n")
	b.WriteString("8. If you decide to mention another user, use their username with an @ symbol immediately preceding it\n\n")
	b.WriteString("Output only the text of the post, with no additional commentary or explanation.")
	return b.String()
}
