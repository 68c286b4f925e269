package chatbot

import (
	"fmt"
	"strings"

	"planpal/api/internal/store"
)

// GroupContext is everything the prompt knows about the group. Gathering it
// is best effort: any piece that cannot be loaded degrades to the zero state
// rather than failing the query.
type GroupContext struct {
	Group  GroupInfo
	Events []store.Event
	Polls  []store.Poll
}

type GroupInfo struct {
	Name        string
	Description string
	Type        string
	MemberCount int
}

func fallbackContext() GroupContext {
	return GroupContext{
		Group: GroupInfo{
			Name:        "Unknown Group",
			Description: "No description",
			Type:        "personal",
		},
	}
}

// Canned replies for the failure modes the upstream call can hit. The
// pipeline returns these as the bot's answer instead of surfacing an error.
const (
	replyNotConfigured = "Sorry, the chatbot is not configured yet. Please ask your administrator to add the GEMINI_API_KEY to the .env file. Get your key from: https://aistudio.google.com/app/apikey"
	replyBadAPIKey     = "There is an issue with the API key configuration. Please verify your GEMINI_API_KEY is correct."
	replyQuota         = "The API quota has been exceeded. Please try again later or upgrade your API plan."
)

func replyGenericFailure(err error) string {
	return fmt.Sprintf("I'm having trouble responding right now. Error: %s. Please try again in a moment!", err)
}

// buildPrompt renders the system prompt: group facts, upcoming events,
// active polls, then the user's query with scope restrictions.
func buildPrompt(gc GroupContext, userMessage string) string {
	var b strings.Builder

	b.WriteString("You are an AI assistant for a group planning app called PlanPal.\n")
	b.WriteString("You help groups plan outings, create events, manage polls, and suggest activities.\n\n")

	description := gc.Group.Description
	if description == "" {
		description = "No description"
	}
	fmt.Fprintf(&b, "**Group Information:**\n- Group Name: %s\n- Description: %s\n- Type: %s\n- Members: %d\n\n",
		gc.Group.Name, description, gc.Group.Type, gc.Group.MemberCount)

	b.WriteString("**Current Events:**\n")
	if len(gc.Events) == 0 {
		b.WriteString("No upcoming events\n")
	}
	for _, event := range gc.Events {
		when := "TBD"
		if event.DateTime != nil {
			when = event.DateTime.Format("1/2/2006")
		}
		description := event.Description
		if description == "" {
			description = "No description"
		}
		fmt.Fprintf(&b, "- %s on %s: %s\n", event.Title, when, description)
	}

	b.WriteString("\n**Active Polls:**\n")
	if len(gc.Polls) == 0 {
		b.WriteString("No active polls\n")
	}
	for _, poll := range gc.Polls {
		fmt.Fprintf(&b, "- %s (%d options)\n", poll.Question, len(poll.Options))
	}

	b.WriteString(`
**Your Capabilities:**
1. Answer questions about events, polls, and group activities
2. Suggest movies based on mood and preferences (action, thriller, comedy, family, sci-fi)
3. Suggest places to visit (restaurants, cafes, parks, etc.)
4. Help create event ideas
5. Help create poll questions
6. Provide information about group members and activities

**Restrictions:**
- ONLY respond to queries related to group planning, events, polls, movies, places, and activities
- Do NOT answer general knowledge questions unrelated to the group
- Do NOT engage in off-topic conversations
- If asked something unrelated, politely redirect to group-related topics

**User Query:**
`)
	b.WriteString(userMessage)
	b.WriteString(`

**Response Guidelines:**
- Be concise and helpful (max 200 words)
- If suggesting movies, mention 2-3 specific titles with brief descriptions
- If suggesting places, describe the type of venue
- If user wants to create something (event/poll), provide step-by-step guidance
- Always stay within the scope of group planning and activities`)

	return b.String()
}
