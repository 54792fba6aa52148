package decision

import (
	"fmt"

	"github.com/skyengage/skyengage/platform"
)

func postBlock(p platform.Post) string {
	return fmt.Sprintf("Author: @%s (%d followers)\nText: %s\nLikes: %d | Shares: %d",
		p.AuthorHandle, p.AuthorFollowers, p.Text, p.Likes, p.Shares)
}

func (e *Engine) engagementPrompt(p platform.Post) string {
	return fmt.Sprintf(`You are screening a social media post for the engagement account @%[1]s. Decide whether the account should engage with it at all.

POST:
%[2]s

MISSION: %[3]s

Engage when the post:
- is on one of our topics
- comes from a real person rather than spam or a bot
- shows genuine interest or concern, or shares useful information
- is written in English
- is not from @%[4]s (our own account)

Ignore trolling, inflammatory or low quality posts, spam, posts in other languages, off-topic posts and anything posted by @%[4]s.

Reply with a single JSON object:
{
  "should_engage": true or false,
  "sentiment": "positive" | "negative" | "neutral" | "unclear" | "news" | "advocacy",
  "reason": "short explanation"
}

Output only the JSON object.`, e.config.BotUsername, postBlock(p), e.config.Mission, e.config.BotHandle)
}

func (e *Engine) engagementTypePrompt(p platform.Post, sentiment Sentiment) string {
	return fmt.Sprintf(`We have already decided to engage with this social media post. Choose the best way to do it.

POST:
%[1]s
Sentiment: %[2]s

MISSION: %[3]s

OPTIONS:

"reshare": amplify the post by resharing it. Good for positive news, quality educational content, useful facts or statistics, influential voices, and people already pointing at %[4]s or similar resources.

"reply_casual": a conversational reply with no call to action. Good when the author is already taking action or organizing, is an advocacy account, or has a large audience where a direct ask would feel pushy.

"reply_with_cta": a reply that asks the author to act and points at our resource. Good for real people showing concern or interest who have not said they are already involved.

Prefer "reply_with_cta" for interested people who have not mentioned taking action. Use "reply_casual" only when they are clearly engaged already or are an influential or advocacy account.

Reply with a single JSON object:
{
  "action": "reshare" | "reply_casual" | "reply_with_cta",
  "reason": "why this is the best approach",
  "engagement_score": 1-10
}

Output only the JSON object.`, postBlock(p), sentiment, e.config.Mission, e.config.WebsiteURL)
}

func (e *Engine) responsePrompt(p platform.Post, action Action, maxChars int) string {
	if action == ActionReplyCasual {
		return fmt.Sprintf(`You are @%[1]s, a social engagement account.

THEIR POST:
@%[2]s: %[3]s

Write a short, authentic reply of at most %[4]d characters that responds to their point conversationally and shows support. Do not include a call to action or any link.

Tone: friendly, genuine, person to person, supportive. Not promotional. Avoid hashtags and emojis unless they used them.

Examples of the register:
"Totally agree. This needs a lot more attention."
"Really appreciate you speaking up about this."

Write only the reply text.`, e.config.BotUsername, p.AuthorHandle, p.Text, maxChars)
	}

	return fmt.Sprintf(`You are @%[1]s, a social engagement account.

THEIR POST:
@%[2]s: %[3]s

Write a short, authentic reply of at most %[4]d characters that acknowledges their concern, encourages them to take action, and includes this link: %[5]s

Tone: friendly rather than corporate, urgent but hopeful, person to person. Avoid hashtags and emojis unless they used them.

Examples of the register:
"I hear you. The good news is you can do something about it: %[5]s"
"You're right to be concerned. Here's how you can help: %[5]s"

Write only the reply text.`, e.config.BotUsername, p.AuthorHandle, p.Text, maxChars, e.config.WebsiteURL)
}
