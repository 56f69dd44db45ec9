package events

// IsAppMention reports whether ev is an app_mention.
func IsAppMention(ev Event) bool { return ev != nil && ev.Type() == TypeAppMention }

// IsMessage reports whether ev is a message.
func IsMessage(ev Event) bool { return ev != nil && ev.Type() == TypeMessage }

// IsReactionAdded reports whether ev is a reaction_added.
func IsReactionAdded(ev Event) bool { return ev != nil && ev.Type() == TypeReactionAdded }

// IsThreadReply reports whether ev was posted inside an existing thread.
// A thread's root message carries thread_ts equal to its own ts and is
// not a reply.
func IsThreadReply(ev Event) bool {
	switch e := ev.(type) {
	case *AppMentionEvent:
		return e.ThreadTS != "" && e.ThreadTS != e.TS
	case *MessageEvent:
		return e.ThreadTS != "" && e.ThreadTS != e.TS
	}
	return false
}

// IsFromAutomatedSender reports whether ev was posted by a bot.
func IsFromAutomatedSender(ev Event) bool {
	switch e := ev.(type) {
	case *AppMentionEvent:
		return e.BotID != ""
	case *MessageEvent:
		return e.BotID != ""
	}
	return false
}

// ThreadKey returns the ts identifying the thread ev belongs to: the
// parent ts for replies, the event's own ts otherwise.
func ThreadKey(ev Event) string {
	switch e := ev.(type) {
	case *AppMentionEvent:
		if e.ThreadTS != "" {
			return e.ThreadTS
		}
		return e.TS
	case *MessageEvent:
		if e.ThreadTS != "" {
			return e.ThreadTS
		}
		return e.TS
	case *ReactionAddedEvent:
		return e.Item.TS
	}
	return ""
}

// Channel returns the channel ev happened in.
func Channel(ev Event) string {
	switch e := ev.(type) {
	case *AppMentionEvent:
		return e.Channel
	case *MessageEvent:
		return e.Channel
	case *ReactionAddedEvent:
		return e.Item.Channel
	}
	return ""
}
