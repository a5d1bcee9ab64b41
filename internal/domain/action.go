package domain

// ActionKind selects how the transport renders an Action.
type ActionKind string

const (
	ActionText         ActionKind = "text"
	ActionQuickReplies ActionKind = "quick_replies"
	ActionButtons      ActionKind = "buttons"
)

func (k ActionKind) String() string { return string(k) }

// Option is a tappable quick reply or postback button.
type Option struct {
	Title   string
	Payload string
}

// Action is an outbound message produced by the dialogue.
type Action struct {
	Kind      ActionKind
	Recipient string
	Text      string
	Options   []Option
}

func SendText(recipient, text string) Action {
	return Action{Kind: ActionText, Recipient: recipient, Text: text}
}

func SendQuickReplies(recipient, text string, options []Option) Action {
	return Action{Kind: ActionQuickReplies, Recipient: recipient, Text: text, Options: options}
}

func SendButtons(recipient, text string, options []Option) Action {
	return Action{Kind: ActionButtons, Recipient: recipient, Text: text, Options: options}
}
