package intake

import (
	"fmt"
	"strings"
)

// Messages is the fixed catalog of user-facing texts.
type Messages struct {
	Welcome             string
	WelcomeBack         string
	StartFlow           string
	AskName             string
	RetryName           string
	ThanksName          string // %s: name
	AskDocument         string
	RetryDocument       string
	RetryDocumentLength string
	AffiliationMenu     string
	AffiliationUnknown  string // %s: none label
	AffiliationSaved    string // %s: rendered affiliation
	AskReason           string
	RetryReason         string
	ReasonSaved         string
	AskConfirmation     string
	RetryConfirmation   string
	ConfirmedFinish     string
	RestartFlow         string
	AlreadyPending      string
	StorageError        string
	GenericError        string
}

// DefaultMessages builds the catalog for the given bot and organization names.
func DefaultMessages(botName, orgName string) Messages {
	return Messages{
		Welcome: fmt.Sprintf("*Welcome!* I'm %s, the assistant of %s.\n"+
			"Before we continue, I need to update your details.", botName, orgName),
		WelcomeBack:         fmt.Sprintf("*Hello again!* I'm %s, the assistant of %s.\nThese are the details I have on file:", botName, orgName),
		StartFlow:           "Hello. To help you we need some details. Please tell us your *full name*:",
		AskName:             "Please tell me your *full name*:",
		RetryName:           "I didn't catch your name. Please enter your *full name*:",
		ThanksName:          "Thanks, *%s*. Now please enter your *document number*:",
		AskDocument:         "Please tell me your *document number*:",
		RetryDocument:       "The document must contain only numbers. Please try again:",
		RetryDocumentLength: "That document number doesn't look right. Please check it and try again:",
		AffiliationMenu: "Now please enter 1, 2, 3 or a combination of them,\n" +
			"or 0 if you are not affiliated to any.",
		AffiliationUnknown: "I couldn't recognize the affiliation, it will be recorded as '%s'.",
		AffiliationSaved:   "I recorded your affiliation: %s",
		AskReason:          "Please tell me the reason for your inquiry:",
		RetryReason:        "Please briefly tell me the *reason for your inquiry*:",
		ReasonSaved:        "✅ *Thank you.* The reason for your inquiry has been recorded. A representative will contact you shortly.",
		AskConfirmation:    "Are these details correct? (yes/no)",
		RetryConfirmation:  "Please answer *yes* or *no*: are these details correct?",
		ConfirmedFinish:    "✅ *Thank you.* Your details are confirmed. A representative will contact you shortly.",
		RestartFlow:        "No problem, let's update them.",
		AlreadyPending: "We have already recorded your details. Please wait for a representative to reply. " +
			"If you need to start a new inquiry, wait a few minutes and try again.",
		StorageError: "Sorry, an internal error occurred. Please try again later.",
		GenericError: "Sorry, an error occurred while processing your message.",
	}
}

// summary renders the stored profile for confirmation.
func (m Messages) summary(name, document, affiliation string) string {
	var b strings.Builder
	b.WriteString(m.WelcomeBack)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "- *Name:* %s\n", name)
	fmt.Fprintf(&b, "- *Document:* %s\n", document)
	fmt.Fprintf(&b, "- *Affiliation:* %s\n\n", affiliation)
	b.WriteString(m.AskConfirmation)
	return b.String()
}

// affiliationMenu appends the numbered options using the configured labels.
func (m Messages) affiliationMenu(l AffiliationLabels) string {
	return fmt.Sprintf("%s\n\n1 - %s\n2 - %s\n3 - %s\n0 - %s",
		m.AffiliationMenu, l.Union, l.HealthPlan, l.Mutual, l.None)
}
